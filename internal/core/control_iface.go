package core

import (
	"context"

	"github.com/dkeye/VoiceGuide/internal/domain"
)

// SessionControl is what the presentation boundary may do with a session.
type SessionControl interface {
	Start(ctx context.Context) error
	Stop(clearAudit bool)
	Status() domain.Status
	Audit() []domain.AuditEntry
}
