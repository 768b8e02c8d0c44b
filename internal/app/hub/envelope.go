package hub

import (
	"encoding/json"

	"github.com/dkeye/VoiceGuide/internal/domain"
)

// Outbound envelope types.
const (
	TypeStatus      = "status"
	TypeServerEvent = "server_event"
	TypeAudit       = "audit"
	TypePong        = "pong"
	TypeError       = "error"
)

// Envelope is the single outbound message shape for presentation clients.
type Envelope struct {
	Type   string              `json:"type"`
	Status *domain.Status      `json:"status,omitempty"`
	Event  json.RawMessage     `json:"event,omitempty"`
	Audit  []domain.AuditEntry `json:"audit,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func StatusEnvelope(st domain.Status) Envelope {
	return Envelope{Type: TypeStatus, Status: &st}
}

func AuditEnvelope(entries []domain.AuditEntry) Envelope {
	return Envelope{Type: TypeAudit, Audit: entries}
}

func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Error: msg}
}
