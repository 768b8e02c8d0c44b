package domain

import "time"

type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategorySent      Category = "sent"
	CategoryReceived  Category = "received"
	CategoryConfig    Category = "config"
	CategoryIgnored   Category = "ignored"
	CategoryRecovery  Category = "recovery"
	CategoryError     Category = "error"
)

// AuditEntry is one diagnostic record. No transport or lifecycle logic here.
type AuditEntry struct {
	Time     time.Time `json:"time"`
	Category Category  `json:"category"`
	Summary  string    `json:"summary"`
}
