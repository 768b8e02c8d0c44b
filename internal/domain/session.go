// Package domain contains session entities without logic, just meta-data
package domain

type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateActive
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the read-only view the presentation layer renders.
type Status struct {
	State             string `json:"state"`
	IsActive          bool   `json:"is_active"`
	IsConnecting      bool   `json:"is_connecting"`
	HasError          bool   `json:"has_error"`
	HasActiveResponse bool   `json:"has_active_response"`
	Attempts          int    `json:"attempts"`
	LastError         string `json:"last_error,omitempty"`
}

// NewStatus avoids ad-hoc struct literals in the orchestrator.
func NewStatus(state ConnectionState, activeResponse bool, attempts int, lastErr error) Status {
	st := Status{
		State:             state.String(),
		IsActive:          state == StateActive,
		IsConnecting:      state == StateConnecting,
		HasError:          state == StateError,
		HasActiveResponse: activeResponse,
		Attempts:          attempts,
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}
