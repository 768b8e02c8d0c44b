package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMissingType = errors.New("missing event type")

const (
	CodeActiveResponse = "conversation_already_has_active_response"
	CodeInvalidValue   = "invalid_value"
)

// DecodeError reports a malformed inbound frame. It is never fatal.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PeerConflictError means the peer already considers a response open.
type PeerConflictError struct {
	Detail ErrorDetail
}

func (e *PeerConflictError) Error() string {
	return "peer reports active response: " + e.Detail.Message
}

// RecoverableParameterError means the peer rejected a content parameter.
type RecoverableParameterError struct {
	Detail ErrorDetail
	// Heuristic is set when the match came from the message text
	// rather than the structured param field.
	Heuristic bool
}

func (e *RecoverableParameterError) Error() string {
	return fmt.Sprintf("peer rejected parameter %q: %s", e.Detail.Param, e.Detail.Message)
}

// RemoteError is any other error event reported by the peer.
type RemoteError struct {
	Detail ErrorDetail
}

func (e *RemoteError) Error() string {
	if e.Detail.Code == "" {
		return "remote error: " + e.Detail.Message
	}
	return fmt.Sprintf("remote error %s: %s", e.Detail.Code, e.Detail.Message)
}

// Classify maps an inbound error payload onto the client's error taxonomy.
// A nil detail classifies as a RemoteError with no code.
func Classify(d *ErrorDetail) error {
	if d == nil {
		return &RemoteError{}
	}
	switch {
	case d.Code == CodeActiveResponse:
		return &PeerConflictError{Detail: *d}
	case d.Code == CodeInvalidValue && strings.Contains(d.Param, "type"):
		return &RecoverableParameterError{Detail: *d}
	case d.Code == CodeInvalidValue && d.Param != "" && strings.Contains(d.Message, "must be 'input_text'"):
		return &RecoverableParameterError{Detail: *d, Heuristic: true}
	default:
		return &RemoteError{Detail: *d}
	}
}
