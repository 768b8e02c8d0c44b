package negotiate

import "fmt"

type Stage string

const (
	StageCredential Stage = "credential"
	StageTransport  Stage = "transport"
	StageMedia      Stage = "media"
	StageChannel    Stage = "channel"
	StageOffer      Stage = "offer"
	StageExchange   Stage = "exchange"
	StageAnswer     Stage = "answer"
)

// Error is a handshake failure. It is fatal to the current attempt.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(stage Stage, err error) *Error {
	return &Error{Stage: stage, Err: err}
}
