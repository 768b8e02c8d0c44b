package orch

import (
	"errors"
	"fmt"
)

// ErrSuperseded is returned by Start when Stop or another Start ran while
// the negotiation was in flight. Resources it produced are released.
var ErrSuperseded = errors.New("session superseded before negotiation finished")

// ChannelFault is a transport-level close or error. It requires a
// user-initiated restart.
type ChannelFault struct {
	Reason string
	Err    error
}

func (e *ChannelFault) Error() string {
	if e.Err == nil {
		return "channel fault: " + e.Reason
	}
	return fmt.Sprintf("channel fault: %s: %v", e.Reason, e.Err)
}

func (e *ChannelFault) Unwrap() error { return e.Err }
