package hub

import "github.com/dkeye/VoiceGuide/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickClient
)

// Policy decides what happens to a client whose send buffer is full.
// drops is the number of consecutive frames that client has missed.
type Policy interface {
	OnBackPressure(id core.ClientID, drops int) BackpressureAction
}

// SimplePolicy drops frames until MaxDrops is reached, then kicks.
// A zero MaxDrops kicks on the first full buffer.
type SimplePolicy struct {
	MaxDrops int
}

func (p SimplePolicy) OnBackPressure(_ core.ClientID, drops int) BackpressureAction {
	if drops > p.MaxDrops {
		return KickClient
	}
	return DropFrame
}
