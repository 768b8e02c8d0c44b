// Package activity guards against concurrent duplicate response requests.
package activity

import "sync/atomic"

// Tracker records whether a response is pending from the local client's
// point of view. The remote peer is authoritative on conflict.
type Tracker struct {
	active atomic.Bool
}

// TryActivate marks a response as pending. It returns false, with no side
// effect, when one is already pending.
func (t *Tracker) TryActivate() bool {
	return t.active.CompareAndSwap(false, true)
}

func (t *Tracker) Deactivate() {
	t.active.Store(false)
}

// ForceActivate converges on the peer's view that a response is open.
func (t *Tracker) ForceActivate() {
	t.active.Store(true)
}

func (t *Tracker) Active() bool {
	return t.active.Load()
}
