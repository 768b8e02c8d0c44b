package core

// Frame is a raw text payload sent to a presentation client.
type Frame []byte

// ClientID identifies one presentation client (browser tab, CLI).
type ClientID string

// SignalConnection abstracts for a presentation messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
