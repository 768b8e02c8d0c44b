package core

// Channel is the bidirectional message conduit layered over the transport.
type Channel interface {
	Label() string
	IsOpen() bool
	SendText(string) error
	Close() error
}

// ChannelEvents receives channel lifecycle and inbound messages.
// Implementations must tolerate calls from transport-owned goroutines.
type ChannelEvents interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose()
	OnError(err error)
}
