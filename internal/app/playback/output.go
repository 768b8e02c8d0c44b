package playback

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type OutputState int32

const (
	OutputStateOk OutputState = iota
	OutputStateMuted
	OutputStateDelete
)

// PacketWriter is satisfied by *oggwriter.OggWriter.
type PacketWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Output is a single destination for remote audio packets.
type Output struct {
	Name   string
	Writer PacketWriter
	state  atomic.Int32 // Zero by default (OutputStateOk)
}

func NewOutput(name string, w PacketWriter) *Output {
	return &Output{Name: name, Writer: w}
}

func (o *Output) GetState() OutputState {
	return OutputState(o.state.Load())
}

// MarkOk resumes a muted output. A deleted output stays deleted.
func (o *Output) MarkOk() {
	o.state.CompareAndSwap(int32(OutputStateMuted), int32(OutputStateOk))
}

func (o *Output) MarkMuted() {
	o.state.CompareAndSwap(int32(OutputStateOk), int32(OutputStateMuted))
}

func (o *Output) MarkDelete() {
	o.state.Store(int32(OutputStateDelete))
}

// Counter is a PacketWriter that only tallies what it receives.
type Counter struct {
	packets atomic.Int64
	bytes   atomic.Int64
}

func (c *Counter) WriteRTP(pkt *rtp.Packet) error {
	c.packets.Add(1)
	c.bytes.Add(int64(len(pkt.Payload)))
	return nil
}

func (c *Counter) Close() error { return nil }

func (c *Counter) Packets() int64 { return c.packets.Load() }
func (c *Counter) Bytes() int64   { return c.bytes.Load() }
