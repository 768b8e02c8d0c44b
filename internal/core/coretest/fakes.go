// Package coretest provides in-memory fakes of the core capability
// interfaces for tests that must run without network or audio hardware.
package coretest

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/pion/webrtc/v4"
)

var ErrChannelClosed = errors.New("channel not open")

// Channel records every frame sent while open.
type Channel struct {
	mu      sync.Mutex
	label   string
	open    bool
	sent    []string
	closed  int
	SendErr error
	Events  core.ChannelEvents
}

func NewChannel(label string, events core.ChannelEvents) *Channel {
	return &Channel{label: label, Events: events}
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Channel) SendText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrChannelClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, s)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed++
	return nil
}

// Open marks the channel open and fires OnOpen.
func (c *Channel) Open() {
	c.mu.Lock()
	c.open = true
	ev := c.Events
	c.mu.Unlock()
	if ev != nil {
		ev.OnOpen()
	}
}

// Deliver simulates an inbound frame.
func (c *Channel) Deliver(frame string) {
	c.Events.OnMessage([]byte(frame))
}

// Drop simulates a remote close.
func (c *Channel) Drop() {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.Events.OnClose()
}

func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Channel) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Track is a LocalTrack that counts Stop calls.
type Track struct {
	mu      sync.Mutex
	id      string
	stops   int
	StopErr error
}

func NewTrack(id string) *Track { return &Track{id: id} }

func (t *Track) ID() string                    { return t.id }
func (t *Track) TrackLocal() webrtc.TrackLocal { return nil }

func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return t.StopErr
}

func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Transport is a PeerTransport whose behaviour is driven by fields.
type Transport struct {
	mu sync.Mutex

	Answer     string
	OfferErr   error
	AnswerErr  error
	ChannelErr error
	CloseErr   error
	AttachErr  error

	Channel *Channel
	tracks  []core.LocalTrack
	onTrack func(ctx context.Context, track core.RemoteTrack)
	closed  int
}

func (t *Transport) AttachTrack(tr core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.AttachErr != nil {
		return t.AttachErr
	}
	t.tracks = append(t.tracks, tr)
	return nil
}

func (t *Transport) OpenChannel(label string, events core.ChannelEvents) (core.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ChannelErr != nil {
		return nil, t.ChannelErr
	}
	t.Channel = NewChannel(label, events)
	return t.Channel, nil
}

func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	if t.OfferErr != nil {
		return "", t.OfferErr
	}
	return "v=0\r\no=- offer\r\n", nil
}

func (t *Transport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Answer = sdp
	return t.AnswerErr
}

func (t *Transport) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrack = fn
}

// EmitTrack simulates a remote track arriving.
func (t *Transport) EmitTrack(ctx context.Context, track core.RemoteTrack) {
	t.mu.Lock()
	fn := t.onTrack
	t.mu.Unlock()
	if fn != nil {
		fn(ctx, track)
	}
}

func (t *Transport) StopTracks() error {
	t.mu.Lock()
	tracks := append([]core.LocalTrack(nil), t.tracks...)
	t.mu.Unlock()
	var errs []error
	for _, tr := range tracks {
		if err := tr.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return t.CloseErr
}

func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Sink is an AudioSink that records attached tracks.
type Sink struct {
	mu       sync.Mutex
	attached []string
	closed   int
}

func (s *Sink) Attach(_ context.Context, track core.RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, track.ID())
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *Sink) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attached...)
}

func (s *Sink) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
