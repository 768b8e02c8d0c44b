package orch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceGuide/internal/app/audit"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/core/coretest"
	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/protocol"
	"github.com/stretchr/testify/require"
)

// manualScheduler queues continuations until the test runs them.
type manualScheduler struct {
	mu    sync.Mutex
	queue []*pending
}

type pending struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (m *manualScheduler) After(d time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &pending{delay: d, fn: fn}
	m.queue = append(m.queue, p)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		p.cancelled = true
	}
}

// Step runs the oldest live continuation. It reports whether one ran.
func (m *manualScheduler) Step() bool {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return false
		}
		p := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		if p.cancelled {
			continue
		}
		p.fn()
		return true
	}
}

// Flush runs continuations, including ones they schedule, until none remain.
func (m *manualScheduler) Flush() int {
	n := 0
	for m.Step() {
		n++
	}
	return n
}

func (m *manualScheduler) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.queue {
		if !p.cancelled {
			n++
		}
	}
	return n
}

// fakeNegotiator builds links out of coretest fakes.
type fakeNegotiator struct {
	mu         sync.Mutex
	calls      int
	transports []*coretest.Transport
	tracks     []*coretest.Track
	sinks      []*coretest.Sink

	// negotiateFn, when set, replaces the default successful handshake.
	negotiateFn func(ctx context.Context, events core.ChannelEvents) (*core.Link, error)
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, events core.ChannelEvents) (*core.Link, error) {
	f.mu.Lock()
	f.calls++
	fn := f.negotiateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, events)
	}
	return f.build(events), nil
}

func (f *fakeNegotiator) build(events core.ChannelEvents) *core.Link {
	tr := &coretest.Transport{}
	track := coretest.NewTrack("mic")
	sink := &coretest.Sink{}
	_ = tr.AttachTrack(track)
	ch, _ := tr.OpenChannel("oai-events", events)

	f.mu.Lock()
	f.transports = append(f.transports, tr)
	f.tracks = append(f.tracks, track)
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
	return &core.Link{Transport: tr, Channel: ch, Track: track, Sink: sink}
}

func (f *fakeNegotiator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeNegotiator) lastTransport(t *testing.T) *coretest.Transport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.transports)
	return f.transports[len(f.transports)-1]
}

func (f *fakeNegotiator) lastChannel(t *testing.T) *coretest.Channel {
	t.Helper()
	return f.lastTransport(t).Channel
}

// recordingObserver captures everything the presentation layer would see.
type recordingObserver struct {
	mu       sync.Mutex
	statuses []domain.Status
	events   []protocol.Event
}

func (r *recordingObserver) OnStatus(st domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recordingObserver) OnServerEvent(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

func (r *recordingObserver) Statuses() []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Status(nil), r.statuses...)
}

func newTestSession(t *testing.T) (*Session, *fakeNegotiator, *manualScheduler) {
	t.Helper()
	neg := &fakeNegotiator{}
	sched := &manualScheduler{}
	s := New(neg, audit.New(0), DefaultOptions())
	s.SetScheduler(sched)
	return s, neg, sched
}

// startActive starts a session, opens its channel and runs the full
// configuration sequence.
func startActive(t *testing.T, s *Session, neg *fakeNegotiator, sched *manualScheduler) *coretest.Channel {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	ch := neg.lastChannel(t)
	ch.Open()
	sched.Flush()
	require.Equal(t, domain.StateActive, s.State())
	return ch
}

func frameTypes(t *testing.T, frames []string) []string {
	t.Helper()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		var ev protocol.Event
		require.NoError(t, json.Unmarshal([]byte(f), &ev))
		out = append(out, ev.Type)
	}
	return out
}

func countType(t *testing.T, frames []string, typ string) int {
	t.Helper()
	n := 0
	for _, ft := range frameTypes(t, frames) {
		if ft == typ {
			n++
		}
	}
	return n
}

func auditContains(s *Session, substr string) bool {
	for _, e := range s.Audit() {
		if strings.Contains(e.Summary, substr) {
			return true
		}
	}
	return false
}
