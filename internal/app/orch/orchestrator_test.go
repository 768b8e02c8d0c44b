package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceGuide/internal/app/negotiate"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/core/coretest"
	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStartIgnoredWhileConnecting(t *testing.T) {
	s, neg, _ := newTestSession(t)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, domain.StateConnecting, s.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(context.Background()))
	}
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 1, neg.Calls())
	assert.True(t, auditContains(s, "IGNORED: Duplicate connection request while connecting"))
}

func TestStartIgnoredWhileActive(t *testing.T) {
	s, neg, sched := newTestSession(t)
	startActive(t, s, neg, sched)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, s.Attempts())
	assert.Equal(t, 1, neg.Calls())
	assert.True(t, s.IsActive())
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	s, _, _ := newTestSession(t)
	assert.NotPanics(t, func() {
		s.Stop(false)
		s.Stop(true)
		s.Stop(true)
	})
	assert.False(t, s.HasLink())
	assert.False(t, s.HasActiveResponse())
	assert.Equal(t, domain.StateIdle, s.State())
}

func TestStopReleasesEveryResourceOnce(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)
	require.True(t, s.HasActiveResponse())

	s.Stop(false)
	s.Stop(false)

	assert.False(t, s.HasLink())
	assert.False(t, s.HasActiveResponse())
	assert.Equal(t, domain.StateIdle, s.State())
	assert.Equal(t, 1, ch.CloseCount())
	assert.Equal(t, 1, neg.lastTransport(t).CloseCount())
	assert.GreaterOrEqual(t, neg.tracks[0].Stops(), 1)
	assert.Equal(t, 1, neg.sinks[0].CloseCount())
}

func TestTeardownContinuesAfterFailedStep(t *testing.T) {
	s, neg, sched := newTestSession(t)
	startActive(t, s, neg, sched)
	tr := neg.lastTransport(t)
	tr.CloseErr = errors.New("close failed")
	neg.tracks[0].StopErr = errors.New("device busy")

	s.Stop(false)

	assert.Equal(t, 1, tr.CloseCount())
	assert.Equal(t, 1, neg.sinks[0].CloseCount())
	assert.True(t, auditContains(s, "CLEANUP ERROR (transport)"))
	assert.True(t, auditContains(s, "CLEANUP ERROR (track)"))
}

type panickingSink struct{ coretest.Sink }

func (p *panickingSink) Close() error { panic("sink exploded") }

func TestTeardownSurvivesPanic(t *testing.T) {
	s, neg, _ := newTestSession(t)
	neg.negotiateFn = func(_ context.Context, events core.ChannelEvents) (*core.Link, error) {
		link := neg.build(events)
		link.Sink = &panickingSink{}
		return link, nil
	}
	require.NoError(t, s.Start(context.Background()))

	assert.NotPanics(t, func() { s.Stop(false) })
	assert.Equal(t, 1, neg.lastTransport(t).CloseCount())
	assert.True(t, auditContains(s, "CLEANUP ERROR (sink)"))
}

func TestOpenRunsStagedConfigurationInOrder(t *testing.T) {
	s, neg, sched := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))
	ch := neg.lastChannel(t)
	ch.Open()

	assert.True(t, s.IsActive())
	assert.Empty(t, ch.Sent(), "nothing is sent before the first stage delay")

	require.True(t, sched.Step())
	assert.Equal(t, []string{"session.update"}, frameTypes(t, ch.Sent()))

	require.True(t, sched.Step())
	assert.Equal(t, []string{"session.update", "conversation.item.create"}, frameTypes(t, ch.Sent()))

	require.True(t, sched.Step())
	assert.Equal(t, []string{"session.update", "conversation.item.create", "response.create"}, frameTypes(t, ch.Sent()))

	assert.False(t, sched.Step())
	assert.True(t, s.HasActiveResponse())
	assert.Contains(t, ch.Sent()[1], `"role":"system"`)
	assert.Contains(t, ch.Sent()[0], `"silence_duration_ms":2000`)
	assert.NotContains(t, ch.Sent()[2], "timestamp")
}

func TestStageDelaysAreConfigured(t *testing.T) {
	s, neg, sched := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))
	neg.lastChannel(t).Open()

	sched.mu.Lock()
	require.Len(t, sched.queue, 1)
	assert.Equal(t, 300*time.Millisecond, sched.queue[0].delay)
	sched.mu.Unlock()
}

func TestStageSkippedWhenChannelClosedMeanwhile(t *testing.T) {
	s, neg, sched := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))
	ch := neg.lastChannel(t)
	ch.Open()
	ch.Drop()

	sched.Flush()
	assert.Empty(t, ch.Sent())
	assert.Equal(t, domain.StateError, s.State())
	var fault *ChannelFault
	assert.ErrorAs(t, s.LastError(), &fault)
}

func TestResponseDoneClearsActivityWithoutNewResponse(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)
	before := len(ch.Sent())

	ch.Deliver(`{"type":"response.done","event_id":"evt_1"}`)
	sched.Flush()

	assert.False(t, s.HasActiveResponse())
	assert.Len(t, ch.Sent(), before)
	assert.Equal(t, 1, countType(t, ch.Sent(), "response.create"))
}

func TestPeerConflictForcesActiveResponse(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)
	ch.Deliver(`{"type":"response.done"}`)
	require.False(t, s.HasActiveResponse())

	ch.Deliver(`{"type":"error","error":{"code":"conversation_already_has_active_response","message":"busy"}}`)

	assert.True(t, s.HasActiveResponse())
	assert.Equal(t, domain.StateActive, s.State())
	assert.False(t, s.HasError())
}

func TestRecoverableParameterErrorSendsOneRecoveryItem(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)
	ch.Deliver(`{"type":"response.done"}`)
	before := len(ch.Sent())

	ch.Deliver(`{"type":"error","error":{"code":"invalid_value","param":"item.content[0].type","message":"Invalid value"}}`)
	assert.Equal(t, domain.StateActive, s.State())
	assert.Len(t, ch.Sent(), before, "recovery waits for its delay")

	sched.Flush()

	after := ch.Sent()[before:]
	assert.Equal(t, 1, countType(t, after, "conversation.item.create"))
	assert.Equal(t, []string{"conversation.item.create", "response.create"}, frameTypes(t, after))
	assert.Equal(t, domain.StateActive, s.State())
	assert.True(t, auditContains(s, "Attempting session recovery..."))
}

func TestRecoveryDelayIsConfigured(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Deliver(`{"type":"error","error":{"code":"invalid_value","param":"item.type","message":"x"}}`)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	require.NotEmpty(t, sched.queue)
	assert.Equal(t, 500*time.Millisecond, sched.queue[len(sched.queue)-1].delay)
}

func TestRecoverySkipsResponseWhenPeerReportsActive(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)
	before := len(ch.Sent())

	ch.Deliver(`{"type":"error","error":{"code":"invalid_value","param":"item.content[0].type"}}`)
	require.True(t, sched.Step()) // recovery: system item sent, tracker reset
	ch.Deliver(`{"type":"error","error":{"code":"conversation_already_has_active_response"}}`)
	sched.Flush()

	after := ch.Sent()[before:]
	assert.Equal(t, []string{"conversation.item.create"}, frameTypes(t, after))
	assert.True(t, s.HasActiveResponse())
	assert.True(t, auditContains(s, "skipping creation during recovery"))
}

func TestRecoveryFailingToTransmitIsFatal(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Deliver(`{"type":"error","error":{"code":"invalid_value","param":"item.content[0].type"}}`)
	ch.SendErr = errors.New("sctp buffer full")
	sched.Flush()

	assert.Equal(t, domain.StateError, s.State())
	var rp *protocol.RecoverableParameterError
	require.ErrorAs(t, s.LastError(), &rp)
	assert.True(t, auditContains(s, "SEND ERROR: sctp buffer full"))
}

func TestOtherRemoteErrorSetsErrorState(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Deliver(`{"type":"error","error":{"code":"server_error","message":"internal"}}`)

	assert.True(t, s.HasError())
	assert.Contains(t, s.LastError().Error(), "server_error")
	assert.True(t, auditContains(s, "SERVER ERROR:"))
	assert.True(t, auditContains(s, "ERROR MESSAGE: internal"))
}

func TestDecodeErrorIsNonFatal(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Deliver(`{"type":`)

	assert.Equal(t, domain.StateActive, s.State())
	assert.True(t, auditContains(s, "PARSE ERROR"))
}

func TestChannelCloseDoesNotRetry(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Drop()
	sched.Flush()

	assert.Equal(t, domain.StateError, s.State())
	assert.Equal(t, 1, neg.Calls())
	assert.True(t, auditContains(s, "DISCONNECTED"))
}

func TestChannelCloseReleasesLink(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Drop()

	assert.False(t, s.HasLink())
	assert.Zero(t, sched.Live())
	assert.Equal(t, 1, neg.lastTransport(t).CloseCount())
	assert.Equal(t, 1, neg.tracks[0].Stops())
	assert.Equal(t, 1, neg.sinks[0].CloseCount())
	assert.Zero(t, ch.CloseCount(), "closed channel is not closed again")

	// pion reports the channel again once the transport is gone.
	entries := len(s.Audit())
	ch.Events.OnClose()
	ch.Events.OnError(errors.New("transport closed"))
	assert.Len(t, s.Audit(), entries)
	var fault *ChannelFault
	require.ErrorAs(t, s.LastError(), &fault)
	assert.Equal(t, "closed", fault.Reason)
}

func TestChannelErrorReleasesLink(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Events.OnError(errors.New("sctp abort"))

	assert.False(t, s.HasLink())
	assert.Zero(t, sched.Live())
	assert.Equal(t, 1, ch.CloseCount())
	assert.Equal(t, 1, neg.lastTransport(t).CloseCount())
	assert.Equal(t, 1, neg.tracks[0].Stops())
	assert.Equal(t, 1, neg.sinks[0].CloseCount())
	assert.False(t, s.HasActiveResponse())

	sched.Flush()
	assert.True(t, s.HasError())
}

func TestChannelErrorSetsErrorState(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)

	ch.Events.OnError(errors.New("sctp abort"))

	assert.True(t, s.HasError())
	var fault *ChannelFault
	require.ErrorAs(t, s.LastError(), &fault)
	assert.Equal(t, "error", fault.Reason)
}

func TestRestartAfterError(t *testing.T) {
	s, neg, sched := newTestSession(t)
	first := startActive(t, s, neg, sched)
	first.Drop()
	require.True(t, s.HasError())
	require.Equal(t, 1, neg.transports[0].CloseCount(), "faulted transport released at once")

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, s.Attempts())
	assert.Equal(t, 1, neg.transports[0].CloseCount(), "released only once")

	// Late events from the first channel are ignored.
	first.Events.OnOpen()
	assert.Equal(t, domain.StateConnecting, s.State())
}

func TestNegotiationFailureTearsDownPartialResources(t *testing.T) {
	s, neg, _ := newTestSession(t)
	partial := &coretest.Transport{}
	neg.negotiateFn = func(context.Context, core.ChannelEvents) (*core.Link, error) {
		return &core.Link{Transport: partial}, &negotiate.Error{Stage: negotiate.StageMedia, Err: errors.New("permission denied")}
	}

	err := s.Start(context.Background())

	var nerr *negotiate.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, negotiate.StageMedia, nerr.Stage)
	assert.Equal(t, domain.StateError, s.State())
	assert.False(t, s.IsConnecting())
	assert.False(t, s.HasLink())
	assert.Equal(t, 1, partial.CloseCount())
	assert.True(t, auditContains(s, "SETUP ERROR"))
	assert.True(t, auditContains(s, "STARTING"), "diagnostics survive the failure teardown")
}

func TestStopDuringNegotiationReleasesLateResources(t *testing.T) {
	s, neg, sched := newTestSession(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	neg.negotiateFn = func(_ context.Context, events core.ChannelEvents) (*core.Link, error) {
		close(entered)
		<-release
		return neg.build(events), nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	<-entered
	s.Stop(false)
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, domain.StateIdle, s.State())
	assert.False(t, s.HasLink())
	assert.Equal(t, 1, neg.lastTransport(t).CloseCount())

	// The stale channel cannot resurrect the session.
	ch := neg.lastChannel(t)
	ch.Open()
	sched.Flush()
	assert.Equal(t, domain.StateIdle, s.State())
	assert.Empty(t, ch.Sent())
}

func TestStopCancelsPendingStages(t *testing.T) {
	s, neg, sched := newTestSession(t)
	require.NoError(t, s.Start(context.Background()))
	ch := neg.lastChannel(t)
	ch.Open()
	require.Equal(t, 1, sched.Live())

	s.Stop(false)

	assert.Zero(t, sched.Live())
	sched.Flush()
	assert.Empty(t, ch.Sent())
}

func TestOpenBeforeAdoptionIsReplayed(t *testing.T) {
	s, neg, sched := newTestSession(t)
	neg.negotiateFn = func(_ context.Context, events core.ChannelEvents) (*core.Link, error) {
		link := neg.build(events)
		link.Channel.(*coretest.Channel).Open()
		return link, nil
	}

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, domain.StateActive, s.State())

	sched.Flush()
	assert.Equal(t, []string{"session.update", "conversation.item.create", "response.create"},
		frameTypes(t, neg.lastChannel(t).Sent()))
}

func TestCloseBeforeAdoptionIsNotReplayedAsOpen(t *testing.T) {
	s, neg, sched := newTestSession(t)
	neg.negotiateFn = func(_ context.Context, events core.ChannelEvents) (*core.Link, error) {
		link := neg.build(events)
		ch := link.Channel.(*coretest.Channel)
		ch.Open()
		ch.Drop()
		return link, nil
	}

	err := s.Start(context.Background())
	var fault *ChannelFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "closed", fault.Reason)
	assert.Equal(t, domain.StateError, s.State())
	assert.False(t, s.HasLink())
	assert.False(t, auditContains(s, "Data channel opened"))

	sched.Flush()
	assert.Empty(t, neg.lastChannel(t).Sent())
	assert.Equal(t, 1, neg.lastTransport(t).CloseCount())
	assert.Equal(t, 1, neg.sinks[0].CloseCount())
}

func TestAuditSurvivesRecoveryAndClearsOnExplicitStop(t *testing.T) {
	s, neg, sched := newTestSession(t)
	ch := startActive(t, s, neg, sched)
	ch.Deliver(`{"type":"error","error":{"code":"invalid_value","param":"item.content[0].type"}}`)
	sched.Flush()
	require.True(t, auditContains(s, "CONNECTED"))

	s.Stop(false)
	assert.True(t, auditContains(s, "CONNECTED"))
	assert.True(t, auditContains(s, "STOPPING"))

	s.Stop(true)
	assert.Empty(t, s.Audit())
}

func TestObserverSeesStatusAndPassThroughEvents(t *testing.T) {
	s, neg, sched := newTestSession(t)
	obs := &recordingObserver{}
	s.Subscribe(obs)
	ch := startActive(t, s, neg, sched)

	frame := `{"type":"response.audio_transcript.delta","delta":"Namaste","event_id":"evt_9"}`
	ch.Deliver(frame)

	events := obs.Events()
	require.Len(t, events, 1)
	assert.Equal(t, frame, string(events[0].Raw))

	var sawConnecting, sawActive bool
	for _, st := range obs.Statuses() {
		sawConnecting = sawConnecting || st.IsConnecting
		sawActive = sawActive || st.IsActive
	}
	assert.True(t, sawConnecting)
	assert.True(t, sawActive)
}

func TestObserverMayCallBackIntoSession(t *testing.T) {
	s, neg, sched := newTestSession(t)
	var mu sync.Mutex
	var seen []domain.Status
	s.Subscribe(observerFunc(func(domain.Status) {
		st := s.Status()
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	}))

	startActive(t, s, neg, sched)
	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, seen)
}

// Any interleaving of start/stop leaves no handles behind after a stop.
func TestStartStopProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		neg := &fakeNegotiator{}
		sched := &manualScheduler{}
		s := New(neg, nil, DefaultOptions())
		s.SetScheduler(sched)

		expected := 0
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"start", "stop", "open", "flush", "drop"}), 1, 30).Draw(rt, "ops")
		for _, op := range ops {
			switch op {
			case "start":
				st := s.State()
				_ = s.Start(context.Background())
				if st == domain.StateIdle || st == domain.StateError {
					expected++
				}
			case "stop":
				s.Stop(rapid.Bool().Draw(rt, "clear"))
				if s.HasLink() || s.HasActiveResponse() || s.State() != domain.StateIdle {
					rt.Fatalf("stop left state=%s link=%t response=%t", s.State(), s.HasLink(), s.HasActiveResponse())
				}
			case "open":
				if s.HasLink() {
					ch := neg.transports[len(neg.transports)-1].Channel
					if !ch.IsOpen() {
						ch.Open()
					}
				}
			case "flush":
				sched.Flush()
			case "drop":
				if s.HasLink() {
					ch := neg.transports[len(neg.transports)-1].Channel
					if ch.IsOpen() {
						ch.Drop()
						if s.HasLink() {
							rt.Fatalf("channel fault kept the link")
						}
					}
				}
			}
			if s.Attempts() != expected {
				rt.Fatalf("attempts=%d, expected %d", s.Attempts(), expected)
			}
		}
		s.Stop(true)
		if n := len(neg.transports); n > 0 {
			for i, tr := range neg.transports {
				if tr.CloseCount() != 1 {
					rt.Fatalf("transport %d closed %d times", i, tr.CloseCount())
				}
			}
		}
	})
}

type observerFunc func(domain.Status)

func (f observerFunc) OnStatus(st domain.Status)    { f(st) }
func (f observerFunc) OnServerEvent(protocol.Event) {}
