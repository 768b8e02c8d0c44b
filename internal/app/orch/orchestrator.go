// Package orch owns the voice session lifecycle: it sequences the
// handshake, routes data channel events and drives recovery.
package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceGuide/internal/app/activity"
	"github.com/dkeye/VoiceGuide/internal/app/audit"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/metrics"
	"github.com/dkeye/VoiceGuide/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Negotiator interface {
	Negotiate(ctx context.Context, events core.ChannelEvents) (*core.Link, error)
}

// Observer is the presentation boundary. Calls are made outside the
// session lock, in the order the transitions happened.
type Observer interface {
	OnStatus(domain.Status)
	OnServerEvent(protocol.Event)
}

type Options struct {
	TurnDetection        protocol.TurnDetection
	Instructions         string
	RecoveryInstructions string
	StageDelay           time.Duration
	RecoveryDelay        time.Duration
}

func DefaultOptions() Options {
	return Options{
		TurnDetection: protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 2000,
			CreateResponse:    true,
		},
		Instructions:         "You are a virtual tour guide specialized ONLY in Indian tourism. Greet the user and ask them what they would like to know about India, keep it very short and concise. Always respond promptly to any greeting or question about India. Do not answer questions not related to India. DO NOT TALK ABOUT ANYTHING ELSE.",
		RecoveryInstructions: "You are a virtual tour guide specialized in Indian tourism. Please respond to the user's question about India in a friendly and informative manner.",
		StageDelay:           300 * time.Millisecond,
		RecoveryDelay:        500 * time.Millisecond,
	}
}

// Session is the top-level aggregate. At most one negotiation or live
// link exists at a time.
type Session struct {
	negotiator Negotiator
	opts       Options
	audit      *audit.Log
	metrics    *metrics.Collector
	sched      Scheduler
	logger     zerolog.Logger

	mu          sync.Mutex
	state       domain.ConnectionState
	link        *core.Link
	epoch       uint64
	attempts    int
	lastErr     error
	openPending bool
	tracker     activity.Tracker
	timers      map[uint64]func()
	nextTimer   uint64
	observers   []Observer
	outbox      []func()
}

func New(n Negotiator, auditLog *audit.Log, opts Options) *Session {
	if auditLog == nil {
		auditLog = audit.New(0)
	}
	return &Session{
		negotiator: n,
		opts:       opts,
		audit:      auditLog,
		sched:      TimerScheduler{},
		logger:     log.With().Str("module", "orch").Logger(),
		timers:     make(map[uint64]func()),
	}
}

func (s *Session) SetScheduler(sched Scheduler) { s.sched = sched }

func (s *Session) SetMetrics(m *metrics.Collector) { s.metrics = m }

func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start begins a new session. It is a no-op while connecting or active.
func (s *Session) Start(ctx context.Context) error {
	var epoch uint64
	skip := false
	s.locked(func() {
		if s.state == domain.StateConnecting || s.state == domain.StateActive {
			skip = true
			s.logger.Info().Str("state", s.state.String()).Msg("start ignored")
			s.audit.Appendf(domain.CategoryIgnored, "IGNORED: Duplicate connection request while %s", s.state)
			return
		}
		s.teardownLocked()
		s.epoch++
		epoch = s.epoch
		s.attempts++
		s.lastErr = nil
		s.metrics.SessionAttempt()
		s.audit.Append(domain.CategoryLifecycle, "STARTING: New session initialization")
		s.setStateLocked(domain.StateConnecting)
	})
	if skip {
		return nil
	}

	started := time.Now()
	link, err := s.negotiator.Negotiate(ctx, channelEvents{s: s, epoch: epoch})
	s.metrics.NegotiationFinished(time.Since(started), err)

	var result error
	s.locked(func() {
		if s.epoch != epoch {
			s.logger.Warn().Uint64("epoch", epoch).Msg("negotiation resolved for a stale session")
			s.audit.Append(domain.CategoryLifecycle, "STALE: negotiation finished after stop, releasing resources")
			s.releaseLater(link)
			result = ErrSuperseded
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("session setup failed")
			s.audit.Appendf(domain.CategoryError, "SETUP ERROR: %v", err)
			s.openPending = false
			s.releaseLater(link)
			s.lastErr = err
			s.setStateLocked(domain.StateError)
			result = err
			return
		}
		if s.state == domain.StateError {
			// The channel faulted before the link was adopted.
			s.logger.Warn().Err(s.lastErr).Msg("channel failed during negotiation")
			s.releaseLater(link)
			result = s.lastErr
			return
		}
		s.link = link
		s.audit.Append(domain.CategoryLifecycle, "NEGOTIATED: waiting for data channel")
		if s.openPending {
			s.openPending = false
			if s.channelOpenLocked() {
				s.handleOpenLocked()
			}
		}
	})
	return result
}

// Stop tears the session down. It is idempotent and safe at any point,
// including while Start is negotiating.
func (s *Session) Stop(clearAudit bool) {
	s.locked(func() {
		s.audit.Append(domain.CategoryLifecycle, "STOPPING: Session cleanup initiated")
		s.epoch++
		s.teardownLocked()
		s.lastErr = nil
		s.setStateLocked(domain.StateIdle)
		if clearAudit {
			s.audit.Clear()
		}
	})
}

func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsActive() bool          { return s.State() == domain.StateActive }
func (s *Session) IsConnecting() bool      { return s.State() == domain.StateConnecting }
func (s *Session) HasError() bool          { return s.State() == domain.StateError }
func (s *Session) HasActiveResponse() bool { return s.tracker.Active() }

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// HasLink reports whether transport handles are currently held.
func (s *Session) HasLink() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

func (s *Session) Audit() []domain.AuditEntry { return s.audit.Entries() }

// locked runs fn under the session lock, then delivers queued side
// effects (observer calls, resource release) after unlocking.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	fn()
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	for _, f := range out {
		f()
	}
}

func (s *Session) statusLocked() domain.Status {
	return domain.NewStatus(s.state, s.tracker.Active(), s.attempts, s.lastErr)
}

func (s *Session) setStateLocked(state domain.ConnectionState) {
	if s.state != state {
		s.logger.Info().Str("from", s.state.String()).Str("to", state.String()).Msg("state change")
	}
	s.state = state
	s.metrics.StateChanged(state.String())
	s.emitStatusLocked()
}

func (s *Session) emitStatusLocked() {
	st := s.statusLocked()
	for _, o := range s.observers {
		s.outbox = append(s.outbox, func() { o.OnStatus(st) })
	}
}

func (s *Session) emitEventLocked(ev protocol.Event) {
	for _, o := range s.observers {
		s.outbox = append(s.outbox, func() { o.OnServerEvent(ev) })
	}
}

// scheduleLocked queues fn to run under the lock after d, unless the
// session is torn down first.
func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	epoch := s.epoch
	s.nextTimer++
	id := s.nextTimer
	s.timers[id] = s.sched.After(d, func() {
		s.locked(func() {
			if _, ok := s.timers[id]; !ok {
				return
			}
			delete(s.timers, id)
			if s.epoch != epoch {
				return
			}
			fn()
		})
	})
}

func (s *Session) cancelTimersLocked() {
	for id, cancel := range s.timers {
		cancel()
		delete(s.timers, id)
	}
}

func (s *Session) teardownLocked() {
	s.cancelTimersLocked()
	link := s.link
	s.link = nil
	s.openPending = false
	s.tracker.Deactivate()
	s.releaseLater(link)
}

// releaseLater queues the release of every handle in link. Release runs
// outside the lock because transports may call back into the session
// while closing.
func (s *Session) releaseLater(link *core.Link) {
	if link == nil {
		return
	}
	s.outbox = append(s.outbox, func() { s.release(link) })
}

// release runs every step even if earlier ones fail.
func (s *Session) release(link *core.Link) {
	if ch := link.Channel; ch != nil {
		s.releaseStep("channel", func() error {
			if ch.IsOpen() {
				return ch.Close()
			}
			return nil
		})
	}
	if tr := link.Transport; tr != nil {
		s.releaseStep("tracks", tr.StopTracks)
	}
	if track := link.Track; track != nil {
		s.releaseStep("track", track.Stop)
	}
	if tr := link.Transport; tr != nil {
		s.releaseStep("transport", tr.Close)
	}
	if sink := link.Sink; sink != nil {
		s.releaseStep("sink", sink.Close)
	}
}

func (s *Session) releaseStep(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("step", name).Interface("panic", r).Msg("cleanup panicked")
			s.audit.Appendf(domain.CategoryError, "CLEANUP ERROR (%s): %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		s.logger.Error().Err(err).Str("step", name).Msg("cleanup failed")
		s.audit.Appendf(domain.CategoryError, "CLEANUP ERROR (%s): %v", name, err)
	}
}

func (s *Session) channelOpenLocked() bool {
	return s.link != nil && s.link.Channel != nil && s.link.Channel.IsOpen()
}

func (s *Session) String() string {
	st := s.Status()
	return fmt.Sprintf("session(state=%s attempts=%d active_response=%t)", st.State, st.Attempts, st.HasActiveResponse)
}
