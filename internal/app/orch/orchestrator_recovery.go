package orch

import (
	"fmt"
	"time"

	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/protocol"
)

// sendLocked encodes and transmits ev. The send time is recorded in the
// audit entry only; it never reaches the wire.
func (s *Session) sendLocked(ev protocol.Event) bool {
	if !s.channelOpenLocked() {
		s.logger.Error().Str("type", ev.Type).Msg("data channel not open, message not sent")
		s.audit.Append(domain.CategoryError, "ERROR: Data channel not ready - message not sent")
		return false
	}
	frame, sent, err := protocol.Encode(ev)
	if err != nil {
		s.audit.Appendf(domain.CategoryError, "SEND ERROR: %v", err)
		return false
	}
	if err := s.link.Channel.SendText(string(frame)); err != nil {
		s.logger.Error().Err(err).Str("type", sent.Type).Msg("send failed")
		s.audit.Appendf(domain.CategoryError, "SEND ERROR: %v", err)
		return false
	}
	s.metrics.FrameSent(sent.Type)
	s.logger.Debug().Str("type", sent.Type).Str("event_id", sent.EventID).Msg("sent")
	s.audit.Appendf(domain.CategorySent, "SENT [%s]: %s", time.Now().Format(time.TimeOnly), protocol.Excerpt(string(frame), 100))
	return true
}

// createResponseLocked issues response.create unless one is pending.
func (s *Session) createResponseLocked() bool {
	if !s.channelOpenLocked() {
		return false
	}
	if !s.tracker.TryActivate() {
		s.logger.Info().Msg("response already active, ignoring create request")
		s.audit.Append(domain.CategoryIgnored, "IGNORED: Response already active, not creating another")
		return false
	}
	if !s.sendLocked(protocol.NewResponseCreate()) {
		s.tracker.Deactivate()
		return false
	}
	s.emitStatusLocked()
	return true
}

// attemptRecoveryLocked is single shot: it never retries on its own.
func (s *Session) attemptRecoveryLocked(cause error) bool {
	if !s.channelOpenLocked() {
		return false
	}
	s.metrics.Recovery()
	s.audit.Append(domain.CategoryRecovery, "Attempting session recovery...")
	s.tracker.Deactivate()
	s.emitStatusLocked()

	if !s.sendLocked(protocol.NewSystemMessage(s.opts.RecoveryInstructions)) {
		s.lastErr = fmt.Errorf("recovery message not sent: %w", cause)
		s.setStateLocked(domain.StateError)
		return false
	}
	s.scheduleLocked(s.opts.StageDelay, func() {
		if !s.channelOpenLocked() {
			return
		}
		if s.tracker.Active() {
			s.audit.Append(domain.CategoryIgnored, "Response already active, skipping creation during recovery")
			return
		}
		s.createResponseLocked()
	})
	return true
}
