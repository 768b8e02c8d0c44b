package orch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/protocol"
)

// channelEvents binds channel callbacks to the session epoch they were
// created for. Events from an older epoch are dropped.
type channelEvents struct {
	s     *Session
	epoch uint64
}

func (e channelEvents) OnOpen() {
	e.s.locked(func() {
		if e.s.epoch != e.epoch {
			return
		}
		e.s.handleOpenLocked()
	})
}

func (e channelEvents) OnMessage(data []byte) {
	e.s.locked(func() {
		if e.s.epoch != e.epoch {
			return
		}
		e.s.handleMessageLocked(data)
	})
}

func (e channelEvents) OnClose() {
	e.s.locked(func() {
		if e.s.epoch != e.epoch {
			return
		}
		e.s.handleCloseLocked()
	})
}

func (e channelEvents) OnError(err error) {
	e.s.locked(func() {
		if e.s.epoch != e.epoch {
			return
		}
		e.s.handleChannelErrorLocked(err)
	})
}

func (s *Session) handleOpenLocked() {
	if s.link == nil || s.link.Channel == nil {
		// Opened before Start adopted the link; replayed on adoption.
		s.openPending = true
		return
	}
	s.lastErr = nil
	s.tracker.Deactivate()
	s.logger.Info().Str("channel", s.link.Channel.Label()).Msg("data channel opened")
	s.audit.Append(domain.CategoryLifecycle, "CONNECTED: Data channel opened")
	s.setStateLocked(domain.StateActive)
	s.scheduleLocked(s.opts.StageDelay, s.configureSessionLocked)
}

// configureSessionLocked is stage one: turn detection must be in effect
// before the conversation item and the first response.
func (s *Session) configureSessionLocked() {
	if !s.channelOpenLocked() {
		return
	}
	td := s.opts.TurnDetection
	if !s.sendLocked(protocol.NewSessionUpdate(td)) {
		return
	}
	s.audit.Appendf(domain.CategoryConfig,
		"CONFIG: Turn detection set to wait for %dms silence (create_response=%t)",
		td.SilenceDurationMS, td.CreateResponse)
	s.scheduleLocked(s.opts.StageDelay, s.initializeConversationLocked)
}

func (s *Session) initializeConversationLocked() {
	if !s.channelOpenLocked() {
		return
	}
	if !s.sendLocked(protocol.NewSystemMessage(s.opts.Instructions)) {
		return
	}
	s.scheduleLocked(s.opts.StageDelay, func() {
		if !s.channelOpenLocked() {
			return
		}
		s.logger.Debug().Msg("creating initial response")
		s.createResponseLocked()
	})
}

func (s *Session) handleMessageLocked(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bad inbound frame")
		s.metrics.DecodeError()
		s.audit.Appendf(domain.CategoryError, "PARSE ERROR: %v", err)
		return
	}
	s.metrics.FrameReceived(ev.Type)
	s.audit.Appendf(domain.CategoryReceived, "RECEIVED [%s]: %s", time.Now().Format(time.TimeOnly), ev.Type)

	switch ev.Type {
	case protocol.TypeResponseDone:
		// Server-side turn detection issues the next response; creating
		// one here would leave two responses open.
		s.tracker.Deactivate()
		s.logger.Debug().Msg("response done, waiting for next user input")
		s.emitStatusLocked()
	case protocol.TypeError:
		s.handleRemoteErrorLocked(ev.Error)
	}
	s.emitEventLocked(ev)
}

func (s *Session) handleRemoteErrorLocked(d *protocol.ErrorDetail) {
	classified := protocol.Classify(d)
	switch e := classified.(type) {
	case *protocol.PeerConflictError:
		s.metrics.RemoteError("peer_conflict")
		s.logger.Info().Msg("peer reports an active response, converging")
		s.audit.Append(domain.CategoryRecovery, "Received active response error, marking response active")
		s.tracker.ForceActivate()
		s.emitStatusLocked()
	case *protocol.RecoverableParameterError:
		s.metrics.RemoteError("recoverable_parameter")
		s.auditServerErrorLocked(d)
		s.audit.Appendf(domain.CategoryRecovery,
			"Attempting to recover from parameter error (param=%s heuristic=%t)", e.Detail.Param, e.Heuristic)
		s.scheduleLocked(s.opts.RecoveryDelay, func() {
			if s.channelOpenLocked() {
				s.attemptRecoveryLocked(e)
			}
		})
	default:
		s.metrics.RemoteError("remote")
		s.logger.Error().Err(classified).Msg("received error event")
		s.auditServerErrorLocked(d)
		s.lastErr = classified
		s.setStateLocked(domain.StateError)
	}
}

func (s *Session) auditServerErrorLocked(d *protocol.ErrorDetail) {
	raw := []byte("{}")
	if d != nil {
		if b, err := json.Marshal(d); err == nil {
			raw = b
		}
	}
	s.audit.Appendf(domain.CategoryError, "SERVER ERROR: %s", protocol.Excerpt(string(raw), 100))
	if d != nil && d.Message != "" {
		s.audit.Appendf(domain.CategoryError, "ERROR MESSAGE: %s", d.Message)
	}
}

func (s *Session) handleCloseLocked() {
	s.openPending = false
	if s.faultedLocked() {
		return
	}
	s.logger.Warn().Msg("data channel closed")
	s.audit.Append(domain.CategoryLifecycle, "DISCONNECTED: Data channel closed")
	s.failLinkLocked(&ChannelFault{Reason: "closed"})
}

func (s *Session) handleChannelErrorLocked(err error) {
	s.openPending = false
	if s.faultedLocked() {
		return
	}
	s.logger.Error().Err(err).Msg("data channel error")
	s.audit.Appendf(domain.CategoryError, "CONNECTION ERROR: %v", err)
	s.failLinkLocked(&ChannelFault{Reason: "error", Err: err})
}

// faultedLocked reports whether a channel fault already released the link.
// Closing the transport makes pion report the channel again; those repeats
// are dropped.
func (s *Session) faultedLocked() bool {
	var fault *ChannelFault
	return s.state == domain.StateError && s.link == nil && errors.As(s.lastErr, &fault)
}

// failLinkLocked releases the transport, tracks and sink and parks the
// session in Error until the user restarts it.
func (s *Session) failLinkLocked(fault *ChannelFault) {
	s.teardownLocked()
	s.lastErr = fault
	s.setStateLocked(domain.StateError)
}
