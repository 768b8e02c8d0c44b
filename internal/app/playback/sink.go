// Package playback consumes the model's remote audio track.
package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RecorderOutput names the Ogg file output added by NewRecordingSink.
const RecorderOutput = "recorder"

// Sink reads RTP packets from remote tracks and forwards them to every
// output. It implements core.AudioSink.
type Sink struct {
	mu      sync.RWMutex
	outputs map[string]*Output
	cancels []context.CancelFunc
	closed  bool

	Stats *Counter
}

func NewSink() *Sink {
	stats := &Counter{}
	s := &Sink{
		outputs: make(map[string]*Output),
		Stats:   stats,
	}
	s.outputs["stats"] = NewOutput("stats", stats)
	return s
}

// NewRecordingSink also writes received Opus audio to an Ogg file.
func NewRecordingSink(path string) (*Sink, error) {
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		return nil, err
	}
	s := NewSink()
	s.AddOutput(NewOutput(RecorderOutput, w))
	return s, nil
}

func (s *Sink) AddOutput(o *Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[o.Name] = o
}

// SetMuted pauses or resumes delivery to the named output.
func (s *Sink) SetMuted(name string, muted bool) bool {
	s.mu.RLock()
	o, ok := s.outputs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if muted {
		o.MarkMuted()
	} else {
		o.MarkOk()
	}
	return true
}

// Muted reports whether the named output exists and is paused.
func (s *Sink) Muted(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outputs[name]
	return ok && o.GetState() == OutputStateMuted
}

// Attach starts a relay loop for track. It is a no-op once closed.
func (s *Sink) Attach(ctx context.Context, track core.RemoteTrack) {
	logger := log.With().
		Str("module", "playback").
		Str("track_id", track.ID()).
		Logger()

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	logger.Info().Msg("starting playback loop")
	go s.loop(loopCtx, track, &logger)
}

// loop reads RTP packets from the track and forwards them to all outputs.
func (s *Sink) loop(ctx context.Context, track core.RemoteTrack, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("playback ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("playback read ended")
			return
		}
		if !s.forward(pkt, logger) {
			logger.Info().Msg("playback sink closed")
			return
		}
	}
}

// forward writes pkt to every output while holding the read lock, so Close
// never releases a writer in the middle of a write. It reports false once
// the sink is closed.
func (s *Sink) forward(pkt *rtp.Packet, logger *zerolog.Logger) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false
	}
	var dirty []string
	for name, o := range s.outputs {
		switch o.GetState() {
		case OutputStateDelete:
			dirty = append(dirty, name)
		case OutputStateMuted:
		case OutputStateOk:
			if err := o.Writer.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("output", name).
					Msg("playback write error, marking output as delete")
				o.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}
	s.mu.RUnlock()

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		s.cleanupDeleted(dirty)
	}
	return true
}

func (s *Sink) cleanupDeleted(dirty []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range dirty {
		if o, ok := s.outputs[name]; ok {
			_ = o.Writer.Close()
		}
		delete(s.outputs, name)
	}
}

// Close stops every loop and closes every output writer once in-flight
// writes finish. Safe to call twice.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	outputs := s.outputs
	s.outputs = make(map[string]*Output)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	var errs []error
	for _, o := range outputs {
		o.MarkDelete()
		if err := o.Writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
