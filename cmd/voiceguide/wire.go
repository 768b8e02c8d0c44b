package main

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceGuide/internal/adapters/realtime"
	"github.com/dkeye/VoiceGuide/internal/adapters/rtc"
	"github.com/dkeye/VoiceGuide/internal/app/audit"
	"github.com/dkeye/VoiceGuide/internal/app/negotiate"
	"github.com/dkeye/VoiceGuide/internal/app/orch"
	"github.com/dkeye/VoiceGuide/internal/app/playback"
	"github.com/dkeye/VoiceGuide/internal/config"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/metrics"
	"github.com/dkeye/VoiceGuide/internal/protocol"
)

// buildSession wires the pion transport, the realtime HTTP clients and the
// session from cfg.
func buildSession(cfg *config.Config, m *metrics.Collector) (*orch.Session, *recorder, error) {
	factory, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.Realtime.ICEServers...))
	if err != nil {
		return nil, nil, err
	}
	rec := newRecorder(cfg.Media.RecordPath, cfg.Media.RecordPaused)
	httpClient := &http.Client{Timeout: cfg.Realtime.RequestTimeout}

	n := &negotiate.Negotiator{
		Credentials:  realtime.NewTokenClient(cfg.Realtime.TokenURL, realtime.WithHTTPClient(httpClient)),
		Media:        rtc.FileSource{Path: cfg.Media.InputFile},
		Transports:   factory,
		Exchange:     realtime.NewSDPClient(cfg.Realtime.BaseURL, cfg.Realtime.Model, realtime.WithHTTPClient(httpClient)),
		ChannelLabel: cfg.Realtime.ChannelLabel,
		NewSink:      rec.NewSink,
	}

	s := orch.New(n, audit.New(cfg.Session.AuditCapacity), sessionOptions(cfg))
	s.SetMetrics(m)
	return s, rec, nil
}

func sessionOptions(cfg *config.Config) orch.Options {
	opts := orch.DefaultOptions()
	opts.TurnDetection = protocol.TurnDetection{
		Type:              cfg.TurnDetection.Type,
		Threshold:         cfg.TurnDetection.Threshold,
		PrefixPaddingMS:   cfg.TurnDetection.PrefixPaddingMS,
		SilenceDurationMS: cfg.TurnDetection.SilenceDurationMS,
		CreateResponse:    cfg.TurnDetection.CreateResponse,
	}
	if cfg.Session.Instructions != "" {
		opts.Instructions = cfg.Session.Instructions
	}
	if cfg.Session.RecoveryInstructions != "" {
		opts.RecoveryInstructions = cfg.Session.RecoveryInstructions
	}
	opts.StageDelay = cfg.Session.StageDelay
	opts.RecoveryDelay = cfg.Session.RecoveryDelay
	return opts
}

// recorder builds the playback sink for each negotiation and carries the
// paused flag across them, so a restarted session records in the same state.
type recorder struct {
	path string

	mu      sync.Mutex
	paused  bool
	current *playback.Sink
}

func newRecorder(path string, paused bool) *recorder {
	return &recorder{path: path, paused: paused}
}

func (r *recorder) NewSink() core.AudioSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" {
		r.current = nil
		return playback.NewSink()
	}
	sink, err := playback.NewRecordingSink(r.path)
	if err != nil {
		log.Error().Err(err).Str("module", "main").Str("path", r.path).Msg("recorder unavailable, playing without it")
		r.current = nil
		return playback.NewSink()
	}
	if r.paused {
		sink.SetMuted(playback.RecorderOutput, true)
	}
	r.current = sink
	return sink
}

// SetPaused pauses or resumes writing to the record file. It reports
// whether a live recording was affected.
func (r *recorder) SetPaused(paused bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
	if r.current == nil {
		return false
	}
	return r.current.SetMuted(playback.RecorderOutput, paused)
}

// Toggle flips the paused flag and returns the new value.
func (r *recorder) Toggle() bool {
	r.mu.Lock()
	paused := !r.paused
	r.mu.Unlock()
	r.SetPaused(paused)
	return paused
}
