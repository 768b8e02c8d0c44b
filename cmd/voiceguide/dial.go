package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/dkeye/VoiceGuide/internal/protocol"
)

// statusLogger prints session progress for the headless client.
type statusLogger struct {
	verbose bool
}

func (l statusLogger) OnStatus(st domain.Status) {
	ev := log.Info().
		Str("module", "dial").
		Str("state", st.State).
		Bool("responding", st.HasActiveResponse).
		Int("attempts", st.Attempts)
	if st.LastError != "" {
		ev = ev.Str("last_error", st.LastError)
	}
	ev.Msg("status")
}

func (l statusLogger) OnServerEvent(e protocol.Event) {
	if !l.verbose {
		return
	}
	log.Debug().Str("module", "dial").Str("type", e.Type).RawJSON("event", e.Raw).Msg("server event")
}

func newDialCommand(opts *rootOptions) *cobra.Command {
	var (
		duration time.Duration
		verbose  bool
		input    string
		record   string
		paused   bool
	)

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Open one voice session from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input != "" {
				opts.cfg.Media.InputFile = input
			}
			if record != "" {
				opts.cfg.Media.RecordPath = record
			}
			if paused {
				opts.cfg.Media.RecordPaused = true
			}
			return dial(cmd.Context(), opts, duration, verbose)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "t", 0, "hang up after this long (0 waits for Ctrl-C)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every server event")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Ogg/Opus file to send instead of silence")
	cmd.Flags().StringVarP(&record, "record", "r", "", "write the reply audio to this Ogg file")
	cmd.Flags().BoolVar(&paused, "record-paused", false, "start with the recording paused (SIGUSR1 toggles it)")

	return cmd
}

func dial(parent context.Context, opts *rootOptions, duration time.Duration, verbose bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	session, rec, err := buildSession(opts.cfg, nil)
	if err != nil {
		return err
	}
	session.Subscribe(statusLogger{verbose: verbose})
	defer func() {
		session.Stop(true)
		log.Info().Str("module", "dial").Msg("session closed")
	}()
	stopToggle := watchRecordToggle(ctx, rec)
	defer stopToggle()

	if err := session.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "dial").Msg("session failed to start")
		dumpAudit(session.Audit(), zerolog.InfoLevel)
		return err
	}
	<-ctx.Done()

	dumpAudit(session.Audit(), zerolog.DebugLevel)
	return nil
}

func dumpAudit(entries []domain.AuditEntry, level zerolog.Level) {
	for _, e := range entries {
		log.WithLevel(level).
			Str("module", "dial").
			Str("category", string(e.Category)).
			Time("at", e.Time).
			Msg(e.Summary)
	}
}
