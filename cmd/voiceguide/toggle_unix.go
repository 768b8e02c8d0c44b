//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// watchRecordToggle pauses and resumes the recording on SIGUSR1 until ctx
// ends or the returned stop func runs.
func watchRecordToggle(ctx context.Context, rec *recorder) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-sigs:
				paused := rec.Toggle()
				log.Info().Str("module", "dial").Bool("paused", paused).Msg("recording toggled")
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
