package orch

import "time"

// Scheduler runs fn once after d. The returned func cancels a pending run.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
