// Package audit keeps an ordered, session-scoped record of lifecycle and
// protocol events for diagnostics.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceGuide/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is append-only between Clear calls. When capacity is positive the
// oldest entries are dropped once it is reached.
type Log struct {
	mu       sync.RWMutex
	entries  []domain.AuditEntry
	capacity int
	dropped  int
	now      func() time.Time
	logger   zerolog.Logger
}

func New(capacity int) *Log {
	return &Log{
		capacity: capacity,
		now:      time.Now,
		logger:   log.With().Str("module", "audit").Logger(),
	}
}

func (l *Log) Append(cat domain.Category, summary string) {
	e := domain.AuditEntry{Time: l.now(), Category: cat, Summary: summary}

	l.mu.Lock()
	if l.capacity > 0 && len(l.entries) >= l.capacity {
		n := copy(l.entries, l.entries[1:])
		l.entries = l.entries[:n]
		l.dropped++
	}
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.logger.Debug().Str("category", string(cat)).Msg(summary)
}

func (l *Log) Appendf(cat domain.Category, format string, args ...any) {
	l.Append(cat, fmt.Sprintf(format, args...))
}

// Entries returns a copy in append order.
func (l *Log) Entries() []domain.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Dropped reports how many entries were evicted by the capacity bound.
func (l *Log) Dropped() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.dropped = 0
}
