// File: internal/logging/limited.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-category throttling for log lines emitted from hot paths.

package logging

import (
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"
)

// DefaultRates allows bursts of 5 lines per second, 60 per minute, per category.
var DefaultRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// Limited wraps a logger, dropping lines once a category exceeds its rate.
type Limited struct {
	log        zerolog.Logger
	limiter    *catrate.Limiter
	suppressed atomic.Uint64
}

// NewLimited creates a throttled view of log. nil rates means DefaultRates.
func NewLimited(log zerolog.Logger, rates map[time.Duration]int) *Limited {
	if rates == nil {
		rates = DefaultRates
	}
	return &Limited{
		log:     log,
		limiter: catrate.NewLimiter(rates),
	}
}

// Warn returns a warning event for category, or nil when throttled.
// zerolog events are nil-safe, so callers can chain unconditionally.
func (l *Limited) Warn(category any) *zerolog.Event {
	if _, ok := l.limiter.Allow(category); !ok {
		l.suppressed.Add(1)
		return nil
	}
	return l.log.Warn()
}

// Error returns an error event for category, or nil when throttled.
func (l *Limited) Error(category any) *zerolog.Event {
	if _, ok := l.limiter.Allow(category); !ok {
		l.suppressed.Add(1)
		return nil
	}
	return l.log.Error()
}

// Suppressed counts lines dropped by throttling.
func (l *Limited) Suppressed() uint64 {
	return l.suppressed.Load()
}
