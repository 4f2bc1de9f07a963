// Package scheduler runs callbacks no earlier than a given delay from "now".
//
// Two implementations share the Scheduler contract: RealTime, driven by a clock timer
// and drained on the owner's loop, and Virtual, driven by explicit Advance calls from a
// test. Both fire actions in due-time order and break ties in scheduling order.
package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrReentrantAdvance is returned when Advance is called while a batch is firing.
var ErrReentrantAdvance = errors.New("scheduler: advance called while advancing")

// Handle identifies a scheduled action. The zero Handle never refers to an action.
type Handle uint64

// Scheduler schedules actions relative to its own notion of now.
type Scheduler interface {
	Now() time.Time
	Schedule(delay time.Duration, action func()) Handle
	Cancel(h Handle) bool
}

type settings struct {
	logger  *slog.Logger
	onPanic func(any)
	clock   clock.Clock
}

// Option configures a scheduler.
type Option func(*settings)

// WithLogger sets the logger used for recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPanicHandler overrides what happens with a panic raised by an action.
func WithPanicHandler(fn func(any)) Option {
	return func(s *settings) {
		s.onPanic = fn
	}
}

// WithClock sets the time source of a RealTime scheduler. Ignored by Virtual.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{logger: slog.Default(), clock: clock.New()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.onPanic == nil {
		logger := s.logger
		s.onPanic = func(r any) {
			logger.Error("scheduler: action panicked", "panic", r)
		}
	}
	return s
}

func (s *settings) run(action func()) {
	defer func() {
		if r := recover(); r != nil {
			s.onPanic(r)
		}
	}()
	action()
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
