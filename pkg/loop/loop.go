// Package loop provides the single logical thread on which a client mutates its state.
//
// Loop runs posted functions on a dedicated goroutine. Inline runs them on whichever
// goroutine posts, queueing nested posts so functions never interleave; the
// deterministic test harness drives a client through Inline.
package loop

import (
	"log/slog"
	"sync"
)

// Executor runs posted functions one at a time, in posting order.
type Executor interface {
	Post(fn func())
}

// Loop is a goroutine-backed Executor with an unbounded FIFO queue, so Post never
// blocks the transport goroutines that feed it.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	once    sync.Once
	logger  *slog.Logger
}

// New starts a Loop.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Post enqueues fn. Functions posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.TryPost(fn)
}

// TryPost enqueues fn and reports whether it was accepted.
func (l *Loop) TryPost(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop finishes the functions already queued and then exits the loop goroutine.
// It does not wait; use Done to observe the exit.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		select {
		case l.wake <- struct{}{}:
		default:
		}
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				stopped := l.stopped
				l.mu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: posted function panicked", "panic", r)
		}
	}()
	fn()
}

// Inline runs posted functions on the posting goroutine. A function posted while
// another is running is queued and runs after it, on the same goroutine.
type Inline struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewInline returns an Inline executor.
func NewInline() *Inline {
	return &Inline{}
}

// Post runs fn now, or after the function currently running returns.
func (in *Inline) Post(fn func()) {
	in.mu.Lock()
	in.queue = append(in.queue, fn)
	if in.running {
		in.mu.Unlock()
		return
	}
	in.running = true
	in.mu.Unlock()

	clean := false
	defer func() {
		if !clean {
			// fn panicked or called runtime.Goexit; unblock future posts.
			in.mu.Lock()
			in.running = false
			in.queue = nil
			in.mu.Unlock()
		}
	}()

	for {
		in.mu.Lock()
		if len(in.queue) == 0 {
			in.running = false
			in.mu.Unlock()
			clean = true
			return
		}
		next := in.queue[0]
		in.queue[0] = nil
		in.queue = in.queue[1:]
		in.mu.Unlock()
		next()
	}
}
