package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RealTime is a Scheduler backed by a clock timer. Timer expiry never runs actions
// directly: it posts a drain onto the owner's loop, which then fires the due actions
// in the same order Virtual would.
type RealTime struct {
	mu      sync.Mutex
	post    func(func())
	q       queue
	timer   *clock.Timer
	armedAt time.Time
	stopped bool
	settings
}

// NewRealTime returns a real-time scheduler. post hands a function to the loop that
// owns the scheduler; it must be safe to call from any goroutine.
func NewRealTime(post func(func()), opts ...Option) *RealTime {
	return &RealTime{
		post:     post,
		q:        newQueue(),
		settings: newSettings(opts),
	}
}

// Now returns the current time of the underlying clock.
func (r *RealTime) Now() time.Time {
	return r.clock.Now()
}

// Schedule registers action to run no earlier than delay from now.
func (r *RealTime) Schedule(delay time.Duration, action func()) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.q.add(r.clock.Now().Add(clampDelay(delay)), action)
	r.arm()
	return h
}

// Cancel removes a pending action.
func (r *RealTime) Cancel(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.q.remove(h) {
		return false
	}
	r.arm()
	return true
}

// Pending returns the number of actions waiting to fire.
func (r *RealTime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.Len()
}

// Stop disarms the timer. Pending actions never fire after Stop.
func (r *RealTime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// arm points the timer at the head of the queue. Caller holds r.mu.
func (r *RealTime) arm() {
	if r.stopped {
		return
	}
	head := r.q.peek()
	if head == nil {
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		return
	}
	if r.timer != nil && r.armedAt.Equal(head.due) {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.armedAt = head.due
	r.timer = r.clock.AfterFunc(clampDelay(head.due.Sub(r.clock.Now())), r.wake)
}

func (r *RealTime) wake() {
	r.post(r.drain)
}

// drain runs on the owner's loop.
func (r *RealTime) drain() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	now, limit := r.clock.Now(), r.q.seq
	r.mu.Unlock()

	for {
		r.mu.Lock()
		e := r.q.popDue(now, limit)
		r.mu.Unlock()
		if e == nil {
			break
		}
		r.run(e.action)
	}

	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.arm()
	r.mu.Unlock()
}
