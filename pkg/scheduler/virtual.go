package scheduler

import (
	"sync"
	"time"
)

// Virtual is a Scheduler whose clock only moves when Advance is called.
type Virtual struct {
	mu        sync.Mutex
	now       time.Time
	q         queue
	advancing bool
	settings
}

// NewVirtual returns a virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time, opts ...Option) *Virtual {
	return &Virtual{
		now:      start,
		q:        newQueue(),
		settings: newSettings(opts),
	}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Schedule registers action to run once the virtual clock reaches now+delay.
func (v *Virtual) Schedule(delay time.Duration, action func()) Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.q.add(v.now.Add(clampDelay(delay)), action)
}

// Cancel removes a pending action. It reports false if the action already fired,
// was already cancelled, or never existed.
func (v *Virtual) Cancel(h Handle) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.q.remove(h)
}

// Pending returns the number of actions waiting to fire.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.q.Len()
}

// Advance moves the clock forward by d and fires, in due/FIFO order, every action
// that was pending when Advance was called and is now due. Each action is removed
// before it runs. Actions scheduled by a firing action wait for a later Advance.
func (v *Virtual) Advance(d time.Duration) error {
	v.mu.Lock()
	if v.advancing {
		v.mu.Unlock()
		return ErrReentrantAdvance
	}
	v.advancing = true
	v.now = v.now.Add(clampDelay(d))
	now, limit := v.now, v.q.seq
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.advancing = false
		v.mu.Unlock()
	}()

	for {
		v.mu.Lock()
		e := v.q.popDue(now, limit)
		v.mu.Unlock()
		if e == nil {
			return nil
		}
		v.run(e.action)
	}
}
