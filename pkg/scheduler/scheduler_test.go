package scheduler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtualOrdersByDueTimeThenFIFO(t *testing.T) {
	v := NewVirtual(epoch)
	var fired []string
	record := func(name string) func() { return func() { fired = append(fired, name) } }

	v.Schedule(30*time.Millisecond, record("d30"))
	v.Schedule(10*time.Millisecond, record("d10-a"))
	v.Schedule(20*time.Millisecond, record("d20"))
	v.Schedule(10*time.Millisecond, record("d10-b"))
	v.Schedule(10*time.Millisecond, record("d10-c"))

	require.NoError(t, v.Advance(15*time.Millisecond))
	assert.Equal(t, []string{"d10-a", "d10-b", "d10-c"}, fired)

	require.NoError(t, v.Advance(time.Second))
	assert.Equal(t, []string{"d10-a", "d10-b", "d10-c", "d20", "d30"}, fired)
	assert.Equal(t, 0, v.Pending())
	assert.Equal(t, epoch.Add(time.Second+15*time.Millisecond), v.Now())
}

func TestVirtualNotDueYet(t *testing.T) {
	v := NewVirtual(epoch)
	fired := false
	v.Schedule(50*time.Millisecond, func() { fired = true })

	require.NoError(t, v.Advance(49*time.Millisecond))
	assert.False(t, fired)
	require.NoError(t, v.Advance(time.Millisecond))
	assert.True(t, fired)
}

func TestVirtualCancel(t *testing.T) {
	v := NewVirtual(epoch)
	fired := false
	h := v.Schedule(time.Millisecond, func() { fired = true })

	assert.True(t, v.Cancel(h))
	assert.False(t, v.Cancel(h))
	assert.False(t, v.Cancel(Handle(0)))

	require.NoError(t, v.Advance(time.Second))
	assert.False(t, fired)
}

func TestVirtualScheduleDuringBatchWaitsForNextAdvance(t *testing.T) {
	v := NewVirtual(epoch)
	var fired []string
	v.Schedule(time.Millisecond, func() {
		fired = append(fired, "first")
		v.Schedule(0, func() { fired = append(fired, "nested") })
	})
	v.Schedule(time.Millisecond, func() { fired = append(fired, "second") })

	require.NoError(t, v.Advance(time.Millisecond))
	assert.Equal(t, []string{"first", "second"}, fired)
	assert.Equal(t, 1, v.Pending())

	require.NoError(t, v.Advance(0))
	assert.Equal(t, []string{"first", "second", "nested"}, fired)
}

func TestVirtualCancelFromFiringAction(t *testing.T) {
	v := NewVirtual(epoch)
	var fired []string
	var later Handle
	v.Schedule(time.Millisecond, func() {
		fired = append(fired, "first")
		assert.True(t, v.Cancel(later))
	})
	later = v.Schedule(time.Millisecond, func() { fired = append(fired, "cancelled") })

	require.NoError(t, v.Advance(time.Millisecond))
	assert.Equal(t, []string{"first"}, fired)
}

func TestVirtualRejectsReentrantAdvance(t *testing.T) {
	v := NewVirtual(epoch)
	var inner error
	ran := false
	v.Schedule(time.Millisecond, func() {
		inner = v.Advance(time.Second)
	})
	v.Schedule(2*time.Millisecond, func() { ran = true })

	require.NoError(t, v.Advance(time.Millisecond))
	assert.ErrorIs(t, inner, ErrReentrantAdvance)
	assert.False(t, ran, "nested advance must not move the clock")
	assert.Equal(t, epoch.Add(time.Millisecond), v.Now())
}

func TestVirtualPanickingActionDoesNotStopBatch(t *testing.T) {
	var recovered []any
	v := NewVirtual(epoch, WithPanicHandler(func(r any) { recovered = append(recovered, r) }))
	ran := false
	v.Schedule(time.Millisecond, func() { panic("boom") })
	v.Schedule(time.Millisecond, func() { ran = true })

	require.NoError(t, v.Advance(time.Millisecond))
	assert.True(t, ran)
	assert.Equal(t, []any{"boom"}, recovered)
}

// loopRecorder stands in for the client loop: drains posted by the real-time
// scheduler are run by the test goroutine.
type loopRecorder struct {
	posted chan func()
}

func newLoopRecorder() *loopRecorder {
	return &loopRecorder{posted: make(chan func(), 16)}
}

func (l *loopRecorder) post(fn func()) { l.posted <- fn }

func (l *loopRecorder) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.posted:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduler drain")
	}
}

func TestRealTimeFiresOnLoopInOrder(t *testing.T) {
	mock := clock.NewMock()
	loop := newLoopRecorder()
	r := NewRealTime(loop.post, WithClock(mock))
	defer r.Stop()

	var fired []string
	r.Schedule(20*time.Millisecond, func() { fired = append(fired, "d20") })
	r.Schedule(10*time.Millisecond, func() { fired = append(fired, "d10-a") })
	r.Schedule(10*time.Millisecond, func() { fired = append(fired, "d10-b") })
	assert.Equal(t, 3, r.Pending())

	mock.Add(10 * time.Millisecond)
	loop.runNext(t)
	assert.Equal(t, []string{"d10-a", "d10-b"}, fired)

	mock.Add(10 * time.Millisecond)
	loop.runNext(t)
	assert.Equal(t, []string{"d10-a", "d10-b", "d20"}, fired)
	assert.Equal(t, 0, r.Pending())
}

func TestRealTimeCancel(t *testing.T) {
	mock := clock.NewMock()
	loop := newLoopRecorder()
	r := NewRealTime(loop.post, WithClock(mock))
	defer r.Stop()

	fired := false
	h := r.Schedule(10*time.Millisecond, func() { fired = true })
	keep := false
	r.Schedule(20*time.Millisecond, func() { keep = true })
	require.True(t, r.Cancel(h))

	mock.Add(20 * time.Millisecond)
	loop.runNext(t)
	assert.False(t, fired)
	assert.True(t, keep)
}

func TestRealTimeWithSystemClock(t *testing.T) {
	loop := newLoopRecorder()
	r := NewRealTime(loop.post)
	defer r.Stop()

	done := false
	r.Schedule(5*time.Millisecond, func() { done = true })
	loop.runNext(t)
	assert.True(t, done)
}
