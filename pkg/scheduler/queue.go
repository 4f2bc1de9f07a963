package scheduler

import (
	"container/heap"
	"time"
)

// entry is one scheduled action, keyed by (due, seq).
type entry struct {
	due    time.Time
	seq    uint64
	action func()
	index  int
}

// queue is a min-heap of entries ordered by due time, then insertion order.
type queue struct {
	items    []*entry
	byHandle map[Handle]*entry
	seq      uint64
}

func newQueue() queue {
	return queue{byHandle: make(map[Handle]*entry)}
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.due.Equal(b.due) {
		return a.seq < b.seq
	}
	return a.due.Before(b.due)
}

func (q *queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

func (q *queue) Pop() any {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	q.items = old[:n-1]
	return e
}

func (q *queue) add(due time.Time, action func()) Handle {
	q.seq++
	e := &entry{due: due, seq: q.seq, action: action}
	heap.Push(q, e)
	h := Handle(e.seq)
	q.byHandle[h] = e
	return h
}

func (q *queue) remove(h Handle) bool {
	e, ok := q.byHandle[h]
	if !ok {
		return false
	}
	delete(q.byHandle, h)
	heap.Remove(q, e.index)
	return true
}

func (q *queue) peek() *entry {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// popDue removes and returns the head if it is due at now and was scheduled
// at or before sequence limit.
func (q *queue) popDue(now time.Time, limit uint64) *entry {
	e := q.peek()
	if e == nil || e.due.After(now) || e.seq > limit {
		return nil
	}
	heap.Pop(q)
	delete(q.byHandle, Handle(e.seq))
	return e
}
