// Package notify fans out client state changes and connection-scoped errors to any
// number of observers without ever blocking the publisher.
package notify

import (
	"sync"
	"time"

	"github.com/cskr/pubsub"
)

// Kind selects a class of notices.
type Kind string

const (
	KindState      Kind = "state"
	KindConnecting Kind = "connecting"
	KindError      Kind = "error"
)

// Notice is one published notification. State notices carry From, To and the
// reconnect Attempt; connecting notices carry the Attempt about to be dialed (0 for
// the first try, n for retry n); error notices carry Err.
type Notice struct {
	Kind    Kind
	At      time.Time
	From    string
	To      string
	Attempt int
	Err     error
}

// Bus is a non-blocking notice fan-out built on cskr/pubsub.
type Bus struct {
	ps       *pubsub.PubSub
	mu       sync.Mutex
	shutdown bool
}

// New creates a bus whose per-subscriber queues hold capacity notices. Notices to a
// subscriber with a full queue are dropped.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{ps: pubsub.New(capacity)}
}

// Publish sends n to subscribers of n.Kind.
func (b *Bus) Publish(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	b.ps.TryPub(n, string(n.Kind))
}

// Subscribe returns a channel of notices of the given kinds (all kinds when none are
// given) and a cancel func that closes it.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Notice, func()) {
	if len(kinds) == 0 {
		kinds = []Kind{KindState, KindConnecting, KindError}
	}
	topics := make([]string, len(kinds))
	for i, k := range kinds {
		topics[i] = string(k)
	}

	out := make(chan Notice)
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		close(out)
		return out, func() {}
	}
	raw := b.ps.Sub(topics...)
	b.mu.Unlock()

	go func() {
		defer close(out)
		for v := range raw {
			if n, ok := v.(Notice); ok {
				out <- n
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if !b.shutdown {
				b.ps.Unsub(raw, topics...)
			}
			b.mu.Unlock()
			// Unblock the forwarder if nobody is reading.
			go func() {
				for range out {
				}
			}()
		})
	}
	return out, cancel
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return
	}
	b.shutdown = true
	b.ps.Shutdown()
}
