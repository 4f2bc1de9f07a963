// Package subscriptions tracks which push-event streams have listeners and keeps the
// server-side subscription state in step with them across reconnects.
package subscriptions

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
)

// Listener receives events from one stream. A returned error is reported and does not
// affect other listeners.
type Listener func(envelope.Event) error

// ListenerID identifies a registered listener.
type ListenerID uint64

// Subscriber performs the network side of subscribing.
type Subscriber interface {
	Subscribe(stream envelope.Stream)
	Unsubscribe(stream envelope.Stream)
}

type entry struct {
	id ListenerID
	fn Listener
}

// Manager maps streams to ordered listener lists. It is owned by the client loop and
// does no locking.
type Manager struct {
	sub    Subscriber
	logger *slog.Logger

	next      ListenerID
	streams   map[envelope.Stream][]entry
	byID      map[ListenerID]envelope.Stream
	online    bool
	onNetwork map[envelope.Stream]bool
}

// New returns a Manager that starts offline.
func New(sub Subscriber, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sub:       sub,
		logger:    logger,
		streams:   make(map[envelope.Stream][]entry),
		byID:      make(map[ListenerID]envelope.Stream),
		onNetwork: make(map[envelope.Stream]bool),
	}
}

// AddListener registers fn on stream. The first listener on a stream that is not yet
// subscribed sends one subscribe if the manager is online; otherwise the subscribe is
// deferred to ResubscribeAll.
func (m *Manager) AddListener(stream envelope.Stream, fn Listener) ListenerID {
	m.next++
	id := m.next
	m.streams[stream] = append(m.streams[stream], entry{id: id, fn: fn})
	m.byID[id] = stream

	if m.online && !m.onNetwork[stream] {
		m.onNetwork[stream] = true
		m.sub.Subscribe(stream)
	}
	return id
}

// RemoveListener unregisters a listener. Removing the last listener of a stream while
// online sends one unsubscribe. Unknown ids are ignored.
func (m *Manager) RemoveListener(id ListenerID) bool {
	stream, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)

	list := m.streams[stream]
	for i, e := range list {
		if e.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) > 0 {
		m.streams[stream] = list
		return true
	}

	delete(m.streams, stream)
	if m.onNetwork[stream] {
		delete(m.onNetwork, stream)
		if m.online {
			m.sub.Unsubscribe(stream)
		}
	}
	return true
}

// Dispatch delivers ev to the listeners of its stream in registration order. Every
// listener runs even if an earlier one fails; failures come back as
// *rpcerr.ListenerError values.
func (m *Manager) Dispatch(ev envelope.Event) []error {
	stream := ev.Stream()
	list := m.streams[stream]
	if len(list) == 0 {
		m.logger.Debug("subscriptions: no listener for event", "stream", stream, "kind", ev.Kind())
		return nil
	}

	// Listeners may add or remove listeners; iterate over the list as it was.
	snapshot := append([]entry(nil), list...)
	var errs []error
	for _, e := range snapshot {
		if _, live := m.byID[e.id]; !live {
			continue
		}
		var lerr error
		if perr := rpcerr.Recover(func() { lerr = e.fn(ev) }); perr != nil {
			lerr = perr
		}
		if lerr != nil {
			errs = append(errs, &rpcerr.ListenerError{Stream: string(stream), Err: lerr})
		}
	}
	return errs
}

// ResubscribeAll marks the manager online and sends exactly one subscribe for every
// stream with at least one listener, in name order.
func (m *Manager) ResubscribeAll() {
	m.online = true
	m.onNetwork = make(map[envelope.Stream]bool, len(m.streams))
	for _, stream := range m.Streams() {
		m.onNetwork[stream] = true
		m.sub.Subscribe(stream)
	}
}

// MarkOffline records that the server forgot our subscriptions. Listeners are kept.
func (m *Manager) MarkOffline() {
	m.online = false
	m.onNetwork = make(map[envelope.Stream]bool)
}

// Online reports whether the server-side subscription state is current.
func (m *Manager) Online() bool { return m.online }

// Streams returns the streams that have listeners, sorted.
func (m *Manager) Streams() []envelope.Stream {
	out := make([]envelope.Stream, 0, len(m.streams))
	for stream := range m.streams {
		out = append(out, stream)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Listeners is the number of listeners on stream.
func (m *Manager) Listeners(stream envelope.Stream) int {
	return len(m.streams[stream])
}

func (id ListenerID) String() string { return fmt.Sprintf("listener-%d", uint64(id)) }
