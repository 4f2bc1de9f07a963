package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/loop"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
	"github.com/lightforgemedia/go-ledgerclient/pkg/scheduler"
	"github.com/lightforgemedia/go-ledgerclient/pkg/transport"
	"github.com/stretchr/testify/require"
)

// Epoch is the virtual start time of every Pair.
var Epoch = time.Date(2013, time.January, 1, 0, 0, 0, 0, time.UTC)

// Pair bundles everything needed to drive a client deterministically: an in-memory
// transport whose far end the test plays, a virtual scheduler and an inline executor.
// Nothing touches the network or the wall clock.
type Pair struct {
	T         *testing.T
	Transport *MemTransport
	Clock     *scheduler.Virtual
	Executor  *loop.Inline
}

// NewPair builds a Pair. Scheduled actions run through the inline executor, so the
// whole client executes on the test goroutine.
func NewPair(t *testing.T) *Pair {
	t.Helper()
	exec := loop.NewInline()
	return &Pair{
		T:         t,
		Transport: NewMemTransport(),
		Clock:     scheduler.NewVirtual(Epoch),
		Executor:  exec,
	}
}

// Tick advances virtual time by d, firing every action that becomes due.
func (p *Pair) Tick(d time.Duration) {
	p.T.Helper()
	require.NoError(p.T, p.Clock.Advance(d))
}

// MemTransport is an in-memory Transport. The client side uses the Transport methods;
// the test plays the server with Accept, Fail, Drop, Push and Respond.
type MemTransport struct {
	mu          sync.Mutex
	handler     transport.EventSink
	connecting  bool
	connected   bool
	address     string
	sent        []*envelope.Envelope
	read        int
	connects    int
	attempts    []int
	disconnects int
	dropped     int

	// AutoAccept completes every Connect immediately.
	AutoAccept bool
}

var _ transport.Transport = (*MemTransport)(nil)

// NewMemTransport returns a MemTransport that waits for Accept.
func NewMemTransport() *MemTransport {
	return &MemTransport{}
}

func (m *MemTransport) SetHandler(h transport.EventSink) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Connect records the attempt and emits OnConnecting. The dial completes on Accept,
// Fail or Drop.
func (m *MemTransport) Connect(address string, attempt int) {
	m.mu.Lock()
	m.address = address
	m.connects++
	m.attempts = append(m.attempts, attempt)
	m.connecting = true
	m.connected = false
	auto := m.AutoAccept
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnConnecting(attempt)
	}
	if auto {
		m.Accept()
	}
}

func (m *MemTransport) Disconnect() {
	m.mu.Lock()
	m.disconnects++
	m.connecting = false
	m.connected = false
	m.mu.Unlock()
}

func (m *MemTransport) Send(env *envelope.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		m.dropped++
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		m.dropped++
		return
	}
	var copied envelope.Envelope
	if err := json.Unmarshal(raw, &copied); err != nil {
		m.dropped++
		return
	}
	m.sent = append(m.sent, &copied)
}

// Accept completes a pending Connect. It is a no-op when no Connect is pending.
func (m *MemTransport) Accept() {
	m.mu.Lock()
	if !m.connecting {
		m.mu.Unlock()
		return
	}
	m.connecting = false
	m.connected = true
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnConnected()
	}
}

// Fail reports a transport error for the pending or current connection.
func (m *MemTransport) Fail(err error) {
	if err == nil {
		err = errors.New("connection refused")
	}
	m.mu.Lock()
	m.connecting = false
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnError(&rpcerr.TransportError{Op: "dial", Err: err})
	}
}

// Drop severs the connection from the server side.
func (m *MemTransport) Drop(willReconnect bool) {
	m.mu.Lock()
	m.connecting = false
	m.connected = false
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnDisconnected(willReconnect)
	}
}

// Deliver hands env to the client as if it arrived from the server.
func (m *MemTransport) Deliver(env *envelope.Envelope) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnMessage(env)
	}
}

// Push delivers a push event of the given kind.
func (m *MemTransport) Push(kind string, payload any) {
	env, err := envelope.NewEvent(kind, payload)
	if err != nil {
		panic(err)
	}
	m.Deliver(env)
}

// Respond answers req with the given status and result.
func (m *MemTransport) Respond(req *envelope.Envelope, status string, result any) {
	id, ok := req.IDValue()
	if !ok {
		panic("testutil: Respond to an envelope without id")
	}
	env, err := envelope.NewResponse(id, status, result)
	if err != nil {
		panic(err)
	}
	m.Deliver(env)
}

// RespondError answers req with an error response carrying code and message.
func (m *MemTransport) RespondError(req *envelope.Envelope, code, message string) {
	id, ok := req.IDValue()
	if !ok {
		panic("testutil: RespondError to an envelope without id")
	}
	env, err := envelope.NewResponse(id, envelope.StatusError, nil)
	if err != nil {
		panic(err)
	}
	env.Error = &envelope.ErrorPayload{Code: code, Message: message}
	m.Deliver(env)
}

// Sent returns every envelope the client sent, in order.
func (m *MemTransport) Sent() []*envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*envelope.Envelope(nil), m.sent...)
}

// PopSent returns the oldest envelope not yet popped, or nil.
func (m *MemTransport) PopSent() *envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.read >= len(m.sent) {
		return nil
	}
	env := m.sent[m.read]
	m.read++
	return env
}

// Unread is the number of sent envelopes not yet popped.
func (m *MemTransport) Unread() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent) - m.read
}

// LastCommand returns the most recent envelope sent with the given command, or nil.
func (m *MemTransport) LastCommand(command string) *envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Command == command {
			return m.sent[i]
		}
	}
	return nil
}

// Commands lists the commands of every sent envelope, in order.
func (m *MemTransport) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, env := range m.sent {
		out = append(out, env.Command)
	}
	return out
}

// Connected reports whether the client side currently holds an open connection.
func (m *MemTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Address is the address passed to the most recent Connect.
func (m *MemTransport) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Connects counts Connect calls.
func (m *MemTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Attempts lists the attempt number of every Connect call, in order.
func (m *MemTransport) Attempts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.attempts...)
}

// Disconnects counts Disconnect calls.
func (m *MemTransport) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// Dropped counts envelopes sent while not connected.
func (m *MemTransport) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
