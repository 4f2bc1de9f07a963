// Package transport defines the boundary between the client runtime and the channel
// that carries envelopes to and from the ledger node.
package transport

import "github.com/lightforgemedia/go-ledgerclient/pkg/envelope"

// Transport is a persistent, message-oriented, full-duplex channel.
//
// Connect is asynchronous: it emits OnConnecting(attempt) before dialing and the
// outcome arrives as further EventSink calls. attempt is owned by the caller: 0 for
// the first try, n for retry n. Disconnect is idempotent and does not emit
// OnDisconnected. Send drops (and logs) when the channel is not open.
type Transport interface {
	SetHandler(h EventSink)
	Connect(address string, attempt int)
	Disconnect()
	Send(env *envelope.Envelope)
}

// EventSink receives lifecycle events and inbound messages from a Transport.
// A Transport delivers each event exactly once, never concurrently, and messages in
// arrival order.
type EventSink interface {
	OnConnecting(attempt int)
	OnConnected()
	OnDisconnected(willReconnect bool)
	OnMessage(env *envelope.Envelope)
	OnError(err error)
}

// Funcs adapts plain functions to EventSink. Nil fields are ignored.
type Funcs struct {
	Connecting   func(attempt int)
	Connected    func()
	Disconnected func(willReconnect bool)
	Message      func(env *envelope.Envelope)
	Error        func(err error)
}

func (f Funcs) OnConnecting(attempt int) {
	if f.Connecting != nil {
		f.Connecting(attempt)
	}
}

func (f Funcs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f Funcs) OnDisconnected(willReconnect bool) {
	if f.Disconnected != nil {
		f.Disconnected(willReconnect)
	}
}

func (f Funcs) OnMessage(env *envelope.Envelope) {
	if f.Message != nil {
		f.Message(env)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}
