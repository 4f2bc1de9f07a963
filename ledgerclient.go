// Package ledgerclient is an asynchronous client for ledger nodes that speak JSON
// request/response and push events over a WebSocket.
//
//	c, err := ledgerclient.Dial("wss://s1.ripple.com", nil)
//	...
//	c.OnLedgerClosed(func(ev ledgerclient.LedgerClosed) { ... })
//	info, err := ledgerclient.Call[ServerInfoResult](ctx, c, "server_info", nil)
//
// The packages under pkg/ hold the pieces; this package re-exports the common ones.
package ledgerclient

import (
	"context"

	"github.com/lightforgemedia/go-ledgerclient/pkg/client"
	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/requests"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
	"github.com/lightforgemedia/go-ledgerclient/pkg/transport/wstransport"
)

// Re-export core types
type (
	Client           = client.Client
	Options          = client.Options
	Option           = client.Option
	RequestOption    = client.RequestOption
	Pending          = client.Pending
	State            = client.State
	ServerInfo       = client.ServerInfo
	Backoff          = client.Backoff
	DrainPolicy      = requests.DrainPolicy
	Stream           = envelope.Stream
	Event            = envelope.Event
	LedgerClosed     = envelope.LedgerClosed
	TransactionEvent = envelope.TransactionEvent
	ServerStatus     = envelope.ServerStatus
	UnknownEvent     = envelope.Unknown
	RemoteError      = rpcerr.RemoteError
	TransportError   = rpcerr.TransportError
	ProtocolError    = rpcerr.ProtocolError
	ListenerError    = rpcerr.ListenerError
)

// Re-export error types
var (
	ErrDisconnected   = rpcerr.ErrDisconnected
	ErrTimeout        = rpcerr.ErrTimeout
	ErrClientClosed   = rpcerr.ErrClientClosed
	ErrConnectTimeout = rpcerr.ErrConnectTimeout
	ErrStaleLedger    = rpcerr.ErrStaleLedger
	ErrNotDone        = client.ErrNotDone
)

const (
	Disconnected = client.Disconnected
	Connecting   = client.Connecting
	Connected    = client.Connected
	Reconnecting = client.Reconnecting

	FailFast = requests.FailFast
	Retry    = requests.Retry

	StreamLedger       = envelope.StreamLedger
	StreamTransactions = envelope.StreamTransactions
	StreamServer       = envelope.StreamServer
)

// New creates a client over a WebSocket transport without connecting it.
func New(opts ...Option) (*Client, error) {
	o := client.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	t := wstransport.New(wstransport.WithLogger(o.Logger))
	return client.NewWithOptions(t, o)
}

// Dial creates a WebSocket client and starts connecting to address. onConnected
// runs once the first connection is open.
func Dial(address string, onConnected func(*Client), opts ...Option) (*Client, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	c.Connect(address, onConnected)
	return c, nil
}

// Call issues command on c and decodes the result into a new T.
func Call[T any](ctx context.Context, c *Client, command string, params any, opts ...RequestOption) (*T, error) {
	return client.Call[T](ctx, c, command, params, opts...)
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return client.DefaultOptions()
}
