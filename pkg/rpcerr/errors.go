// Package rpcerr defines the error kinds surfaced by the ledger client runtime.
//
// Request-scoped errors (ErrDisconnected, ErrTimeout, *RemoteError) are only ever
// delivered to the callback of the request they belong to. Connection-scoped errors
// (*TransportError) and isolated listener faults (*ListenerError) go to the client's
// error observer. *ProtocolError values are logged and dropped.
package rpcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned to a request whose channel was lost under the
	// fail-fast policy, or that was issued while the client was disconnected.
	ErrDisconnected = errors.New("ledgerclient: disconnected")

	// ErrTimeout is returned to a request whose deadline expired before a response arrived.
	ErrTimeout = errors.New("ledgerclient: request timed out")

	// ErrClientClosed is returned by operations on a client after Close.
	ErrClientClosed = errors.New("ledgerclient: client closed")

	// ErrConnectTimeout is reported when a connection attempt does not complete in time.
	ErrConnectTimeout = errors.New("ledgerclient: connect attempt timed out")

	// ErrStaleLedger is reported when no ledger closed within the stale-ledger timeout
	// and the client dropped the connection to reconnect.
	ErrStaleLedger = errors.New("ledgerclient: no ledger closed within stale timeout")
)

// TransportError is a transient fault reported by the transport.
type TransportError struct {
	Op  string // "dial", "read", "write", "ping"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError describes an inbound message that could not be matched or decoded.
type ProtocolError struct {
	ID     *uint64
	Kind   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("protocol error (id %d, kind %q): %s", *e.ID, e.Kind, e.Reason)
	}
	return fmt.Sprintf("protocol error (kind %q): %s", e.Kind, e.Reason)
}

// ListenerError wraps a fault raised by an application listener during dispatch.
type ListenerError struct {
	Stream string
	Err    error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener on stream %q failed: %v", e.Stream, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// RemoteError is a response the server marked with status "error".
type RemoteError struct {
	Code    string
	Message string
	Payload []byte
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %s", e.Code)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Recover runs fn and converts a panic into an error.
func Recover(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", e)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
