// Package requests correlates outgoing requests with the responses that answer them.
//
// A Table is owned by a single goroutine (the client loop) and does no locking. Ids are
// allocated from 1 and never reused for the lifetime of a Table, so a late response
// for a retired id can never complete a newer request.
package requests

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
	"github.com/lightforgemedia/go-ledgerclient/pkg/scheduler"
)

// DrainPolicy decides what happens to outstanding requests when the connection is lost.
type DrainPolicy int

const (
	// FailFast fails every outstanding request with rpcerr.ErrDisconnected.
	FailFast DrainPolicy = iota
	// Retry holds outstanding requests and resends them with fresh ids once the
	// connection is back. A resent request may execute twice on the server.
	Retry
)

func (p DrainPolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("DrainPolicy(%d)", int(p))
	}
}

// Result is what a request's callback receives: a payload or an error, never both.
type Result struct {
	ID      uint64
	Payload json.RawMessage
	Err     error
}

// Request is one client-issued command.
type Request struct {
	ID       uint64
	Command  string
	Params   any
	Callback func(Result)
	// Timeout, when positive, bounds the time from first issue to completion,
	// including any time spent held during an outage.
	Timeout  time.Duration
	IssuedAt time.Time
	// NoResend marks requests that must not survive a reconnect, such as the
	// subscribe commands the client replays on its own.
	NoResend bool

	timer scheduler.Handle
	done  bool
}

// Done reports whether the request has reached a terminal state.
func (r *Request) Done() bool { return r.done }

// Envelope renders the request for the wire.
func (r *Request) Envelope() (*envelope.Envelope, error) {
	return envelope.NewRequest(r.ID, r.Command, r.Params)
}

// Table tracks requests awaiting a response and requests held during an outage.
type Table struct {
	sched    scheduler.Scheduler
	logger   *slog.Logger
	onPanic  func(error)
	observer func(*Request, Result)

	next    uint64
	pending map[uint64]*Request
	held    []*Request
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithPanicHandler receives the error recovered from a panicking callback.
func WithPanicHandler(fn func(error)) Option {
	return func(t *Table) { t.onPanic = fn }
}

// WithObserver is called after every completion, before the request's callback.
func WithObserver(fn func(*Request, Result)) Option {
	return func(t *Table) { t.observer = fn }
}

// NewTable returns an empty Table that arms request timeouts on sched.
func NewTable(sched scheduler.Scheduler, opts ...Option) *Table {
	t := &Table{
		sched:   sched,
		logger:  slog.Default(),
		pending: make(map[uint64]*Request),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.onPanic == nil {
		logger := t.logger
		t.onPanic = func(err error) {
			logger.Error("requests: callback panicked", "error", err)
		}
	}
	return t
}

// Register assigns the next id to req and records it as awaiting a response.
func (t *Table) Register(req *Request) uint64 {
	t.next++
	req.ID = t.next
	t.pending[req.ID] = req
	t.arm(req)
	return req.ID
}

// Hold queues a request that could not be sent because the connection is down.
// It keeps no id until Resend registers it.
func (t *Table) Hold(req *Request) {
	t.held = append(t.held, req)
	t.arm(req)
}

func (t *Table) arm(req *Request) {
	if req.IssuedAt.IsZero() {
		req.IssuedAt = t.sched.Now()
	}
	if req.Timeout > 0 && req.timer == 0 {
		req.timer = t.sched.Schedule(req.Timeout, func() { t.expire(req) })
	}
}

// Resolve completes the request env answers. It returns false when no pending
// request has env's id; the caller reports that as a protocol error.
func (t *Table) Resolve(env *envelope.Envelope) bool {
	id, ok := env.IDValue()
	if !ok {
		return false
	}
	req, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)

	res := Result{ID: id}
	if env.Status == envelope.StatusError || env.Error != nil {
		remote := &rpcerr.RemoteError{Payload: env.Payload}
		if env.Error != nil {
			remote.Code = env.Error.Code
			remote.Message = env.Error.Message
		}
		if remote.Code == "" {
			remote.Code = "unknown"
		}
		res.Err = remote
	} else {
		res.Payload = env.Payload
	}
	t.complete(req, res)
	return true
}

// Timeout fails the request with id with rpcerr.ErrTimeout. It returns false when
// the request already completed.
func (t *Table) Timeout(id uint64) bool {
	if req, ok := t.pending[id]; ok {
		return t.expire(req)
	}
	for _, req := range t.held {
		if req.ID != 0 && req.ID == id {
			return t.expire(req)
		}
	}
	return false
}

func (t *Table) expire(req *Request) bool {
	if req.done {
		return false
	}
	if !t.remove(req) {
		return false
	}
	t.logger.Debug("requests: timed out", "id", req.ID, "command", req.Command)
	t.complete(req, Result{ID: req.ID, Err: rpcerr.ErrTimeout})
	return true
}

func (t *Table) remove(req *Request) bool {
	if cur, ok := t.pending[req.ID]; ok && cur == req {
		delete(t.pending, req.ID)
		return true
	}
	for i, h := range t.held {
		if h == req {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the pending set after the connection was lost. Under FailFast every
// pending and held request fails with rpcerr.ErrDisconnected; under Retry resendable
// requests move to the held queue and the rest fail.
func (t *Table) Drain(policy DrainPolicy, cause error) {
	pending := t.sortedPending()
	t.pending = make(map[uint64]*Request)

	failure := rpcerr.ErrDisconnected
	if cause != nil {
		failure = fmt.Errorf("%w: %w", rpcerr.ErrDisconnected, cause)
	}

	if policy == Retry {
		var keep []*Request
		for _, req := range pending {
			if req.NoResend {
				t.complete(req, Result{ID: req.ID, Err: failure})
				continue
			}
			keep = append(keep, req)
		}
		t.held = append(keep, t.held...)
		if len(keep) > 0 {
			t.logger.Debug("requests: holding for resend", "count", len(keep))
		}
		return
	}

	held := t.held
	t.held = nil
	for _, req := range append(pending, held...) {
		t.complete(req, Result{ID: req.ID, Err: failure})
	}
}

// Resend registers every held request under a fresh id, in the order they were
// held, and returns them for sending.
func (t *Table) Resend() []*Request {
	held := t.held
	t.held = nil
	for _, req := range held {
		old := req.ID
		t.Register(req)
		if old != 0 {
			t.logger.Debug("requests: resending", "old_id", old, "id", req.ID, "command", req.Command)
		}
	}
	return held
}

// Len is the number of requests awaiting a response.
func (t *Table) Len() int { return len(t.pending) }

// Held is the number of requests waiting for the connection to come back.
func (t *Table) Held() int { return len(t.held) }

// NextID is the id the next Register will assign.
func (t *Table) NextID() uint64 { return t.next + 1 }

func (t *Table) sortedPending() []*Request {
	out := make([]*Request, 0, len(t.pending))
	for _, req := range t.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Table) complete(req *Request, res Result) {
	req.done = true
	if req.timer != 0 {
		t.sched.Cancel(req.timer)
		req.timer = 0
	}
	if t.observer != nil {
		t.observer(req, res)
	}
	if req.Callback == nil {
		return
	}
	if err := rpcerr.Recover(func() { req.Callback(res) }); err != nil {
		t.onPanic(fmt.Errorf("callback for %s (id %d): %w", req.Command, req.ID, err))
	}
}
