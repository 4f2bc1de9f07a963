package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/requests"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
)

// ErrNotDone is returned by Pending.Result before the request completes.
var ErrNotDone = errors.New("client: request not completed")

// RequestOption configures a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout    time.Duration
	hasTimeout bool
	callback   func(json.RawMessage, error)
}

// WithTimeout overrides the client's default request timeout. Zero disables the
// deadline for this request.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		c.timeout = d
		c.hasTimeout = true
	}
}

// WithCallback runs fn on the client loop when the request completes, before any
// waiter is released.
func WithCallback(fn func(json.RawMessage, error)) RequestOption {
	return func(c *requestConfig) { c.callback = fn }
}

// Pending is the handle of an issued request. It completes exactly once.
type Pending struct {
	command string
	done    chan struct{}
	once    sync.Once

	id      uint64
	payload json.RawMessage
	err     error
}

func newPending(command string) *Pending {
	return &Pending{command: command, done: make(chan struct{})}
}

func (p *Pending) resolve(id uint64, payload json.RawMessage, err error) {
	p.once.Do(func() {
		p.id = id
		p.payload = payload
		p.err = err
		close(p.done)
	})
}

// Command is the command this request carries.
func (p *Pending) Command() string { return p.command }

// Done is closed once the request has completed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// ID is the id the request was last sent with, or 0 if it never was.
func (p *Pending) ID() uint64 {
	select {
	case <-p.done:
		return p.id
	default:
		return 0
	}
}

// Result returns the response payload or the failure. It returns ErrNotDone while
// the request is outstanding.
func (p *Pending) Result() (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	default:
		return nil, ErrNotDone
	}
}

// Wait blocks until the request completes or ctx is done. Abandoning the wait does
// not cancel the request.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request issues command with params and returns its handle immediately. params is
// encoded as the request payload; nil sends no payload.
//
// When connected the request is sent at once. While connecting or reconnecting it
// is held and sent after the connection opens. While disconnected it fails with
// rpcerr.ErrDisconnected, unless the drain policy is Retry, in which case it is held
// until the next connection.
func (c *Client) Request(command string, params any, opts ...RequestOption) *Pending {
	cfg := requestConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	timeout := c.opts.DefaultRequestTimeout
	if cfg.hasTimeout {
		timeout = cfg.timeout
	}

	p := newPending(command)
	fail := func(err error) *Pending { return c.failed(p, cfg, err) }

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fail(fmt.Errorf("client: encode %s params: %w", command, err))
		}
		raw = b
	}
	if c.closing.Load() {
		return fail(rpcerr.ErrClientClosed)
	}

	req := &requests.Request{
		Command: command,
		Timeout: timeout,
		Callback: func(res requests.Result) {
			defer p.resolve(res.ID, res.Payload, res.Err)
			if cfg.callback != nil {
				cfg.callback(res.Payload, res.Err)
			}
		},
	}
	if raw != nil {
		req.Params = raw
	}
	if !c.post(func() { c.issue(req) }) {
		return fail(rpcerr.ErrClientClosed)
	}
	return p
}

// failed completes p with err without it ever reaching the loop.
func (c *Client) failed(p *Pending, cfg requestConfig, err error) *Pending {
	if cfg.callback != nil {
		if perr := rpcerr.Recover(func() { cfg.callback(nil, err) }); perr != nil {
			c.logger.Error("client: request callback panicked", "command", p.command, "error", perr)
		}
	}
	p.resolve(0, nil, err)
	return p
}

// Call issues command and decodes a successful response into a new T. A JSON null
// result yields the zero T.
func Call[T any](ctx context.Context, c *Client, command string, params any, opts ...RequestOption) (*T, error) {
	payload, err := c.Request(command, params, opts...).Wait(ctx)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if len(payload) == 0 || string(payload) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, fmt.Errorf("client: decode %s result: %w", command, err)
	}
	return out, nil
}
