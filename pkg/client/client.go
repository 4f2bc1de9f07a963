// Package client implements the ledger client runtime: a connection state machine that
// correlates requests with responses, dispatches push events to listeners and
// reconnects with subscription replay.
//
// All client state lives on one logical thread, the client loop. Public methods are
// safe from any goroutine; they post work onto the loop and never block, except
// Pending.Wait, Call and Close.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/loop"
	"github.com/lightforgemedia/go-ledgerclient/pkg/metrics"
	"github.com/lightforgemedia/go-ledgerclient/pkg/notify"
	"github.com/lightforgemedia/go-ledgerclient/pkg/requests"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
	"github.com/lightforgemedia/go-ledgerclient/pkg/scheduler"
	"github.com/lightforgemedia/go-ledgerclient/pkg/subscriptions"
	"github.com/lightforgemedia/go-ledgerclient/pkg/transport"
	"golang.org/x/time/rate"
)

// Client is a ledger node client.
type Client struct {
	opts   Options
	logger *slog.Logger
	id     string

	transport transport.Transport
	exec      loop.Executor
	sched     scheduler.Scheduler
	timers    loopScheduler
	ownLoop   *loop.Loop
	ownSched  *scheduler.RealTime

	table   *requests.Table
	subs    *subscriptions.Manager
	bus     *notify.Bus
	metrics *metrics.Collector
	limiter *rate.Limiter

	// Owned by the client loop.
	state        State
	address      string
	onConnected  func(*Client)
	attempt      int
	connectTimer scheduler.Handle
	retryTimer   scheduler.Handle
	staleTimer   scheduler.Handle
	closed       bool

	// Mirrors readable from any goroutine.
	stateMirror atomic.Int32
	info        atomic.Pointer[ServerInfo]
	closing     atomic.Bool
}

// New creates a Client over t, configured by DefaultOptions and opts. The client
// starts Disconnected.
func New(t transport.Transport, opts ...Option) (*Client, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return NewWithOptions(t, o)
}

// NewWithOptions creates a Client from an Options struct. Zero values fall back to
// library defaults where a zero would not make sense.
func NewWithOptions(t transport.Transport, opts Options) (*Client, error) {
	if t == nil {
		return nil, errors.New("client: nil transport")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backoff == nil {
		opts.Backoff = Exponential(defaultReconnectDelayMin, defaultReconnectDelayMax)
	}
	if opts.NoticeBuffer <= 0 {
		opts.NoticeBuffer = defaultNoticeBuffer
	}

	c := &Client{
		opts:      opts,
		id:        uuid.NewString(),
		transport: t,
	}
	c.logger = opts.Logger.With("client_id", c.id)

	if opts.Metrics != nil {
		m, err := metrics.New(opts.Metrics, nil)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.metrics = m
	}

	if opts.Executor != nil {
		c.exec = opts.Executor
	} else {
		c.ownLoop = loop.New(c.logger)
		c.exec = c.ownLoop
	}
	if opts.Scheduler != nil {
		c.sched = opts.Scheduler
	} else {
		c.ownSched = scheduler.NewRealTime(c.exec.Post, scheduler.WithLogger(c.logger), scheduler.WithClock(opts.Clock))
		c.sched = c.ownSched
	}
	c.timers = loopScheduler{sched: c.sched, exec: c.exec}

	c.table = requests.NewTable(c.timers,
		requests.WithLogger(c.logger),
		requests.WithPanicHandler(c.reportError),
		requests.WithObserver(c.observe),
	)
	c.subs = subscriptions.New(netSubscriber{c}, c.logger)
	c.bus = notify.New(opts.NoticeBuffer)
	if opts.RequestRate > 0 {
		burst := opts.RequestBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.RequestRate, burst)
	}

	c.info.Store(&ServerInfo{})
	c.metrics.State(Disconnected.String(), allStates)
	t.SetHandler(sink{c})
	return c, nil
}

// ID returns the unique id of this client instance.
func (c *Client) ID() string { return c.id }

// State returns the current connection state.
func (c *Client) State() State { return State(c.stateMirror.Load()) }

// ServerInfo returns a snapshot of what the server last reported.
func (c *Client) ServerInfo() ServerInfo { return *c.info.Load() }

// Notices returns a channel of state, connecting and error notices of the given kinds (all kinds
// when none are given) and a func that cancels the subscription. Notices are dropped
// for a subscriber that does not keep up.
func (c *Client) Notices(kinds ...notify.Kind) (<-chan notify.Notice, func()) {
	return c.bus.Subscribe(kinds...)
}

// Connect starts connecting to address. onConnected, if not nil, runs on the client
// loop exactly once, after the first successful connection that follows this call.
// Connect is ignored while already connecting or connected.
func (c *Client) Connect(address string, onConnected func(*Client)) {
	c.post(func() {
		if c.closed {
			return
		}
		if c.state != Disconnected && c.state != Reconnecting {
			c.logger.Warn("client: connect ignored", "state", c.state, "address", address)
			return
		}
		c.address = address
		c.onConnected = onConnected
		c.attempt = 0
		c.fire(event{kind: evConnect})
	})
}

// Disconnect closes the connection and fails every outstanding request with
// rpcerr.ErrDisconnected. It is a no-op when already disconnected.
func (c *Client) Disconnect() {
	c.post(func() {
		c.fire(event{kind: evDisconnect})
		c.attempt = 0
	})
}

// Close disconnects, fails everything still outstanding with rpcerr.ErrClientClosed
// and releases the client's loop and scheduler. It must not be called from a
// listener or request callback. A second Close returns rpcerr.ErrClientClosed.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return rpcerr.ErrClientClosed
	}
	c.logger.Info("client: closing")

	done := make(chan struct{})
	posted := c.post(func() {
		defer close(done)
		c.fire(event{kind: evDisconnect, cause: rpcerr.ErrClientClosed})
		c.table.Drain(requests.FailFast, rpcerr.ErrClientClosed)
		c.closed = true
		c.bus.Close()
	})

	if c.ownLoop != nil {
		if posted {
			<-done
		}
		c.ownLoop.Stop()
		<-c.ownLoop.Done()
	}
	if c.ownSched != nil {
		c.ownSched.Stop()
	}
	return nil
}

func (c *Client) post(fn func()) bool {
	if c.ownLoop != nil {
		return c.ownLoop.TryPost(fn)
	}
	c.exec.Post(fn)
	return true
}

// fire feeds ev to the state machine and applies the resulting effects.
func (c *Client) fire(ev event) {
	if c.closed {
		return
	}
	p := policy{
		autoReconnect: c.opts.AutoReconnect,
		exhausted:     c.opts.MaxReconnectAttempts > 0 && c.attempt >= c.opts.MaxReconnectAttempts,
		retryPending:  c.retryTimer != 0,
	}
	next, effects := step(c.state, ev, p)
	if next != c.state {
		c.setState(next)
	}
	for _, fx := range effects {
		c.apply(fx, ev)
	}
	c.metrics.Outstanding(c.table.Len(), c.table.Held())
}

func (c *Client) setState(next State) {
	prev := c.state
	c.state = next
	c.stateMirror.Store(int32(next))
	c.metrics.State(next.String(), allStates)
	c.logger.Info("client: state change", "from", prev, "to", next, "attempt", c.attempt)
	c.bus.Publish(notify.Notice{
		Kind:    notify.KindState,
		At:      c.sched.Now(),
		From:    prev.String(),
		To:      next.String(),
		Attempt: c.attempt,
	})
}

func (c *Client) apply(fx effect, ev event) {
	switch fx {
	case fxDial:
		c.logger.Info("client: connecting", "address", c.address, "attempt", c.attempt)
		c.bus.Publish(notify.Notice{
			Kind:    notify.KindConnecting,
			At:      c.sched.Now(),
			To:      c.state.String(),
			Attempt: c.attempt,
		})
		c.transport.Connect(c.address, c.attempt)
		if c.opts.ConnectTimeout > 0 {
			var h scheduler.Handle
			h = c.timers.Schedule(c.opts.ConnectTimeout, func() {
				if c.connectTimer != h {
					return
				}
				c.connectTimer = 0
				c.reportError(rpcerr.ErrConnectTimeout)
				c.fire(event{kind: evFailed, cause: rpcerr.ErrConnectTimeout})
			})
			c.connectTimer = h
		}

	case fxHangUp:
		c.transport.Disconnect()

	case fxDisarm:
		c.cancelTimer(&c.connectTimer)
		c.cancelTimer(&c.retryTimer)

	case fxScheduleRetry:
		delay := c.opts.Backoff(c.attempt)
		c.attempt++
		c.metrics.Reconnect()
		c.logger.Info("client: reconnect scheduled", "attempt", c.attempt, "delay", delay)
		var h scheduler.Handle
		h = c.timers.Schedule(delay, func() {
			if c.retryTimer != h {
				return
			}
			c.retryTimer = 0
			c.fire(event{kind: evRetryDue})
		})
		c.retryTimer = h

	case fxFailAll:
		c.table.Drain(requests.FailFast, ev.cause)

	case fxDrain:
		c.table.Drain(c.opts.DrainPolicy, ev.cause)

	case fxOnline:
		c.goOnline()

	case fxOffline:
		c.subs.MarkOffline()
		c.cancelTimer(&c.staleTimer)
	}
}

func (c *Client) cancelTimer(h *scheduler.Handle) {
	if *h != 0 {
		c.timers.Cancel(*h)
		*h = 0
	}
}

func (c *Client) goOnline() {
	c.attempt = 0
	c.subs.ResubscribeAll()
	for _, req := range c.table.Resend() {
		c.transmit(req)
	}
	c.armStale()

	if cb := c.onConnected; cb != nil {
		c.onConnected = nil
		if err := rpcerr.Recover(func() { cb(c) }); err != nil {
			c.reportError(fmt.Errorf("connect callback: %w", err))
		}
	}
}

func (c *Client) armStale() {
	if c.opts.StaleLedgerTimeout <= 0 || c.state != Connected {
		return
	}
	c.cancelTimer(&c.staleTimer)
	var h scheduler.Handle
	h = c.timers.Schedule(c.opts.StaleLedgerTimeout, func() {
		if c.staleTimer != h || c.state != Connected {
			return
		}
		c.staleTimer = 0
		c.logger.Warn("client: no ledger closed in time, reconnecting", "timeout", c.opts.StaleLedgerTimeout)
		c.reportError(rpcerr.ErrStaleLedger)
		c.fire(event{kind: evStale, cause: rpcerr.ErrStaleLedger})
	})
	c.staleTimer = h
}

func (c *Client) handleMessage(env *envelope.Envelope) {
	if c.closed {
		return
	}
	if env.IsResponse() {
		if !c.table.Resolve(env) {
			c.protocolError(&rpcerr.ProtocolError{ID: env.ID, Kind: env.Type, Reason: "no pending request with this id"})
		}
		c.metrics.Outstanding(c.table.Len(), c.table.Held())
		return
	}

	ev, err := envelope.DecodeEvent(env)
	if err != nil {
		c.protocolError(&rpcerr.ProtocolError{ID: env.ID, Kind: env.Type, Reason: err.Error()})
		return
	}
	c.metrics.PushEvent(string(ev.Stream()))

	switch e := ev.(type) {
	case envelope.LedgerClosed:
		c.updateInfo(func(info *ServerInfo) { info.applyLedger(e) })
		c.armStale()
	case envelope.ServerStatus:
		c.updateInfo(func(info *ServerInfo) { info.applyStatus(e) })
	}

	for _, lerr := range c.subs.Dispatch(ev) {
		c.metrics.ListenerError()
		c.reportError(lerr)
	}
}

func (c *Client) updateInfo(fn func(*ServerInfo)) {
	next := *c.info.Load()
	fn(&next)
	next.Updated = c.sched.Now()
	c.info.Store(&next)
}

func (c *Client) protocolError(err *rpcerr.ProtocolError) {
	c.logger.Warn("client: dropped inbound message", "error", err)
	c.metrics.ProtocolError()
}

// reportError delivers a connection-scoped error to the error observer and the
// notice bus.
func (c *Client) reportError(err error) {
	c.logger.Warn("client: error", "error", err)
	c.bus.Publish(notify.Notice{Kind: notify.KindError, At: c.sched.Now(), Err: err})
	if c.opts.OnError != nil {
		if perr := rpcerr.Recover(func() { c.opts.OnError(err) }); perr != nil {
			c.logger.Error("client: error handler panicked", "error", perr)
		}
	}
}

func (c *Client) observe(_ *requests.Request, res requests.Result) {
	var remote *rpcerr.RemoteError
	switch {
	case res.Err == nil:
		c.metrics.Request(metrics.OutcomeSuccess)
	case errors.Is(res.Err, rpcerr.ErrTimeout):
		c.metrics.Request(metrics.OutcomeTimeout)
	case errors.As(res.Err, &remote):
		c.metrics.Request(metrics.OutcomeRemoteError)
	default:
		c.metrics.Request(metrics.OutcomeDisconnected)
	}
}

// issue routes a new request according to the connection state.
func (c *Client) issue(req *requests.Request) {
	if c.closed {
		c.failNow(req, rpcerr.ErrClientClosed)
		return
	}
	switch c.state {
	case Connected:
		c.table.Register(req)
		c.transmit(req)
	case Disconnected:
		if c.opts.DrainPolicy == requests.FailFast || req.NoResend {
			c.failNow(req, rpcerr.ErrDisconnected)
			return
		}
		c.table.Hold(req)
	default:
		if req.NoResend {
			c.failNow(req, rpcerr.ErrDisconnected)
			return
		}
		c.table.Hold(req)
	}
	c.metrics.Outstanding(c.table.Len(), c.table.Held())
}

func (c *Client) failNow(req *requests.Request, err error) {
	res := requests.Result{Err: err}
	c.observe(req, res)
	if req.Callback == nil {
		return
	}
	if perr := rpcerr.Recover(func() { req.Callback(res) }); perr != nil {
		c.reportError(fmt.Errorf("callback for %s: %w", req.Command, perr))
	}
}

// transmit sends a registered request, deferring it when the rate limit is exceeded.
func (c *Client) transmit(req *requests.Request) {
	if c.limiter != nil {
		now := c.sched.Now()
		r := c.limiter.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			id := req.ID
			c.logger.Debug("client: rate limited", "id", id, "command", req.Command, "delay", d)
			c.timers.Schedule(d, func() {
				if req.Done() || req.ID != id || c.state != Connected {
					return
				}
				c.send(req)
			})
			return
		}
	}
	c.send(req)
}

func (c *Client) send(req *requests.Request) {
	env, err := req.Envelope()
	if err != nil {
		c.logger.Error("client: cannot encode request", "id", req.ID, "command", req.Command, "error", err)
		return
	}
	c.logger.Debug("client: sending request", "id", req.ID, "command", req.Command)
	c.transport.Send(env)
}

// loopScheduler runs scheduled actions on the client loop.
type loopScheduler struct {
	sched scheduler.Scheduler
	exec  loop.Executor
}

func (l loopScheduler) Now() time.Time { return l.sched.Now() }

func (l loopScheduler) Schedule(delay time.Duration, action func()) scheduler.Handle {
	return l.sched.Schedule(delay, func() { l.exec.Post(action) })
}

func (l loopScheduler) Cancel(h scheduler.Handle) bool { return l.sched.Cancel(h) }

// sink hands transport events to the client loop.
type sink struct{ c *Client }

func (s sink) OnConnecting(attempt int) {
	s.c.logger.Debug("client: transport connecting", "attempt", attempt)
}

func (s sink) OnConnected() {
	s.c.post(func() { s.c.fire(event{kind: evOpened}) })
}

func (s sink) OnDisconnected(willReconnect bool) {
	s.c.post(func() { s.c.fire(event{kind: evDropped, willReconnect: willReconnect}) })
}

func (s sink) OnMessage(env *envelope.Envelope) {
	s.c.post(func() { s.c.handleMessage(env) })
}

func (s sink) OnError(err error) {
	s.c.post(func() {
		if s.c.closed {
			return
		}
		s.c.reportError(err)
		s.c.fire(event{kind: evFailed, cause: err})
	})
}

// netSubscriber sends the subscribe and unsubscribe commands for the subscription
// manager. They are never resent; the manager replays them after a reconnect.
type netSubscriber struct{ c *Client }

func (n netSubscriber) Subscribe(stream envelope.Stream) {
	n.c.streamCommand("subscribe", stream)
}

func (n netSubscriber) Unsubscribe(stream envelope.Stream) {
	n.c.streamCommand("unsubscribe", stream)
}

func (c *Client) streamCommand(command string, stream envelope.Stream) {
	params, _ := json.Marshal(map[string][]string{"streams": {string(stream)}})
	c.issue(&requests.Request{
		Command:  command,
		Params:   json.RawMessage(params),
		Timeout:  c.opts.DefaultRequestTimeout,
		NoResend: true,
		Callback: func(res requests.Result) {
			if res.Err == nil || errors.Is(res.Err, rpcerr.ErrDisconnected) || errors.Is(res.Err, rpcerr.ErrClientClosed) {
				return
			}
			c.reportError(fmt.Errorf("%s %s: %w", command, stream, res.Err))
		},
	})
}

// Subscribe registers listener on stream and returns a func that removes it. The
// network subscribe is sent once per stream and replayed after every reconnect.
func (c *Client) Subscribe(stream envelope.Stream, listener subscriptions.Listener) (unsubscribe func()) {
	var id subscriptions.ListenerID
	c.post(func() {
		if c.closed {
			return
		}
		id = c.subs.AddListener(stream, listener)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			c.post(func() {
				if id != 0 {
					c.subs.RemoveListener(id)
				}
			})
		})
	}
}

// OnLedgerClosed calls fn for every ledgerClosed event.
func (c *Client) OnLedgerClosed(fn func(envelope.LedgerClosed)) (unsubscribe func()) {
	return c.Subscribe(envelope.StreamLedger, func(ev envelope.Event) error {
		if lc, ok := ev.(envelope.LedgerClosed); ok {
			fn(lc)
		}
		return nil
	})
}

// OnValidatedTransaction calls fn for every transaction event the server marks validated.
func (c *Client) OnValidatedTransaction(fn func(envelope.TransactionEvent)) (unsubscribe func()) {
	return c.Subscribe(envelope.StreamTransactions, func(ev envelope.Event) error {
		if tx, ok := ev.(envelope.TransactionEvent); ok && tx.Validated {
			fn(tx)
		}
		return nil
	})
}

// OnServerStatus calls fn for every serverStatus event.
func (c *Client) OnServerStatus(fn func(envelope.ServerStatus)) (unsubscribe func()) {
	return c.Subscribe(envelope.StreamServer, func(ev envelope.Event) error {
		if st, ok := ev.(envelope.ServerStatus); ok {
			fn(st)
		}
		return nil
	})
}
