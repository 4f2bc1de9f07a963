package client

import (
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lightforgemedia/go-ledgerclient/pkg/loop"
	"github.com/lightforgemedia/go-ledgerclient/pkg/requests"
	"github.com/lightforgemedia/go-ledgerclient/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout    = 10 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultReconnectDelayMin = 1 * time.Second
	defaultReconnectDelayMax = 30 * time.Second
	defaultNoticeBuffer      = 64
)

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger *slog.Logger

	// Scheduler drives request timeouts, reconnect retries and the stale-ledger
	// watchdog. Nil creates a real-time scheduler on Clock.
	Scheduler scheduler.Scheduler
	// Clock is the time source of the default real-time scheduler. Nil uses the
	// system clock.
	Clock clock.Clock
	// Executor is the client loop. Nil starts a dedicated goroutine loop that Close stops.
	Executor loop.Executor

	// DefaultRequestTimeout applies to requests issued without WithTimeout. Zero
	// disables the default deadline.
	DefaultRequestTimeout time.Duration
	// ConnectTimeout bounds each connection attempt. Zero waits for the transport.
	ConnectTimeout time.Duration

	AutoReconnect bool
	// MaxReconnectAttempts stops reconnecting after this many consecutive failed
	// attempts. 0 means no limit.
	MaxReconnectAttempts int
	Backoff              Backoff
	DrainPolicy          requests.DrainPolicy

	// StaleLedgerTimeout, when positive, reconnects if no ledgerClosed event arrives
	// within it while connected.
	StaleLedgerTimeout time.Duration

	// RequestRate limits outbound requests per second. Zero disables limiting.
	RequestRate  rate.Limit
	RequestBurst int

	// OnError observes connection-scoped errors and isolated listener failures.
	// It runs on the client loop.
	OnError func(error)

	// Metrics, when set, registers the client's Prometheus collectors.
	Metrics prometheus.Registerer

	// NoticeBuffer is the per-subscriber queue length of Notices channels.
	NoticeBuffer int
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:                slog.Default(),
		DefaultRequestTimeout: defaultRequestTimeout,
		ConnectTimeout:        defaultConnectTimeout,
		AutoReconnect:         true,
		Backoff:               Exponential(defaultReconnectDelayMin, defaultReconnectDelayMax),
		DrainPolicy:           requests.FailFast,
		NoticeBuffer:          defaultNoticeBuffer,
	}
}

// Validate reports configuration values that cannot work.
func (o Options) Validate() error {
	var errs []error
	if o.DefaultRequestTimeout < 0 {
		errs = append(errs, errors.New("client: DefaultRequestTimeout must not be negative"))
	}
	if o.ConnectTimeout < 0 {
		errs = append(errs, errors.New("client: ConnectTimeout must not be negative"))
	}
	if o.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("client: MaxReconnectAttempts must not be negative"))
	}
	if o.StaleLedgerTimeout < 0 {
		errs = append(errs, errors.New("client: StaleLedgerTimeout must not be negative"))
	}
	if o.RequestRate < 0 {
		errs = append(errs, errors.New("client: RequestRate must not be negative"))
	}
	if o.DrainPolicy != requests.FailFast && o.DrainPolicy != requests.Retry {
		errs = append(errs, errors.New("client: unknown DrainPolicy"))
	}
	return errors.Join(errs...)
}

// Option configures the Client.
type Option func(*Options)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithScheduler injects the scheduler, typically a *scheduler.Virtual in tests.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *Options) { o.Scheduler = s }
}

// WithClock sets the time source of the default real-time scheduler.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithExecutor injects the client loop.
func WithExecutor(e loop.Executor) Option {
	return func(o *Options) { o.Executor = e }
}

// WithDefaultRequestTimeout sets the deadline of requests issued without WithTimeout.
func WithDefaultRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout >= 0 {
			o.DefaultRequestTimeout = timeout
		}
	}
}

// WithConnectTimeout bounds each connection attempt.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout >= 0 {
			o.ConnectTimeout = timeout
		}
	}
}

// WithAutoReconnect enables automatic reconnection with exponential backoff.
// maxAttempts = 0 means infinite attempts.
func WithAutoReconnect(maxAttempts int, minDelay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.AutoReconnect = true
		o.MaxReconnectAttempts = maxAttempts
		o.Backoff = Exponential(minDelay, maxDelay)
	}
}

// WithoutAutoReconnect makes every connection loss final.
func WithoutAutoReconnect() Option {
	return func(o *Options) { o.AutoReconnect = false }
}

// WithBackoff replaces the reconnect delay policy.
func WithBackoff(b Backoff) Option {
	return func(o *Options) {
		if b != nil {
			o.Backoff = b
		}
	}
}

// WithDrainPolicy chooses what happens to outstanding requests on connection loss.
func WithDrainPolicy(p requests.DrainPolicy) Option {
	return func(o *Options) { o.DrainPolicy = p }
}

// WithStaleLedgerTimeout reconnects when no ledger closes within d.
func WithStaleLedgerTimeout(d time.Duration) Option {
	return func(o *Options) { o.StaleLedgerTimeout = d }
}

// WithRateLimit limits outbound requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *Options) {
		o.RequestRate = r
		o.RequestBurst = burst
	}
}

// WithErrorHandler observes connection-scoped and listener errors.
func WithErrorHandler(fn func(error)) Option {
	return func(o *Options) { o.OnError = fn }
}

// WithMetrics registers Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) { o.Metrics = reg }
}
