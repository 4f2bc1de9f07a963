package wstransport

import (
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultSendBuffer   = 64
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1024 * 1024 // 1MB
	// Client-initiated pings are disabled by default. Rely on server pings.
	defaultPingInterval = 0 * time.Second
)

type config struct {
	logger       *slog.Logger
	dialOptions  *websocket.DialOptions
	dialTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
	sendBuffer   int
}

// Option configures a Transport.
type Option func(*config)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions (headers, HTTP client, subprotocols).
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *config) {
		c.dialOptions = opts
	}
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithPingInterval enables client-initiated pings. interval <= 0 disables them.
func WithPingInterval(interval time.Duration) Option {
	return func(c *config) {
		c.pingInterval = interval
	}
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithSendBuffer sets the number of outbound envelopes buffered per connection.
func WithSendBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.sendBuffer = n
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		logger:       slog.Default(),
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		readLimit:    defaultReadLimit,
		sendBuffer:   defaultSendBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
