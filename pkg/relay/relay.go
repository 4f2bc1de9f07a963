// Package relay republishes ledger push events to NATS so other processes can consume
// them without holding their own node connection.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/nats-io/nats.go"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "ledger"

// Publisher is the part of *nats.Conn the relay uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Relay publishes events to "<prefix>.<stream>".
type Relay struct {
	pub    Publisher
	prefix string
	logger *slog.Logger
	close  func()
}

// Options contains configuration options for Dial.
type Options struct {
	// URL is the NATS server URL. Empty uses nats.DefaultURL.
	URL string

	// Prefix is prepended to every subject. Empty uses DefaultPrefix.
	Prefix string

	Logger *slog.Logger

	// ConnectionOptions are additional options for the NATS connection.
	ConnectionOptions []nats.Option
}

// Dial connects to NATS and returns a Relay that owns the connection.
func Dial(opts Options) (*Relay, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	connOpts := append([]nats.Option{nats.Name("ledgerclient-relay")}, opts.ConnectionOptions...)
	conn, err := nats.Connect(opts.URL, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("relay: connect to NATS: %w", err)
	}
	r := New(conn, opts.Prefix, opts.Logger)
	r.close = func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	return r, nil
}

// New returns a Relay over an existing publisher. The caller keeps ownership of pub.
func New(pub Publisher, prefix string, logger *slog.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// Subject returns the subject events of stream are published on.
func (r *Relay) Subject(stream envelope.Stream) string {
	return r.prefix + "." + string(stream)
}

// Forward publishes ev as JSON with its kind, in the same shape the node pushed it.
func (r *Relay) Forward(ev envelope.Event) error {
	if ev == nil {
		return errors.New("relay: nil event")
	}
	env, err := envelope.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", ev.Kind(), err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", ev.Kind(), err)
	}
	subject := r.Subject(ev.Stream())
	if err := r.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("relay: publish to %s: %w", subject, err)
	}
	r.logger.Debug("relay: forwarded event", "subject", subject, "kind", ev.Kind())
	return nil
}

// Listener adapts Forward to the client's listener signature.
func (r *Relay) Listener() func(envelope.Event) error {
	return r.Forward
}

// Close drains and closes a connection opened by Dial. It is a no-op for a Relay
// built with New.
func (r *Relay) Close() {
	if r.close != nil {
		r.close()
		r.close = nil
	}
}
