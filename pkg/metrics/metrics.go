// Package metrics exposes client runtime counters and gauges to Prometheus.
//
// A nil *Collector is valid and records nothing, so the client can call it
// unconditionally.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeRemoteError  = "remote_error"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
)

// Collector holds the client's metrics.
type Collector struct {
	requests        *prometheus.CounterVec
	pending         prometheus.Gauge
	held            prometheus.Gauge
	reconnects      prometheus.Counter
	pushEvents      *prometheus.CounterVec
	protocolErrors  prometheus.Counter
	listenerErrors  prometheus.Counter
	connectionState *prometheus.GaugeVec
}

// New creates a Collector and registers it with reg. A nil reg uses
// prometheus.DefaultRegisterer. Registering twice against the same registry reuses
// the collectors already registered.
func New(reg prometheus.Registerer, constLabels prometheus.Labels) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ledgerclient",
			Name:        "requests_total",
			Help:        "Completed requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ledgerclient",
			Name:        "pending_requests",
			Help:        "Requests sent and awaiting a response.",
			ConstLabels: constLabels,
		}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ledgerclient",
			Name:        "held_requests",
			Help:        "Requests held until the connection is re-established.",
			ConstLabels: constLabels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ledgerclient",
			Name:        "reconnects_total",
			Help:        "Reconnect attempts scheduled after a failure or loss.",
			ConstLabels: constLabels,
		}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ledgerclient",
			Name:        "push_events_total",
			Help:        "Server push events received by stream.",
			ConstLabels: constLabels,
		}, []string{"stream"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ledgerclient",
			Name:        "protocol_errors_total",
			Help:        "Inbound messages dropped as unmatched or malformed.",
			ConstLabels: constLabels,
		}),
		listenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ledgerclient",
			Name:        "listener_errors_total",
			Help:        "Listener failures isolated during dispatch.",
			ConstLabels: constLabels,
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "ledgerclient",
			Name:        "connection_state",
			Help:        "Current connection state (1 for the active state label, 0 for others).",
			ConstLabels: constLabels,
		}, []string{"state"}),
	}

	var err error
	if c.requests, err = register(reg, c.requests); err != nil {
		return nil, err
	}
	if c.pending, err = register(reg, c.pending); err != nil {
		return nil, err
	}
	if c.held, err = register(reg, c.held); err != nil {
		return nil, err
	}
	if c.reconnects, err = register(reg, c.reconnects); err != nil {
		return nil, err
	}
	if c.pushEvents, err = register(reg, c.pushEvents); err != nil {
		return nil, err
	}
	if c.protocolErrors, err = register(reg, c.protocolErrors); err != nil {
		return nil, err
	}
	if c.listenerErrors, err = register(reg, c.listenerErrors); err != nil {
		return nil, err
	}
	if c.connectionState, err = register(reg, c.connectionState); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return col, fmt.Errorf("metrics: register: %w", err)
}

// Request counts a completed request.
func (c *Collector) Request(outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(outcome).Inc()
}

// Outstanding records the sizes of the pending set and the held queue.
func (c *Collector) Outstanding(pending, held int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(pending))
	c.held.Set(float64(held))
}

// Reconnect counts a scheduled reconnect attempt.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// PushEvent counts a push event on stream.
func (c *Collector) PushEvent(stream string) {
	if c == nil {
		return
	}
	c.pushEvents.WithLabelValues(stream).Inc()
}

// ProtocolError counts a dropped inbound message.
func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.protocolErrors.Inc()
}

// ListenerError counts an isolated listener failure.
func (c *Collector) ListenerError() {
	if c == nil {
		return
	}
	c.listenerErrors.Inc()
}

// State sets the active connection state label to 1 and every other to 0.
func (c *Collector) State(current string, all []string) {
	if c == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		c.connectionState.WithLabelValues(s).Set(v)
	}
}
