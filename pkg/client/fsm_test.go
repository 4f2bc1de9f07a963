package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStep(t *testing.T) {
	retry := policy{autoReconnect: true}
	noRetry := policy{autoReconnect: false}
	exhausted := policy{autoReconnect: true, exhausted: true}
	waiting := policy{autoReconnect: true, retryPending: true}

	tests := []struct {
		name    string
		from    State
		ev      event
		p       policy
		want    State
		effects []effect
	}{
		{"connect", Disconnected, event{kind: evConnect}, retry, Connecting, []effect{fxDial}},
		{"connect while connecting", Connecting, event{kind: evConnect}, retry, Connecting, nil},
		{"connect while connected", Connected, event{kind: evConnect}, retry, Connected, nil},
		{"opened", Connecting, event{kind: evOpened}, retry, Connected, []effect{fxDisarm, fxOnline}},
		{"opened while disconnected", Disconnected, event{kind: evOpened}, retry, Disconnected, nil},
		{"dial failed", Connecting, event{kind: evFailed}, retry, Connecting, []effect{fxDisarm, fxHangUp, fxScheduleRetry}},
		{"dial failed twice", Connecting, event{kind: evFailed}, waiting, Connecting, nil},
		{"dial failed without retry", Connecting, event{kind: evFailed}, noRetry, Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll}},
		{"dial failed exhausted", Connecting, event{kind: evFailed}, exhausted, Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll}},
		{"closed while connecting", Connecting, event{kind: evDropped}, retry, Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll}},
		{"retry due", Connecting, event{kind: evRetryDue}, retry, Connecting, []effect{fxDial}},
		{"dropped", Connected, event{kind: evDropped, willReconnect: true}, retry, Reconnecting, []effect{fxOffline, fxDrain, fxScheduleRetry}},
		{"dropped for good", Connected, event{kind: evDropped}, retry, Disconnected, []effect{fxOffline, fxFailAll}},
		{"dropped without retry", Connected, event{kind: evDropped, willReconnect: true}, noRetry, Disconnected, []effect{fxOffline, fxFailAll}},
		{"stale", Connected, event{kind: evStale}, retry, Reconnecting, []effect{fxHangUp, fxOffline, fxDrain, fxScheduleRetry}},
		{"stale without retry", Connected, event{kind: evStale}, noRetry, Disconnected, []effect{fxHangUp, fxOffline, fxFailAll}},
		{"reconnect due", Reconnecting, event{kind: evRetryDue}, retry, Connecting, []effect{fxDial}},
		{"connect while reconnecting", Reconnecting, event{kind: evConnect}, retry, Connecting, []effect{fxDisarm, fxDial}},
		{"disconnect connected", Connected, event{kind: evDisconnect}, retry, Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll, fxOffline}},
		{"disconnect reconnecting", Reconnecting, event{kind: evDisconnect}, retry, Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll, fxOffline}},
		{"disconnect disconnected", Disconnected, event{kind: evDisconnect}, retry, Disconnected, nil},
		{"stale retry ignored", Disconnected, event{kind: evRetryDue}, retry, Disconnected, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := step(tt.from, tt.ev, tt.p)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.effects, effects)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "retry-due", evRetryDue.String())
}

func TestExponentialBackoff(t *testing.T) {
	b := Exponential(time.Second, 10*time.Second)

	var prev time.Duration
	for attempt := 0; attempt < 20; attempt++ {
		d := b(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}
	assert.Equal(t, time.Second, b(0))
	assert.Equal(t, 2*time.Second, b(1))
	assert.Equal(t, 8*time.Second, b(3))
	assert.Equal(t, 10*time.Second, b(4))

	fixed := Exponential(0, 0)
	assert.Equal(t, defaultReconnectDelayMin, fixed(5))
}

func TestJitteredBackoff(t *testing.T) {
	b := Jittered(Constant(time.Second), 0.5)
	for i := 0; i < 50; i++ {
		d := b(i)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1500*time.Millisecond)
	}
	assert.Equal(t, time.Second, Jittered(Constant(time.Second), 0)(3))
}
