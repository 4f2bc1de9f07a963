package client

import "fmt"

// State is the connection state of a Client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

var allStates = []string{"disconnected", "connecting", "connected", "reconnecting"}

func (s State) String() string {
	if s >= 0 && int(s) < len(allStates) {
		return allStates[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evOpened
	evDropped
	evFailed
	evRetryDue
	evStale
)

func (k eventKind) String() string {
	switch k {
	case evConnect:
		return "connect"
	case evDisconnect:
		return "disconnect"
	case evOpened:
		return "opened"
	case evDropped:
		return "dropped"
	case evFailed:
		return "failed"
	case evRetryDue:
		return "retry-due"
	case evStale:
		return "stale"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type event struct {
	kind          eventKind
	willReconnect bool
	cause         error // passed to drained requests
}

type effect int

const (
	fxDial          effect = iota // Transport.Connect and arm the connect timeout
	fxHangUp                      // Transport.Disconnect
	fxDisarm                      // cancel connect-timeout and retry handles
	fxScheduleRetry               // schedule evRetryDue after Backoff(attempt)
	fxFailAll                     // drain requests fail-fast
	fxDrain                       // drain requests per the configured policy
	fxOnline                      // resubscribe, resend, connect callback
	fxOffline                     // mark subscriptions stale, stop the watchdog
)

// policy is the part of the client configuration and bookkeeping the transition
// function reads.
type policy struct {
	autoReconnect bool
	exhausted     bool // MaxReconnectAttempts reached
	retryPending  bool // a retry is already scheduled for this outage
}

func (p policy) canRetry() bool { return p.autoReconnect && !p.exhausted }

// step is the connection state machine. It is pure: the caller applies the
// returned effects in order after adopting the new state.
func step(s State, ev event, p policy) (State, []effect) {
	if ev.kind == evDisconnect {
		if s == Disconnected {
			return s, nil
		}
		return Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll, fxOffline}
	}

	switch s {
	case Disconnected:
		if ev.kind == evConnect {
			return Connecting, []effect{fxDial}
		}

	case Connecting:
		switch ev.kind {
		case evOpened:
			return Connected, []effect{fxDisarm, fxOnline}
		case evRetryDue:
			return Connecting, []effect{fxDial}
		case evFailed, evDropped:
			if ev.kind == evDropped && !ev.willReconnect {
				return Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll}
			}
			if p.retryPending {
				return s, nil
			}
			if p.canRetry() {
				return Connecting, []effect{fxDisarm, fxHangUp, fxScheduleRetry}
			}
			return Disconnected, []effect{fxDisarm, fxHangUp, fxFailAll}
		}

	case Connected:
		switch ev.kind {
		case evDropped:
			if ev.willReconnect && p.canRetry() {
				return Reconnecting, []effect{fxOffline, fxDrain, fxScheduleRetry}
			}
			return Disconnected, []effect{fxOffline, fxFailAll}
		case evStale:
			if p.canRetry() {
				return Reconnecting, []effect{fxHangUp, fxOffline, fxDrain, fxScheduleRetry}
			}
			return Disconnected, []effect{fxHangUp, fxOffline, fxFailAll}
		}

	case Reconnecting:
		switch ev.kind {
		case evRetryDue:
			return Connecting, []effect{fxDial}
		case evConnect:
			return Connecting, []effect{fxDisarm, fxDial}
		}
	}
	return s, nil
}
