package channel

import (
	"errors"
	"fmt"
	"sync/atomic"

	"relaybot/internal/metrics"
)

// State is a channel's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrConnectInProgress is returned by Connect while another Connect runs.
var ErrConnectInProgress = errors.New("connect already in progress")

// ConnectionError is returned by Connect when the platform session could not
// be established.
type ConnectionError struct {
	Channel string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Channel, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Lifecycle is the Disconnected -> Connecting -> Connected -> Disconnected
// state machine shared by every platform channel.
type Lifecycle struct {
	state atomic.Int32
}

// State returns the current state.
func (l *Lifecycle) State() State { return State(l.state.Load()) }

// IsConnected reports whether the session is live.
func (l *Lifecycle) IsConnected() bool { return l.State() == StateConnected }

// beginConnect moves Disconnected -> Connecting. It reports false with a nil
// error when already connected.
func (l *Lifecycle) beginConnect() (bool, error) {
	if l.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return true, nil
	}
	if l.State() == StateConnected {
		return false, nil
	}
	return false, ErrConnectInProgress
}

// finishConnect settles a connect attempt. On failure the state returns to
// Disconnected and the cause is wrapped in a ConnectionError.
func (l *Lifecycle) finishConnect(channel string, err error) error {
	if err != nil {
		l.state.Store(int32(StateDisconnected))
		return &ConnectionError{Channel: channel, Err: err}
	}
	l.state.Store(int32(StateConnected))
	metrics.ConnectedChannels.Inc()
	return nil
}

// beginDisconnect moves Connected -> Disconnected and reports whether the
// caller owns the teardown.
func (l *Lifecycle) beginDisconnect() bool {
	if l.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		metrics.ConnectedChannels.Dec()
		return true
	}
	return false
}
