package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionState represents the source-chain transport state
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateReconnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// TransitionFunc observes state changes. It is called with the monitor lock released.
type TransitionFunc func(from, to ConnectionState)

// ConnectionMonitor tracks the transport state driven by the connection supervisor.
// The zero state means no subscription has succeeded yet.
type ConnectionMonitor struct {
	mu          sync.RWMutex
	state       ConnectionState
	since       time.Time
	reconnects  uint64
	observers   []TransitionFunc
	logger      zerolog.Logger
	connectedCh chan struct{}
}

// NewConnectionMonitor creates a new connection monitor
func NewConnectionMonitor(logger zerolog.Logger) *ConnectionMonitor {
	return &ConnectionMonitor{
		state:       StateDisconnected,
		since:       time.Now(),
		logger:      logger.With().Str("component", "connection_monitor").Logger(),
		connectedCh: make(chan struct{}),
	}
}

// OnTransition registers an observer for state changes.
func (m *ConnectionMonitor) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// GetState returns the current connection state
func (m *ConnectionMonitor) GetState() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Since returns when the current state was entered.
func (m *ConnectionMonitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Reconnects returns how many times the connection was re-established.
func (m *ConnectionMonitor) Reconnects() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnects
}

// IsConnected returns true if connected
func (m *ConnectionMonitor) IsConnected() bool {
	return m.GetState() == StateConnected
}

// SetConnected marks the subscription as established
func (m *ConnectionMonitor) SetConnected() {
	m.transition(StateConnected)
}

// SetDisconnected marks the transport as closed or failed
func (m *ConnectionMonitor) SetDisconnected() {
	m.transition(StateDisconnected)
}

// SetReconnecting marks a re-subscription attempt in progress
func (m *ConnectionMonitor) SetReconnecting() {
	m.transition(StateReconnecting)
}

func (m *ConnectionMonitor) transition(to ConnectionState) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.since = time.Now()
	if to == StateConnected {
		if from == StateReconnecting {
			m.reconnects++
		}
		close(m.connectedCh)
	} else if from == StateConnected {
		m.connectedCh = make(chan struct{})
	}
	observers := append([]TransitionFunc(nil), m.observers...)
	m.mu.Unlock()

	switch to {
	case StateConnected:
		m.logger.Info().Str("from", from.String()).Msg("connection established")
	case StateDisconnected:
		m.logger.Warn().Str("from", from.String()).Msg("connection lost")
	case StateReconnecting:
		m.logger.Info().Msg("attempting reconnection")
	}

	for _, fn := range observers {
		fn(from, to)
	}
}

// WaitForConnection waits until connected or context expires
func (m *ConnectionMonitor) WaitForConnection(ctx context.Context) error {
	m.mu.RLock()
	ch := m.connectedCh
	connected := m.state == StateConnected
	m.mu.RUnlock()
	if connected {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
