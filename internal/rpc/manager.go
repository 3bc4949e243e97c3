// Package rpc owns the lifecycle of the presence connection.
//
// [Manager] is a small state machine over a [Transport]. State-change
// notifications decide whether a presence is wanted; transport callbacks
// report what actually happened. The manager never retries on its own: the
// next qualifying notification re-attempts a failed or dropped connection.
package rpc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"tools.zach/dev/xcodecord/internal/presence"
)

// Transport is the outbound presence connection. Connect and Disconnect only
// start the operation; completion is reported through the manager's On*
// methods.
type Transport interface {
	// Connect starts connecting and reports whether the attempt is under way.
	Connect() bool
	// Disconnect starts closing the connection.
	Disconnect()
	// SetPresence replaces the published presence.
	SetPresence(presence.Payload) error
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is the connection state as the manager sees it.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ///////////////////////////////////////////////
// Manager
// ///////////////////////////////////////////////

// Manager connects and disconnects the transport as states change and pushes
// mapped payloads while connected. All methods are safe for concurrent use.
type Manager struct {
	transport Transport
	// connected mirrors status == Connected for lock-free readers.
	connected atomic.Bool

	mu     sync.Mutex
	mapper *presence.Mapper
	status Status
	// disconnecting is set between a Disconnect request and the transport's
	// disconnect callback.
	disconnecting bool
	last          presence.State
	hasLast       bool
}

// NewManager returns a disconnected Manager.
func NewManager(t Transport, m *presence.Mapper) *Manager {
	return &Manager{transport: t, mapper: m}
}

// Connected reports whether the transport has confirmed the connection.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetMapper replaces the mapper, e.g. after a configuration reload, and
// republishes the latest state when connected.
func (m *Manager) SetMapper(mp *presence.Mapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapper = mp
	if m.status == Connected && !m.disconnecting {
		m.pushLocked()
	}
}

// OnStateChange reacts to a newly classified state.
func (m *Manager) OnStateChange(s presence.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last, m.hasLast = s, true

	if !s.Active() {
		if m.status != Disconnected && !m.disconnecting {
			slog.Debug("presence not wanted, disconnecting", "state", s.Kind(), "status", m.status)
			m.disconnecting = true
			m.transport.Disconnect()
		}
		return
	}

	switch m.status {
	case Disconnected:
		m.status = Connecting
		slog.Debug("connecting presence transport", "state", s.Kind())
		if !m.transport.Connect() {
			slog.Debug("presence transport unavailable")
			m.status = Disconnected
		}
	case Connected:
		if !m.disconnecting {
			m.pushLocked()
		}
	}
}

// OnConnect handles the transport's connected signal and publishes the
// latest state right away.
func (m *Manager) OnConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = Connected
	m.connected.Store(true)
	slog.Info("presence connected")
	if !m.disconnecting {
		m.pushLocked()
	}
}

// OnDisconnect handles the transport's disconnected signal.
func (m *Manager) OnDisconnect(code int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("presence disconnected", "code", code, "message", message)
	m.resetLocked()
}

// OnError logs a transport error and forces a disconnect. No reconnect is
// attempted until the next qualifying state change.
func (m *Manager) OnError(code int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Warn("presence transport error", "code", code, "message", message)
	if m.status != Disconnected {
		m.transport.Disconnect()
	}
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.status = Disconnected
	m.disconnecting = false
	m.connected.Store(false)
}

// pushLocked maps the latest state and sends it. The caller must hold m.mu.
func (m *Manager) pushLocked() {
	if !m.hasLast || m.mapper == nil {
		return
	}
	p, ok := m.mapper.Map(m.last)
	if !ok {
		return
	}
	if err := m.transport.SetPresence(p); err != nil {
		slog.Warn("setting presence failed", "error", err)
		return
	}
	slog.Debug("presence pushed", "details", p.Details, "state", p.State, "icon", p.LargeImage)
}
