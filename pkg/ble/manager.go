// Package ble is the caller-facing BLE session facade: scanning with a timeout,
// a single GATT connection and radio power-state notifications, all serialized
// on one event loop.
package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/connection"
	"github.com/srg/blesdk/internal/eventloop"
	"github.com/srg/blesdk/internal/permission"
	"github.com/srg/blesdk/internal/scan"
)

// DefaultScanTimeout applies when StartScan is given a non-positive timeout
const DefaultScanTimeout = scan.DefaultTimeout

// Permissions is the permission gate consulted before every scan and connect
type Permissions interface {
	HasBluetoothScan() bool
	HasBluetoothConnect() bool
	HasLocationPermissions() bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger shared by the facade and its sessions
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithPermissions sets the permission gate. Everything is granted by default.
func WithPermissions(p Permissions) Option {
	return func(m *Manager) { m.perms = p }
}

// WithStateObserver sets the source of radio power-state changes
func WithStateObserver(o StateObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// WithExecutor runs the sessions on exec instead of an owned event loop
func WithExecutor(exec eventloop.Executor) Option {
	return func(m *Manager) { m.exec = exec }
}

// WithClock replaces the clock driving scan timeouts
func WithClock(clock eventloop.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// Manager composes the scan and connection sessions. Every method returns
// immediately; callbacks run on the manager's event loop and must not block it.
type Manager struct {
	radio    Radio
	perms    Permissions
	observer StateObserver
	exec     eventloop.Executor
	clock    eventloop.Clock
	loop     *eventloop.Loop
	logger   *logrus.Logger

	scan *scan.Session
	conn *connection.Session

	// confined to exec
	stateCallback func(enabled bool)
	subscribed    bool
	unsubscribe   func()

	closeOnce sync.Once
}

// NewManager creates a facade over radio. Unless WithExecutor is given, the
// manager owns an event loop that lives until Close.
func NewManager(radio Radio, opts ...Option) (*Manager, error) {
	if radio == nil {
		return nil, fmt.Errorf("radio is required")
	}

	m := &Manager{radio: radio}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.New()
	}
	if m.perms == nil {
		m.perms = permission.NewChecker(permission.AllGranted, permission.LevelS, m.logger)
	}
	if m.clock == nil {
		m.clock = eventloop.SystemClock{}
	}
	if m.exec == nil {
		m.loop = eventloop.NewLoop("ble-manager", m.logger)
		if err := m.loop.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to start event loop: %w", err)
		}
		m.exec = m.loop
	}

	m.scan = scan.NewSession(radio, m.perms, m.exec, m.clock, m.logger)
	m.conn = connection.NewSession(radio, m.perms, m.exec, m.logger)
	return m, nil
}

// StartScan starts a scan that stops by itself after timeout. It fails with
// AlreadyScanning while another scan is active.
func (m *Manager) StartScan(timeout time.Duration, cb ScanCallback) {
	m.post("start scan", func() { m.scan.Start(timeout, false, scan.Callback(cb)) })
}

// RestartScan replaces any active scan with a fresh one
func (m *Manager) RestartScan(timeout time.Duration, cb ScanCallback) {
	m.post("restart scan", func() { m.scan.Start(timeout, true, scan.Callback(cb)) })
}

// StopScan stops the active scan. Idle is reported through cb, or through the
// scan's own callback when cb is nil.
func (m *Manager) StopScan(cb ScanCallback) {
	m.post("stop scan", func() { m.scan.Stop(scan.Callback(cb)) })
}

// IsScanning reports whether a scan is active. It waits for queued operations,
// so it must not be called from a callback.
func (m *Manager) IsScanning() bool {
	var scanning bool
	m.exec.Invoke(func() { scanning = m.scan.IsScanning() })
	return scanning
}

// Connect requests a GATT connection to deviceID; the outcome is reported once through cb
func (m *Manager) Connect(deviceID string, cb ConnectCallback) {
	m.post("connect", func() { m.conn.Connect(deviceID, connection.Callback(cb)) })
}

// Disconnect tears down the held connection, if any
func (m *Manager) Disconnect() {
	m.post("disconnect", m.conn.Disconnect)
}

// OnConnectionStateChange registers an observer for connection state transitions
func (m *Manager) OnConnectionStateChange(fn func(deviceID string, state ConnectionState)) {
	m.post("observe connection", func() { m.conn.OnStateChange(fn) })
}

// IsBluetoothEnabled queries the radio power state
func (m *Manager) IsBluetoothEnabled() bool {
	return m.radio.IsEnabled()
}

// SetBluetoothStateCallback sets the radio power-state callback. The platform
// observer is subscribed at most once per manager; later calls only replace cb.
func (m *Manager) SetBluetoothStateCallback(cb func(enabled bool)) {
	m.post("set state callback", func() {
		m.stateCallback = cb
		if m.subscribed {
			return
		}
		if m.observer == nil {
			m.logger.Debug("No radio state observer configured")
			return
		}

		cancel, err := m.observer.Subscribe(func(enabled bool) {
			m.exec.Post(func() {
				if m.stateCallback != nil {
					m.stateCallback(enabled)
				}
			})
		})
		if err != nil {
			m.logger.WithError(err).Warn("Failed to observe radio state")
			return
		}
		m.subscribed = true
		m.unsubscribe = cancel
		m.logger.Debug("Observing radio state")
	})
}

// Cleanup unsubscribes the radio state observer and stops any active scan. Idempotent.
func (m *Manager) Cleanup() {
	m.post("cleanup", m.cleanup)
}

// Close cleans up and stops the owned event loop. Pending callbacks are dropped.
// It must not be called from a callback.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.exec.Invoke(m.cleanup)
		if m.loop != nil {
			m.loop.Stop()
		}
	})
}

func (m *Manager) cleanup() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
		m.logger.Debug("Stopped observing radio state")
	}
	m.stateCallback = nil
	m.scan.Stop(nil)
}

func (m *Manager) post(op string, task func()) {
	if !m.exec.Post(task) {
		m.logger.WithField("op", op).Warn("BLE manager is closed, operation dropped")
	}
}
