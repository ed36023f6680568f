// Package connection implements the single-device GATT connection session.
//
// The session holds at most one platform handle. A new Connect while another
// attempt is pending is forwarded straight to the platform; the earlier handle
// is abandoned and its callbacks are ignored.
package connection

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/device"
	"github.com/srg/blesdk/internal/eventloop"
)

// State of the connection session
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callback receives the one-shot outcome of Connect: a live handle, or an error
type Callback func(gatt device.Gatt, err error)

// StateObserver is told about every state transition
type StateObserver func(deviceID string, state State)

// Permissions is the part of the permission gate a connection needs
type Permissions interface {
	HasBluetoothConnect() bool
}

// Session owns at most one GATT handle. All methods must run on the session's executor.
type Session struct {
	radio  device.GattRadio
	perms  Permissions
	exec   eventloop.Executor
	logger *logrus.Logger

	state    State
	target   string
	gatt     device.Gatt
	attempt  uint64
	observer StateObserver
}

// NewSession creates an idle connection session
func NewSession(radio device.GattRadio, perms Permissions, exec eventloop.Executor, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		radio:  radio,
		perms:  perms,
		exec:   exec,
		logger: logger,
	}
}

// OnStateChange registers the transition observer, replacing any previous one
func (s *Session) OnStateChange(fn StateObserver) {
	s.observer = fn
}

// State returns the current session state
func (s *Session) State() State {
	return s.state
}

// Target returns the id of the device of the latest attempt
func (s *Session) Target() string {
	return s.target
}

// Connect asks the platform for a GATT connection to deviceID. Missing connect
// permission is reported synchronously through cb without touching the platform.
func (s *Session) Connect(deviceID string, cb Callback) {
	if cb == nil {
		cb = func(device.Gatt, error) {}
	}
	log := s.logger.WithField("device", deviceID)

	if !s.perms.HasBluetoothConnect() {
		log.Warn("Cannot connect: connect permission missing")
		cb(nil, device.NewError(device.BluetoothConnectPermissionMissing, nil))
		return
	}

	if s.gatt != nil {
		log.WithField("previous", s.gatt.DeviceID()).Debug("Abandoning previous connection handle")
	}

	s.attempt++
	attempt := s.attempt
	s.target = deviceID
	s.setState(Connecting)
	log.Info("Connecting to device...")

	gatt, err := s.radio.ConnectGatt(deviceID, func(g device.Gatt, status int, newState device.GattState) {
		s.exec.Post(func() {
			s.onConnectionStateChange(attempt, g, status, newState, cb)
		})
	})
	if err != nil {
		if s.attempt == attempt {
			s.gatt = nil
			s.setState(Idle)
		}
		log.WithError(err).Warn("Platform refused to connect")
		cb(nil, device.NewError(device.UnknownError, err))
		return
	}

	if s.attempt == attempt && s.state == Connecting {
		s.gatt = gatt
	}
}

// Disconnect tears down the held handle and returns the session to Idle.
// It does nothing when no handle is held.
func (s *Session) Disconnect() {
	if s.gatt == nil {
		return
	}

	gatt := s.gatt
	s.gatt = nil
	// Late callbacks of the torn-down handle must not reach the caller.
	s.attempt++

	log := s.logger.WithField("device", gatt.DeviceID())
	if err := gatt.Disconnect(); err != nil {
		log.WithError(err).Warn("Platform disconnect failed")
	}
	if err := gatt.Close(); err != nil {
		log.WithError(err).Warn("Failed to close connection handle")
	}

	s.setState(Idle)
	log.Info("Disconnected")
}

func (s *Session) onConnectionStateChange(attempt uint64, gatt device.Gatt, status int, newState device.GattState, cb Callback) {
	log := s.logger.WithFields(logrus.Fields{
		"device": s.target,
		"status": status,
		"state":  newState,
	})

	if attempt != s.attempt {
		log.Debug("Ignoring callback of abandoned connection attempt")
		return
	}
	log.Debug("Connection state changed")

	switch newState {
	case device.StateConnected:
		if s.state != Connecting {
			return
		}
		if gatt == nil {
			gatt = s.gatt
		}
		s.gatt = gatt
		s.setState(Connected)
		log.Info("Connected")
		cb(gatt, nil)

	case device.StateDisconnected:
		switch s.state {
		case Connecting:
			s.release(gatt)
			s.setState(Idle)
			log.Warn("Device disconnected during connection")
			cb(nil, device.NewError(device.DisconnectedDuringConnection, nil))
		case Connected:
			s.release(gatt)
			s.setState(Disconnected)
			log.Info("Device disconnected")
		}
	}
}

// release closes a handle the platform already reported as disconnected
func (s *Session) release(gatt device.Gatt) {
	if gatt == nil {
		gatt = s.gatt
	}
	s.gatt = nil
	if gatt == nil {
		return
	}
	if err := gatt.Close(); err != nil {
		s.logger.WithError(err).WithField("device", gatt.DeviceID()).Warn("Failed to close connection handle")
	}
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.observer != nil {
		s.observer(s.target, state)
	}
}
