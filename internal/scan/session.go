// Package scan implements the BLE scan session: precondition checks, a single
// active scan with a timeout auto-stop, and discovery forwarding.
//
// A Session is confined to its executor: every method must be called from a
// task running on it. Radio callbacks are marshaled onto the executor before
// they touch session state.
package scan

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/device"
	"github.com/srg/blesdk/internal/eventloop"
)

// DefaultTimeout is used when Start is given a non-positive timeout
const DefaultTimeout = 10 * time.Second

// Callback receives scan state events on the session's executor
type Callback func(state device.ScanState)

// Permissions is the part of the permission gate a scan needs
type Permissions interface {
	HasLocationPermissions() bool
	HasBluetoothScan() bool
}

// Session owns at most one active scan
type Session struct {
	radio  device.ScanRadio
	perms  Permissions
	exec   eventloop.Executor
	clock  eventloop.Clock
	logger *logrus.Logger

	scanning   bool
	generation uint64
	timer      *eventloop.Timer
	callback   Callback
	id         string
}

// NewSession creates an idle scan session
func NewSession(radio device.ScanRadio, perms Permissions, exec eventloop.Executor, clock eventloop.Clock, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = eventloop.SystemClock{}
	}
	return &Session{
		radio:  radio,
		perms:  perms,
		exec:   exec,
		clock:  clock,
		logger: logger,
	}
}

// IsScanning reports whether a scan is active
func (s *Session) IsScanning() bool {
	return s.scanning
}

// ID returns the id of the active scan, empty when idle
func (s *Session) ID() string {
	if !s.scanning {
		return ""
	}
	return s.id
}

// Start begins a scan that stops by itself after timeout. With force, an active
// scan is torn down and replaced; without it, starting while scanning fails with
// AlreadyScanning. The outcome is reported through cb.
func (s *Session) Start(timeout time.Duration, force bool, cb Callback) {
	if cb == nil {
		cb = func(device.ScanState) {}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if code, ok := s.checkPreconditions(force); !ok {
		s.logger.WithFields(logrus.Fields{
			"code":  code,
			"force": force,
		}).Warn("Cannot start BLE scan")
		// An active scan keeps its timer.
		cb(device.ScanFailed(device.NewError(code, nil)))
		return
	}

	if s.scanning {
		s.logger.WithField("session", s.id).Info("Force-restarting BLE scan")
		s.teardown()
	}

	s.generation++
	gen := s.generation
	s.id = uuid.NewString()
	s.scanning = true
	s.callback = cb

	log := s.logger.WithFields(logrus.Fields{
		"session": s.id,
		"timeout": timeout,
	})
	log.Info("Starting BLE scan...")
	cb(device.Scanning())

	if err := s.radio.StartScan(s.resultHandler(gen)); err != nil {
		code := device.UnknownError
		if device.IsRadioOff(err) {
			code = device.BluetoothDisabled
		}
		log.WithError(err).Warn("Platform refused to start scan")
		s.scanning = false
		s.callback = nil
		cb(device.ScanFailed(device.NewError(code, err)))
		return
	}

	s.timer = eventloop.Schedule(s.exec, s.clock, timeout, func() {
		if s.generation != gen || !s.scanning {
			return
		}
		log.Debug("Scan timeout reached")
		s.timer = nil
		s.Stop(nil)
	})
}

// Stop ends the active scan and reports Idle through cb, or through the callback
// that started the scan when cb is nil. It does nothing when no scan is active.
func (s *Session) Stop(cb Callback) {
	if !s.scanning {
		return
	}
	if cb == nil {
		cb = s.callback
	}

	id := s.id
	s.teardown()

	s.logger.WithField("session", id).Info("BLE scan stopped")
	if cb != nil {
		cb(device.Idle())
	}
}

// teardown cancels the timer and stops the platform scan without emitting events
func (s *Session) teardown() {
	s.timer.Cancel()
	s.timer = nil

	if err := s.radio.StopScan(); err != nil {
		s.logger.WithError(err).WithField("session", s.id).Warn("Failed to stop platform scan")
	}
	s.scanning = false
	s.callback = nil
}

// checkPreconditions evaluates the start conditions in order; the first failure wins
func (s *Session) checkPreconditions(force bool) (device.ErrorCode, bool) {
	conditions := []struct {
		ok   func() bool
		code device.ErrorCode
	}{
		{func() bool { return !s.scanning || force }, device.AlreadyScanning},
		{s.radio.IsEnabled, device.BluetoothDisabled},
		{s.perms.HasLocationPermissions, device.LocationPermissionMissing},
		{s.perms.HasBluetoothScan, device.BluetoothScanPermissionMissing},
	}

	for _, c := range conditions {
		if !c.ok() {
			return c.code, false
		}
	}
	return 0, true
}

// resultHandler returns the radio handler for scan generation gen. Results are
// forwarded without de-duplication; those of a finished scan are dropped.
func (s *Session) resultHandler(gen uint64) func(device.ScanResult) {
	return func(res device.ScanResult) {
		s.exec.Post(func() {
			if s.generation != gen || !s.scanning || s.callback == nil {
				return
			}
			s.logger.WithFields(logrus.Fields{
				"session": s.id,
				"device":  res.ID,
				"name":    res.Name,
				"rssi":    res.RSSI,
			}).Debug("Found device")
			s.callback(device.FoundDevice(res))
		})
	}
}
