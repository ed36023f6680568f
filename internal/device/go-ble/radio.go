// Package goble implements the platform radio over github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/device"
	"github.com/srg/blesdk/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds a single dial
	DefaultConnectTimeout = 30 * time.Second

	// scanStartGrace is how long StartScan waits for go-ble to reject the scan
	scanStartGrace = 200 * time.Millisecond

	// scanStopTimeout bounds the wait for the scan goroutine on StopScan
	scanStopTimeout = 2 * time.Second
)

// DeviceFactory opens the go-ble device for the named adapter (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// PowerSource reports whether the adapter is powered
type PowerSource interface {
	IsEnabled() bool
}

// Option configures a Radio
type Option func(*Radio)

// WithLogger sets the radio logger
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Radio) { r.logger = logger }
}

// WithAdapter selects the adapter; only meaningful on Linux
func WithAdapter(name string) Option {
	return func(r *Radio) { r.adapter = name }
}

// WithConnectTimeout bounds each dial. On expiry the attempt is reported as disconnected.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Radio) {
		if d > 0 {
			r.connectTimeout = d
		}
	}
}

// WithPowerSource answers IsEnabled from p instead of probing the device
func WithPowerSource(p PowerSource) Option {
	return func(r *Radio) { r.power = p }
}

// Radio is a device.Radio backed by go-ble. The go-ble device is opened lazily
// on first use and shared by scanning and dialing.
type Radio struct {
	adapter        string
	connectTimeout time.Duration
	power          PowerSource
	logger         *logrus.Logger
	scanGrace      time.Duration

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}

	seq   atomic.Uint64
	gatts *hashmap.Map[uint64, *gattHandle]
}

// NewRadio creates a radio. No platform resources are opened until first use.
func NewRadio(opts ...Option) *Radio {
	r := &Radio{
		adapter:        "hci0",
		connectTimeout: DefaultConnectTimeout,
		scanGrace:      scanStartGrace,
		gatts:          hashmap.New[uint64, *gattHandle](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}
	return r
}

// device returns the shared go-ble device, opening it on first use
func (r *Radio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory(r.adapter)
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to open BLE adapter %q: %w", r.adapter, err))
	}
	r.dev = dev
	r.logger.WithField("adapter", r.adapter).Debug("BLE adapter opened")
	return dev, nil
}

// IsEnabled reports the adapter power state. Without a PowerSource the adapter
// counts as enabled once the go-ble device can be opened.
func (r *Radio) IsEnabled() bool {
	if r.power != nil {
		return r.power.IsEnabled()
	}
	if _, err := r.device(); err != nil {
		r.logger.WithError(err).Debug("BLE adapter unavailable")
		return false
	}
	return true
}

// StartScan starts a background scan delivering every advertisement to handler,
// duplicates included. Errors go-ble reports right away are returned.
func (r *Radio) StartScan(handler func(device.ScanResult)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.scanCancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("platform scan already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	failed := make(chan error, 1)

	done := groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			handler(NewScanResult(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			failed <- NormalizeError(err)
		}
	})
	r.scanCancel = cancel
	r.scanDone = done
	r.mu.Unlock()

	select {
	case err := <-failed:
		r.resetScan(cancel)
		r.logger.WithError(err).Warn("BLE scan failed to start")
		return err
	case <-done:
		r.resetScan(cancel)
		select {
		case err := <-failed:
			r.logger.WithError(err).Warn("BLE scan failed to start")
			return err
		default:
			return fmt.Errorf("platform scan ended immediately")
		}
	case <-time.After(r.scanGrace):
	}

	// Failures after the grace period end the scan; the session's timeout still stops it.
	groutine.Go(ctx, "ble-scan-monitor", func(ctx context.Context) {
		select {
		case err := <-failed:
			r.logger.WithError(err).Warn("BLE scan aborted")
		case <-ctx.Done():
		}
	})

	r.logger.Debug("Platform scan started")
	return nil
}

// StopScan stops the background scan and waits briefly for go-ble to release it
func (r *Radio) StopScan() error {
	r.mu.Lock()
	cancel, done := r.scanCancel, r.scanDone
	r.scanCancel, r.scanDone = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		r.logger.Debug("Platform scan stopped")
		return nil
	case <-time.After(scanStopTimeout):
		return fmt.Errorf("platform scan did not stop within %s", scanStopTimeout)
	}
}

func (r *Radio) resetScan(cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	r.scanCancel, r.scanDone = nil, nil
	r.mu.Unlock()
}

// ConnectGatt dials deviceID in the background and reports the outcome through cb.
// The returned handle is live immediately and can be used to abort the dial.
func (r *Radio) ConnectGatt(deviceID string, cb device.GattCallback) (device.Gatt, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &gattHandle{
		seq:    r.seq.Add(1),
		id:     deviceID,
		radio:  r,
		ctx:    ctx,
		cancel: cancel,
		logger: r.logger.WithField("device", deviceID),
	}
	r.gatts.Set(h.seq, h)

	groutine.Go(ctx, "ble-dial", func(ctx context.Context) {
		h.dial(ctx, dev, r.connectTimeout, cb)
	})
	return h, nil
}

// Connections returns the number of live GATT handles
func (r *Radio) Connections() int {
	return r.gatts.Len()
}

// Close stops scanning, tears down every handle and releases the go-ble device
func (r *Radio) Close() error {
	var errs []error
	if err := r.StopScan(); err != nil {
		errs = append(errs, err)
	}

	var handles []*gattHandle
	r.gatts.Range(func(_ uint64, h *gattHandle) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		if err := h.Disconnect(); err != nil {
			errs = append(errs, err)
		}
		_ = h.Close()
	}

	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	r.mu.Unlock()
	if dev != nil {
		if err := dev.Stop(); err != nil {
			errs = append(errs, NormalizeError(err))
		}
	}
	return errors.Join(errs...)
}
