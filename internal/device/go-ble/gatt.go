package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/device"
)

// gattHandle is the device.Gatt of one dial attempt
type gattHandle struct {
	seq    uint64
	id     string
	radio  *Radio
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry

	mu     sync.Mutex
	client ble.Client
}

func (h *gattHandle) DeviceID() string { return h.id }

// Disconnect aborts a pending dial or cancels an established connection
func (h *gattHandle) Disconnect() error {
	h.cancel()

	h.mu.Lock()
	client := h.client
	h.client = nil
	h.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	h.logger.Debug("BLE connection cancelled")
	return nil
}

// Close releases the handle; later platform events are not reported
func (h *gattHandle) Close() error {
	h.cancel()
	h.radio.gatts.Del(h.seq)
	return nil
}

// dial connects with a bounded timeout, then watches the link until it drops or
// the handle is closed. Events are suppressed once the handle is closed.
func (h *gattHandle) dial(ctx context.Context, dev ble.Device, timeout time.Duration, cb device.GattCallback) {
	report := func(status int, state device.GattState) {
		if h.ctx.Err() != nil {
			return
		}
		cb(h, status, state)
	}

	report(device.GattSuccess, device.StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.logger.WithField("timeout", timeout).Debug("Dialing BLE device...")
	client, err := dev.Dial(dialCtx, ble.NewAddr(h.id))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			h.logger.Warn("BLE dial timed out")
		} else if ctx.Err() == nil {
			h.logger.WithError(NormalizeError(err)).Warn("BLE dial failed")
		}
		report(device.GattFailure, device.StateDisconnected)
		return
	}

	h.mu.Lock()
	if ctx.Err() != nil {
		h.mu.Unlock()
		// Closed while dialing: drop the late link.
		_ = client.CancelConnection()
		return
	}
	h.client = client
	h.mu.Unlock()

	h.logger.Info("BLE device connected")
	report(device.GattSuccess, device.StateConnected)

	watcher, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		h.logger.Debug("Client does not expose a disconnect channel")
		return
	}

	select {
	case <-watcher.Disconnected():
		h.mu.Lock()
		h.client = nil
		h.mu.Unlock()
		h.logger.Warn("BLE device disconnected")
		report(device.GattFailure, device.StateDisconnected)
	case <-ctx.Done():
	}
}
