package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blesdk/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode device.ErrorCode
		same     bool
	}{
		{name: "nil", err: nil, wantCode: 0, same: true},
		{name: "darwin powered off", err: errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), wantCode: device.BluetoothDisabled},
		{name: "generic powered off", err: errors.New("Bluetooth is turned off"), wantCode: device.BluetoothDisabled},
		{name: "missing hci", err: errors.New("can't init hci: no such device"), wantCode: device.BluetoothDisabled},
		{name: "raw socket denied", err: errors.New("socket: operation not permitted"), wantCode: device.BluetoothScanPermissionMissing},
		{name: "context canceled passes through", err: context.Canceled, wantCode: device.UnknownError, same: true},
		{name: "already classified", err: fmt.Errorf("wrapped: %w", device.ErrAlreadyScanning), wantCode: device.AlreadyScanning, same: true},
		{name: "unknown passes through", err: errors.New("boom"), wantCode: device.UnknownError, same: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.Equal(t, tt.wantCode, device.CodeOf(got))
			if tt.same {
				assert.Equal(t, tt.err, got, "error MUST be returned unchanged")
				return
			}
			assert.ErrorIs(t, got, tt.err, "original error MUST stay in the chain")
		})
	}
}
