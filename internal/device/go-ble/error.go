package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/blesdk/internal/device"
)

// NormalizeError maps known go-ble error strings to the device error taxonomy.
// Unrecognized errors are returned unchanged; the original error stays in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var derr *device.Error
	if errors.As(err, &derr) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return device.NewError(device.BluetoothDisabled, err)
	case device.IsRadioOff(err):
		return device.NewError(device.BluetoothDisabled, err)
	case containsIgnoreCase(msg, "can't init hci"), containsIgnoreCase(msg, "no such device"):
		return device.NewError(device.BluetoothDisabled, err)
	case containsIgnoreCase(msg, "operation not permitted"), containsIgnoreCase(msg, "permission denied"):
		return device.NewError(device.BluetoothScanPermissionMissing, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
