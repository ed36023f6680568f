package main

import (
	"errors"

	"github.com/srg/blesdk/pkg/ble"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peer dropped an established link while the
	// command was holding it.
	ErrConnectionLost = errors.New("connection lost")
)

var errorHints = map[ble.ErrorCode]string{
	ble.BluetoothDisabled:                 "turn Bluetooth on and try again",
	ble.BluetoothScanPermissionMissing:    "grant CAP_NET_ADMIN and CAP_NET_RAW, or list BLUETOOTH_SCAN under permissions in the config",
	ble.BluetoothConnectPermissionMissing: "grant CAP_NET_ADMIN and CAP_NET_RAW, or list BLUETOOTH_CONNECT under permissions in the config",
	ble.LocationPermissionMissing:         "list ACCESS_FINE_LOCATION and ACCESS_COARSE_LOCATION under permissions in the config",
	ble.AlreadyScanning:                   "use --restart to replace the running scan",
}

// FormatUserError renders err for the terminal, appending a remedy for known failure codes
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	var berr *ble.Error
	if errors.As(err, &berr) {
		if hint, ok := errorHints[berr.Code]; ok {
			return err.Error() + " (" + hint + ")"
		}
	}
	return err.Error()
}
