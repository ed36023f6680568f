//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// newPlatformDevice opens CoreBluetooth. There is a single adapter, so the name is ignored.
func newPlatformDevice(_ string) (ble.Device, error) {
	return darwin.NewDevice()
}
