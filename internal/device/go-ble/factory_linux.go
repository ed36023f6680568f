//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newPlatformDevice opens the HCI socket of the named adapter ("hci0", "hci1", ...)
func newPlatformDevice(adapter string) (ble.Device, error) {
	id, err := hciIndex(adapter)
	if err != nil {
		return nil, err
	}
	return linux.NewDevice(ble.OptDeviceID(id))
}

func hciIndex(adapter string) (int, error) {
	if adapter == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid adapter name %q: expected hciN", adapter)
	}
	return n, nil
}
