package goble

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blesdk/internal/device"
)

// NewScanResult converts a go-ble advertisement into a scan result
func NewScanResult(adv ble.Advertisement) device.ScanResult {
	id := ""
	if addr := adv.Addr(); addr != nil {
		id = strings.ToUpper(addr.String())
	}
	return device.ScanResult{
		ID:          id,
		Name:        strings.TrimRight(adv.LocalName(), "\x00"),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
}
