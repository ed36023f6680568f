package ble

import (
	"fmt"
	"strings"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ConnectionStatus is the caller-side view of a discovered device's connection
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DiscoveredDevice is a device seen during scanning
type DiscoveredDevice struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	RSSI        int              `json:"rssi"`
	Connectable bool             `json:"connectable"`
	Status      ConnectionStatus `json:"status"`
	Seen        int              `json:"seen"`
	LastSeen    time.Time        `json:"last_seen"`
}

// DisplayName returns the advertised name, falling back to the id
func (d DiscoveredDevice) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// DeviceFilter restricts which results enter a DeviceList
type DeviceFilter struct {
	AllowList  []string
	BlockList  []string
	NamePrefix string
}

// DeviceList keeps discovered devices in discovery order, one entry per id.
// It is safe for concurrent use.
type DeviceList struct {
	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, *DiscoveredDevice]
	filter  DeviceFilter
	now     func() time.Time
}

// NewDeviceList creates an empty list. A nil filter admits every device.
func NewDeviceList(filter *DeviceFilter) *DeviceList {
	l := &DeviceList{
		devices: orderedmap.New[string, *DiscoveredDevice](),
		now:     time.Now,
	}
	if filter != nil {
		l.filter = *filter
	}
	return l
}

// Apply feeds a scan event into the list and reports whether a new device was added
func (l *DeviceList) Apply(state ScanState) bool {
	if state.Kind != ScanFoundDevice {
		return false
	}
	return l.Add(state.Device)
}

// Add records a scan result. A known id gets its name, RSSI and sighting count
// refreshed; its connection status is kept. Reports whether the id is new.
func (l *DeviceList) Add(r ScanResult) bool {
	if !l.admits(r) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.devices.Get(r.ID); ok {
		if r.Name != "" {
			existing.Name = r.Name
		}
		existing.RSSI = r.RSSI
		existing.Connectable = r.Connectable
		existing.Seen++
		existing.LastSeen = l.now()
		return false
	}

	l.devices.Set(r.ID, &DiscoveredDevice{
		ID:          r.ID,
		Name:        r.Name,
		RSSI:        r.RSSI,
		Connectable: r.Connectable,
		Status:      StatusDisconnected,
		Seen:        1,
		LastSeen:    l.now(),
	})
	return true
}

// SetStatus changes the connection status of a known device
func (l *DeviceList) SetStatus(id string, status ConnectionStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.devices.Get(id)
	if !ok {
		return false
	}
	d.Status = status
	return true
}

// Get returns a copy of the device with the given id
func (l *DeviceList) Get(id string) (DiscoveredDevice, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.devices.Get(id)
	if !ok {
		return DiscoveredDevice{}, false
	}
	return *d, true
}

// Devices returns a snapshot in discovery order
func (l *DeviceList) Devices() []DiscoveredDevice {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]DiscoveredDevice, 0, l.devices.Len())
	for pair := l.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Len returns the number of devices
func (l *DeviceList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.devices.Len()
}

// Clear removes all devices
func (l *DeviceList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices = orderedmap.New[string, *DiscoveredDevice]()
}

// admits applies the block, allow and name-prefix filters
func (l *DeviceList) admits(r ScanResult) bool {
	for _, blocked := range l.filter.BlockList {
		if strings.EqualFold(r.ID, blocked) {
			return false
		}
	}

	if len(l.filter.AllowList) > 0 {
		allowed := false
		for _, a := range l.filter.AllowList {
			if strings.EqualFold(r.ID, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if l.filter.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(r.Name), strings.ToLower(l.filter.NamePrefix)) {
		return false
	}
	return true
}
