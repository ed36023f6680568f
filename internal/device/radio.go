package device

import "fmt"

// ScanResult is a single advertisement report delivered by the radio
type ScanResult struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
}

// DisplayName returns the advertised name, falling back to the device id
func (r ScanResult) DisplayName() string {
	if r.Name == "" {
		return r.ID
	}
	return r.Name
}

// ScanStateKind tags the variant carried by a ScanState
type ScanStateKind int

const (
	ScanIdle ScanStateKind = iota
	ScanScanning
	ScanFoundDevice
	ScanError
)

func (k ScanStateKind) String() string {
	switch k {
	case ScanIdle:
		return "idle"
	case ScanScanning:
		return "scanning"
	case ScanFoundDevice:
		return "found_device"
	case ScanError:
		return "error"
	default:
		return fmt.Sprintf("scan_state(%d)", int(k))
	}
}

// ScanState is an event emitted by a scan session.
// Device is set for ScanFoundDevice, Err for ScanError.
type ScanState struct {
	Kind   ScanStateKind
	Device ScanResult
	Err    *Error
}

func Scanning() ScanState { return ScanState{Kind: ScanScanning} }

func Idle() ScanState { return ScanState{Kind: ScanIdle} }

func FoundDevice(r ScanResult) ScanState { return ScanState{Kind: ScanFoundDevice, Device: r} }

func ScanFailed(err *Error) ScanState { return ScanState{Kind: ScanError, Err: err} }

func (s ScanState) String() string {
	switch s.Kind {
	case ScanFoundDevice:
		return fmt.Sprintf("found_device(%s)", s.Device.ID)
	case ScanError:
		if s.Err == nil {
			return "error"
		}
		return fmt.Sprintf("error(%s)", s.Err.Code)
	default:
		return s.Kind.String()
	}
}

// GattState mirrors the link states a platform reports for a GATT connection
type GattState int

const (
	StateDisconnected GattState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s GattState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("gatt_state(%d)", int(s))
	}
}

// GATT operation status codes passed alongside a state change
const (
	GattSuccess = 0
	GattFailure = 0x101
)

// Gatt is a live (or pending) GATT connection handle
type Gatt interface {
	DeviceID() string
	// Disconnect requests the link be torn down. The handle stays usable until Close.
	Disconnect() error
	// Close releases the handle. No callbacks are delivered for it afterwards.
	Close() error
}

// GattCallback receives connection state changes for a handle.
// It may be invoked from any goroutine.
type GattCallback func(gatt Gatt, status int, newState GattState)

// ScanRadio is the scanning half of the platform radio
type ScanRadio interface {
	IsEnabled() bool
	// StartScan begins discovery and returns immediately. handler may be invoked from any goroutine.
	StartScan(handler func(ScanResult)) error
	StopScan() error
}

// GattRadio is the connection half of the platform radio
type GattRadio interface {
	// ConnectGatt requests a connection and returns the pending handle. The outcome
	// arrives through cb.
	ConnectGatt(deviceID string, cb GattCallback) (Gatt, error)
}

// Radio is the platform Bluetooth radio
type Radio interface {
	ScanRadio
	GattRadio
}

// StateObserver delivers radio power-state changes (true = on)
type StateObserver interface {
	Subscribe(cb func(enabled bool)) (cancel func(), err error)
}
