// Package device defines the boundary between the BLE session layer and the
// platform Bluetooth stack.
//
// It contains:
//   - the closed ErrorCode taxonomy and the typed *Error carrying it
//   - ScanState events emitted by scan sessions
//   - the Radio, Gatt and StateObserver interfaces implemented by platform adapters
//     (see the go-ble and bluez subpackages)
package device
