package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the closed set of reasons a scan or connection attempt can fail
type ErrorCode int

const (
	AlreadyScanning ErrorCode = iota + 1
	BluetoothDisabled
	LocationPermissionMissing
	BluetoothScanPermissionMissing
	BluetoothConnectPermissionMissing
	DisconnectedDuringConnection
	UnknownError
)

var errorCodeNames = map[ErrorCode]string{
	AlreadyScanning:                   "already_scanning",
	BluetoothDisabled:                 "bluetooth_disabled",
	LocationPermissionMissing:         "location_permission_missing",
	BluetoothScanPermissionMissing:    "bluetooth_scan_permission_missing",
	BluetoothConnectPermissionMissing: "bluetooth_connect_permission_missing",
	DisconnectedDuringConnection:      "disconnected_during_connection",
	UnknownError:                      "unknown_error",
}

var errorCodeMessages = map[ErrorCode]string{
	AlreadyScanning:                   "scanning is already started",
	BluetoothDisabled:                 "bluetooth is not enabled",
	LocationPermissionMissing:         "location permissions are not granted",
	BluetoothScanPermissionMissing:    "BLUETOOTH_SCAN permission is not granted",
	BluetoothConnectPermissionMissing: "BLUETOOTH_CONNECT permission is missing",
	DisconnectedDuringConnection:      "disconnected during connection",
	UnknownError:                      "unknown error",
}

// String returns the snake_case name of the code, used as a log field value
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error_code(%d)", int(c))
}

// Message returns the human-readable description of the code
func (c ErrorCode) Message() string {
	if msg, ok := errorCodeMessages[c]; ok {
		return msg
	}
	return errorCodeMessages[UnknownError]
}

// Error is a failure tagged with an ErrorCode. Err optionally carries the platform cause.
type Error struct {
	Code ErrorCode
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return e.Code.Message()
	}
	return fmt.Sprintf("%s: %v", e.Code.Message(), e.Err)
}

// Unwrap exposes the platform cause to errors.Is/As
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error for code wrapping cause (which may be nil)
func NewError(code ErrorCode, cause error) *Error {
	return &Error{Code: code, Err: cause}
}

// Predefined sentinel errors, one per ErrorCode
var (
	ErrAlreadyScanning                   = &Error{Code: AlreadyScanning}
	ErrBluetoothDisabled                 = &Error{Code: BluetoothDisabled}
	ErrLocationPermissionMissing         = &Error{Code: LocationPermissionMissing}
	ErrBluetoothScanPermissionMissing    = &Error{Code: BluetoothScanPermissionMissing}
	ErrBluetoothConnectPermissionMissing = &Error{Code: BluetoothConnectPermissionMissing}
	ErrDisconnectedDuringConnection      = &Error{Code: DisconnectedDuringConnection}
	ErrUnknown                           = &Error{Code: UnknownError}
)

// CodeOf returns the ErrorCode carried by err, UnknownError for any other non-nil error
// and zero for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return UnknownError
}

// AsError returns err as an *Error, wrapping unclassified errors as UnknownError
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr
	}
	return NewError(UnknownError, err)
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsRadioOff reports whether a platform error message describes a powered-off radio
func IsRadioOff(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBluetoothDisabled) {
		return true
	}
	msg := err.Error()
	return containsIgnoreCase(msg, "is Bluetooth turned on") ||
		containsIgnoreCase(msg, "bluetooth is turned off") ||
		containsIgnoreCase(msg, "adapter is not powered")
}
