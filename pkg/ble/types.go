package ble

import (
	"github.com/srg/blesdk/internal/connection"
	"github.com/srg/blesdk/internal/device"
)

// Public names for the session model, so callers never import internal packages.
type (
	ScanState       = device.ScanState
	ScanStateKind   = device.ScanStateKind
	ScanResult      = device.ScanResult
	Gatt            = device.Gatt
	Radio           = device.Radio
	StateObserver   = device.StateObserver
	ErrorCode       = device.ErrorCode
	Error           = device.Error
	ConnectionState = connection.State
	GattState       = device.GattState
)

const (
	GattDisconnected  = device.StateDisconnected
	GattConnecting    = device.StateConnecting
	GattConnected     = device.StateConnected
	GattDisconnecting = device.StateDisconnecting
)

const (
	ScanIdle        = device.ScanIdle
	ScanScanning    = device.ScanScanning
	ScanFoundDevice = device.ScanFoundDevice
	ScanError       = device.ScanError
)

const (
	AlreadyScanning                   = device.AlreadyScanning
	BluetoothDisabled                 = device.BluetoothDisabled
	LocationPermissionMissing         = device.LocationPermissionMissing
	BluetoothScanPermissionMissing    = device.BluetoothScanPermissionMissing
	BluetoothConnectPermissionMissing = device.BluetoothConnectPermissionMissing
	DisconnectedDuringConnection      = device.DisconnectedDuringConnection
	UnknownError                      = device.UnknownError
)

const (
	ConnectionIdle         = connection.Idle
	ConnectionConnecting   = connection.Connecting
	ConnectionConnected    = connection.Connected
	ConnectionDisconnected = connection.Disconnected
)

// ScanCallback receives scan state events
type ScanCallback func(state ScanState)

// ConnectCallback receives the outcome of Connect
type ConnectCallback func(gatt Gatt, err error)

// CodeOf returns the error code carried by err
func CodeOf(err error) ErrorCode {
	return device.CodeOf(err)
}
