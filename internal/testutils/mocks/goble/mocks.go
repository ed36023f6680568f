// Package goble provides testify mocks for the go-ble interfaces the radio uses.
// Only the methods the radio calls are implemented; anything else panics.
package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice mocks ble.Device
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockClient mocks ble.Client
type MockClient struct {
	ble.Client
	mock.Mock
	disconnected chan struct{}
}

// NewMockClient creates a client whose Disconnected channel closes on Drop
func NewMockClient() *MockClient {
	return &MockClient{disconnected: make(chan struct{})}
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Drop simulates the peer dropping the link
func (m *MockClient) Drop() {
	close(m.disconnected)
}

// Advertisement is a fixed ble.Advertisement
type Advertisement struct {
	ble.Advertisement
	Address       string
	Name          string
	Rssi          int
	IsConnectable bool
}

func (a *Advertisement) Addr() ble.Addr    { return ble.NewAddr(a.Address) }
func (a *Advertisement) LocalName() string { return a.Name }
func (a *Advertisement) RSSI() int         { return a.Rssi }
func (a *Advertisement) Connectable() bool { return a.IsConnectable }
