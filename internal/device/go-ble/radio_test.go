package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blesdk/internal/device"
	"github.com/srg/blesdk/internal/testutils"
	blemocks "github.com/srg/blesdk/internal/testutils/mocks/goble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type gattEvent struct {
	status int
	state  device.GattState
}

type RadioTestSuite struct {
	suite.Suite
	originalFactory func(string) (ble.Device, error)
	dev             *blemocks.MockDevice
	radio           *Radio
}

func (s *RadioTestSuite) SetupSuite() {
	s.originalFactory = DeviceFactory
}

func (s *RadioTestSuite) TearDownSuite() {
	DeviceFactory = s.originalFactory
}

func (s *RadioTestSuite) SetupTest() {
	s.dev = &blemocks.MockDevice{}
	DeviceFactory = func(string) (ble.Device, error) { return s.dev, nil }
	s.radio = NewRadio(WithLogger(testutils.QuietLogger()), WithConnectTimeout(time.Second))
	s.radio.scanGrace = 20 * time.Millisecond
}

// blockingScan makes Scan deliver advs and then run until its context is cancelled
func (s *RadioTestSuite) blockingScan(advs ...ble.Advertisement) {
	s.dev.On("Scan", mock.Anything, true, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			h := args.Get(2).(ble.AdvHandler)
			for _, a := range advs {
				h(a)
			}
			<-ctx.Done()
		}).
		Return(context.Canceled)
}

func (s *RadioTestSuite) TestStartScan_DeliversResults() {
	// GOAL: Verify advertisements are converted and delivered, duplicates included
	//
	// TEST SCENARIO: Scan reports the same advertisement twice → handler sees two results → StopScan ends the scan

	adv := &blemocks.Advertisement{Address: "aa:bb:cc:dd:ee:ff", Name: "Thermo\x00", Rssi: -42, IsConnectable: true}
	s.blockingScan(adv, adv)

	results := make(chan device.ScanResult, 4)
	s.Require().NoError(s.radio.StartScan(func(r device.ScanResult) { results <- r }))

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			s.Equal(device.ScanResult{ID: "AA:BB:CC:DD:EE:FF", Name: "Thermo", RSSI: -42, Connectable: true}, r)
		case <-time.After(time.Second):
			s.FailNow("scan result MUST be delivered")
		}
	}

	s.Error(s.radio.StartScan(func(device.ScanResult) {}), "second platform scan MUST be rejected")
	s.NoError(s.radio.StopScan())
	s.NoError(s.radio.StopScan(), "stopping an idle radio MUST be a no-op")
	s.dev.AssertNumberOfCalls(s.T(), "Scan", 1)
}

func (s *RadioTestSuite) TestStartScan_NormalizesErrors() {
	tests := []struct {
		name     string
		scanErr  error
		wantCode device.ErrorCode
	}{
		{
			name:     "darwin radio off",
			scanErr:  errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			wantCode: device.BluetoothDisabled,
		},
		{
			name:     "unclassified",
			scanErr:  errors.New("hci: command disallowed"),
			wantCode: device.UnknownError,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.dev.On("Scan", mock.Anything, true, mock.Anything).Return(tt.scanErr).Once()

			err := s.radio.StartScan(func(device.ScanResult) {})
			s.Require().Error(err, "immediate scan failure MUST be returned")
			s.Equal(tt.wantCode, device.CodeOf(err))
			s.ErrorIs(err, tt.scanErr, "original error MUST stay in the chain")

			s.blockingScan()
			s.NoError(s.radio.StartScan(func(device.ScanResult) {}), "radio MUST accept a new scan after a failed start")
			s.NoError(s.radio.StopScan())
		})
	}
}

func (s *RadioTestSuite) TestDeviceFactoryError() {
	DeviceFactory = func(string) (ble.Device, error) { return nil, errors.New("can't init hci: no such device") }

	s.False(s.radio.IsEnabled(), "unavailable adapter MUST read as disabled")

	err := s.radio.StartScan(func(device.ScanResult) {})
	s.Equal(device.BluetoothDisabled, device.CodeOf(err))

	_, err = s.radio.ConnectGatt("AA:BB", func(device.Gatt, int, device.GattState) {})
	s.Error(err, "connect MUST fail synchronously without an adapter")
}

type staticPower bool

func (p staticPower) IsEnabled() bool { return bool(p) }

func (s *RadioTestSuite) TestIsEnabled_PowerSource() {
	DeviceFactory = func(string) (ble.Device, error) {
		s.FailNow("power source MUST be consulted instead of opening the device")
		return nil, nil
	}
	s.False(NewRadio(WithPowerSource(staticPower(false)), WithLogger(testutils.QuietLogger())).IsEnabled())
	s.True(NewRadio(WithPowerSource(staticPower(true)), WithLogger(testutils.QuietLogger())).IsEnabled())
}

func (s *RadioTestSuite) collect(events chan gattEvent, n int) []gattEvent {
	var got []gattEvent
	for i := 0; i < n; i++ {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(2 * time.Second):
			s.FailNow("gatt event MUST be delivered", "got %v", got)
		}
	}
	return got
}

func (s *RadioTestSuite) TestConnectGatt_LifeCycle() {
	// GOAL: Verify a dial reports connecting, connected and a peer disconnect through the callback
	//
	// TEST SCENARIO: Dial succeeds → Connecting, Connected → peer drops → Disconnected(failure) → Close releases the handle

	client := blemocks.NewMockClient()
	s.dev.On("Dial", mock.Anything, ble.NewAddr("AA:BB")).Return(client, nil)

	events := make(chan gattEvent, 4)
	gatt, err := s.radio.ConnectGatt("AA:BB", func(g device.Gatt, status int, state device.GattState) {
		events <- gattEvent{status, state}
	})
	s.Require().NoError(err)
	s.Equal("AA:BB", gatt.DeviceID())

	s.Equal([]gattEvent{
		{device.GattSuccess, device.StateConnecting},
		{device.GattSuccess, device.StateConnected},
	}, s.collect(events, 2))
	s.Equal(1, s.radio.Connections())

	client.Drop()
	s.Equal([]gattEvent{{device.GattFailure, device.StateDisconnected}}, s.collect(events, 1))

	s.NoError(gatt.Disconnect(), "disconnect after a peer drop MUST be a no-op")
	client.AssertNotCalled(s.T(), "CancelConnection")

	s.NoError(gatt.Close())
	s.Equal(0, s.radio.Connections(), "closed handle MUST be released")
}

func (s *RadioTestSuite) TestConnectGatt_DisconnectCancelsLink() {
	client := blemocks.NewMockClient()
	client.On("CancelConnection").Return(nil)
	s.dev.On("Dial", mock.Anything, mock.Anything).Return(client, nil)

	events := make(chan gattEvent, 4)
	gatt, err := s.radio.ConnectGatt("AA:BB", func(g device.Gatt, status int, state device.GattState) {
		events <- gattEvent{status, state}
	})
	s.Require().NoError(err)
	s.collect(events, 2)

	s.NoError(gatt.Disconnect())
	client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)

	select {
	case e := <-events:
		s.Failf("no event MUST follow a local disconnect", "got %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *RadioTestSuite) TestConnectGatt_DialTimeout() {
	// GOAL: Verify the connect timeout bounds the dial and is reported as a disconnect
	//
	// TEST SCENARIO: Dial blocks → timeout expires → Disconnected(failure) delivered

	s.radio.connectTimeout = 30 * time.Millisecond
	s.dev.On("Dial", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	events := make(chan gattEvent, 4)
	_, err := s.radio.ConnectGatt("AA:BB", func(g device.Gatt, status int, state device.GattState) {
		events <- gattEvent{status, state}
	})
	s.Require().NoError(err)

	s.Equal([]gattEvent{
		{device.GattSuccess, device.StateConnecting},
		{device.GattFailure, device.StateDisconnected},
	}, s.collect(events, 2))
}

func (s *RadioTestSuite) TestClose_TearsDownEverything() {
	s.blockingScan()
	client := blemocks.NewMockClient()
	client.On("CancelConnection").Return(nil)
	s.dev.On("Dial", mock.Anything, mock.Anything).Return(client, nil)
	s.dev.On("Stop").Return(nil)

	s.Require().NoError(s.radio.StartScan(func(device.ScanResult) {}))
	events := make(chan gattEvent, 4)
	_, err := s.radio.ConnectGatt("AA:BB", func(g device.Gatt, status int, state device.GattState) {
		events <- gattEvent{status, state}
	})
	s.Require().NoError(err)
	s.collect(events, 2)

	s.NoError(s.radio.Close())
	s.Equal(0, s.radio.Connections())
	client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)
	s.dev.AssertCalled(s.T(), "Stop")
}

func TestRadioTestSuite(t *testing.T) {
	suite.Run(t, new(RadioTestSuite))
}
