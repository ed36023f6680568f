package connection_test

import (
	"errors"
	"testing"

	"github.com/srg/blesdk/internal/connection"
	"github.com/srg/blesdk/internal/device"
	"github.com/srg/blesdk/internal/eventloop"
	"github.com/srg/blesdk/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type fakePermissions struct {
	connect bool
}

func (p *fakePermissions) HasBluetoothConnect() bool { return p.connect }

type outcome struct {
	gatt device.Gatt
	err  error
}

type transition struct {
	id    string
	state connection.State
}

type SessionTestSuite struct {
	suite.Suite
	radio       *testutils.FakeRadio
	perms       *fakePermissions
	session     *connection.Session
	outcomes    []outcome
	transitions []transition
}

func (s *SessionTestSuite) SetupTest() {
	s.radio = testutils.NewFakeRadio()
	s.perms = &fakePermissions{connect: true}
	s.session = connection.NewSession(s.radio, s.perms, eventloop.Immediate{}, testutils.QuietLogger())
	s.outcomes = nil
	s.transitions = nil
	s.session.OnStateChange(func(id string, state connection.State) {
		s.transitions = append(s.transitions, transition{id: id, state: state})
	})
}

func (s *SessionTestSuite) record(g device.Gatt, err error) {
	s.outcomes = append(s.outcomes, outcome{gatt: g, err: err})
}

func (s *SessionTestSuite) TestConnect_WithoutPermission() {
	// GOAL: Verify a missing connect permission fails synchronously without touching the platform
	//
	// TEST SCENARIO: Permission denied → Connect → immediate BluetoothConnectPermissionMissing, no ConnectGatt call

	s.perms.connect = false
	s.session.Connect("AA:BB", s.record)

	s.Require().Len(s.outcomes, 1, "outcome MUST be reported synchronously")
	s.Nil(s.outcomes[0].gatt)
	s.ErrorIs(s.outcomes[0].err, device.ErrBluetoothConnectPermissionMissing)
	s.Equal(0, s.radio.ConnectCalls(), "platform MUST NOT be asked to connect")
	s.Equal(connection.Idle, s.session.State())
}

func (s *SessionTestSuite) TestConnect_Success() {
	s.session.Connect("AA:BB", s.record)
	s.Equal(connection.Connecting, s.session.State())
	s.Empty(s.outcomes, "outcome MUST wait for the platform")

	gatt := s.radio.LastGatt()
	s.Require().NotNil(gatt)
	gatt.Report(device.StateConnected)

	s.Require().Len(s.outcomes, 1)
	s.NoError(s.outcomes[0].err)
	s.Same(gatt, s.outcomes[0].gatt, "live handle MUST be delivered")
	s.Equal(connection.Connected, s.session.State())
	s.Equal("AA:BB", s.session.Target())
	s.Equal([]transition{{"AA:BB", connection.Connecting}, {"AA:BB", connection.Connected}}, s.transitions)
}

func (s *SessionTestSuite) TestConnect_DisconnectedDuringConnection() {
	// GOAL: Verify a disconnect reported while connecting fails the attempt
	//
	// TEST SCENARIO: Connect → platform reports disconnected → DisconnectedDuringConnection, state Idle, handle closed

	s.session.Connect("AA:BB", s.record)
	gatt := s.radio.LastGatt()
	gatt.Report(device.StateDisconnected)

	s.Require().Len(s.outcomes, 1)
	s.ErrorIs(s.outcomes[0].err, device.ErrDisconnectedDuringConnection)
	s.Equal(device.DisconnectedDuringConnection, device.CodeOf(s.outcomes[0].err))
	s.Equal(connection.Idle, s.session.State())
	s.Equal(1, gatt.CloseCalls(), "failed handle MUST be released")

	s.session.Disconnect()
	s.Equal(0, gatt.DisconnectCalls(), "no handle MUST be held after the failure")
}

func (s *SessionTestSuite) TestConnect_DisconnectedWithoutHandle() {
	// GOAL: Verify a disconnect reported with a nil handle still fails the pending attempt
	//
	// TEST SCENARIO: Connect → platform reports (nil, failure, disconnected) → DisconnectedDuringConnection, Idle, stored handle closed

	s.session.Connect("AA:BB", s.record)
	gatt := s.radio.LastGatt()

	s.Require().NotPanics(func() { gatt.ReportWithoutHandle(device.StateDisconnected) })

	s.Require().Len(s.outcomes, 1, "outcome MUST be reported")
	s.Nil(s.outcomes[0].gatt)
	s.Equal(device.DisconnectedDuringConnection, device.CodeOf(s.outcomes[0].err))
	s.Equal(connection.Idle, s.session.State())
	s.Equal(1, gatt.CloseCalls(), "stored handle MUST be released")
}

func (s *SessionTestSuite) TestConnect_ConnectedWithoutHandle() {
	s.session.Connect("AA:BB", s.record)
	gatt := s.radio.LastGatt()

	gatt.ReportWithoutHandle(device.StateConnected)

	s.Require().Len(s.outcomes, 1)
	s.NoError(s.outcomes[0].err)
	s.Same(gatt, s.outcomes[0].gatt, "stored handle MUST be delivered")
	s.Equal(connection.Connected, s.session.State())

	s.session.Disconnect()
	s.Equal(1, gatt.DisconnectCalls())
}

func (s *SessionTestSuite) TestConnect_SynchronousPlatformError() {
	cause := errors.New("dial: adapter busy")
	s.radio.FailConnect(cause)
	s.session.Connect("AA:BB", s.record)

	s.Require().Len(s.outcomes, 1)
	s.Equal(device.UnknownError, device.CodeOf(s.outcomes[0].err))
	s.ErrorIs(s.outcomes[0].err, cause, "platform cause MUST be wrapped")
	s.Equal(connection.Idle, s.session.State())
}

func (s *SessionTestSuite) TestDisconnect_ReleasesHandle() {
	s.session.Connect("AA:BB", s.record)
	gatt := s.radio.LastGatt()
	gatt.Report(device.StateConnected)

	s.session.Disconnect()

	s.Equal(1, gatt.DisconnectCalls())
	s.Equal(1, gatt.CloseCalls())
	s.Equal(connection.Idle, s.session.State())

	gatt.Report(device.StateDisconnected)
	s.Len(s.outcomes, 1, "late platform callback MUST NOT reach the caller")
	s.Equal(connection.Idle, s.session.State())
}

func (s *SessionTestSuite) TestDisconnect_WhileConnecting() {
	s.session.Connect("AA:BB", s.record)
	gatt := s.radio.LastGatt()

	s.session.Disconnect()
	s.Equal(1, gatt.DisconnectCalls(), "pending handle MUST be torn down")
	s.Equal(connection.Idle, s.session.State())

	gatt.Report(device.StateConnected)
	s.Empty(s.outcomes, "callbacks of a torn-down attempt MUST be ignored")
	s.Equal(connection.Idle, s.session.State())
}

func (s *SessionTestSuite) TestDisconnect_WithoutHandleIsNoop() {
	s.session.Disconnect()
	s.Equal(connection.Idle, s.session.State())
	s.Empty(s.transitions)
}

func (s *SessionTestSuite) TestPeerDisconnectAfterConnected() {
	// GOAL: Verify a platform disconnect after success moves the session to Disconnected without a second outcome
	//
	// TEST SCENARIO: Connect → Connected → platform disconnects → state Disconnected, handle closed, observer notified

	s.session.Connect("AA:BB", s.record)
	gatt := s.radio.LastGatt()
	gatt.Report(device.StateConnected)
	gatt.Report(device.StateDisconnected)

	s.Len(s.outcomes, 1, "one-shot connect callback MUST NOT be invoked again")
	s.Equal(connection.Disconnected, s.session.State())
	s.Equal(1, gatt.CloseCalls())
	s.Equal(connection.Disconnected, s.transitions[len(s.transitions)-1].state)

	s.session.Disconnect()
	s.Equal(0, gatt.DisconnectCalls(), "released handle MUST NOT be disconnected again")
}

func (s *SessionTestSuite) TestConnect_AbandonsPendingAttempt() {
	// GOAL: Verify a second connect is forwarded to the platform and the first attempt's callbacks are ignored
	//
	// TEST SCENARIO: Connect A → Connect B → A reports connected (ignored) → B reports connected (delivered)

	s.session.Connect("A", s.record)
	first := s.radio.LastGatt()
	s.session.Connect("B", s.record)
	second := s.radio.LastGatt()

	s.Equal(2, s.radio.ConnectCalls(), "no de-duplication MUST happen")
	s.Equal(0, first.DisconnectCalls(), "abandoned handle MUST NOT be torn down explicitly")

	first.Report(device.StateConnected)
	s.Empty(s.outcomes)
	s.Equal(connection.Connecting, s.session.State())

	second.Report(device.StateConnected)
	s.Require().Len(s.outcomes, 1)
	s.Same(second, s.outcomes[0].gatt)
	s.Equal("B", s.session.Target())

	s.session.Disconnect()
	s.Equal(1, second.DisconnectCalls())
	s.Equal(0, first.DisconnectCalls())
}

func (s *SessionTestSuite) TestStateString() {
	s.Equal("idle", connection.Idle.String())
	s.Equal("connected", connection.Connected.String())
	s.Equal("state(9)", connection.State(9).String())
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
