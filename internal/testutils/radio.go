package testutils

import (
	"sync"

	"github.com/srg/blesdk/internal/device"
)

// FakeRadio is a scriptable device.Radio. Discoveries and connection state
// changes are injected by the test through Discover and FakeGatt.Report.
type FakeRadio struct {
	mu sync.Mutex

	enabled    bool
	startErr   error
	connectErr error

	handler func(device.ScanResult)
	gatts   []*FakeGatt

	startScanCalls int
	stopScanCalls  int
	connectCalls   int
}

// NewFakeRadio creates a powered-on radio
func NewFakeRadio() *FakeRadio {
	return &FakeRadio{enabled: true}
}

// SetEnabled changes the reported radio power state
func (r *FakeRadio) SetEnabled(enabled bool) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
	return r
}

// FailStartScan makes the next StartScan calls fail with err
func (r *FakeRadio) FailStartScan(err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
	return r
}

// FailConnect makes ConnectGatt fail synchronously with err
func (r *FakeRadio) FailConnect(err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectErr = err
	return r
}

func (r *FakeRadio) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *FakeRadio) StartScan(handler func(device.ScanResult)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startScanCalls++
	if r.startErr != nil {
		return r.startErr
	}
	r.handler = handler
	return nil
}

func (r *FakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopScanCalls++
	r.handler = nil
	return nil
}

// Discover delivers results to the active scan handler. It reports false when no scan is running.
func (r *FakeRadio) Discover(results ...device.ScanResult) bool {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()

	if handler == nil {
		return false
	}
	for _, res := range results {
		handler(res)
	}
	return true
}

// ScanHandler returns the handler of the running scan, nil when idle
func (r *FakeRadio) ScanHandler() func(device.ScanResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

func (r *FakeRadio) ConnectGatt(deviceID string, cb device.GattCallback) (device.Gatt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectCalls++
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	g := &FakeGatt{id: deviceID, cb: cb}
	r.gatts = append(r.gatts, g)
	return g, nil
}

// Gatts returns every handle created so far, oldest first
func (r *FakeRadio) Gatts() []*FakeGatt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FakeGatt, len(r.gatts))
	copy(out, r.gatts)
	return out
}

// LastGatt returns the most recently created handle
func (r *FakeRadio) LastGatt() *FakeGatt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.gatts) == 0 {
		return nil
	}
	return r.gatts[len(r.gatts)-1]
}

func (r *FakeRadio) StartScanCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startScanCalls
}

func (r *FakeRadio) StopScanCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopScanCalls
}

func (r *FakeRadio) ConnectCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectCalls
}

// FakeGatt is the handle returned by FakeRadio.ConnectGatt
type FakeGatt struct {
	mu              sync.Mutex
	id              string
	cb              device.GattCallback
	disconnectCalls int
	closeCalls      int
}

func (g *FakeGatt) DeviceID() string { return g.id }

func (g *FakeGatt) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnectCalls++
	return nil
}

func (g *FakeGatt) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeCalls++
	return nil
}

// Report delivers a connection state change for this handle
func (g *FakeGatt) Report(state device.GattState) {
	status := device.GattSuccess
	if state == device.StateDisconnected {
		status = device.GattFailure
	}
	g.cb(g, status, state)
}

// ReportWithoutHandle delivers a state change the way platforms that lose the
// handle do: with a nil gatt
func (g *FakeGatt) ReportWithoutHandle(state device.GattState) {
	status := device.GattSuccess
	if state == device.StateDisconnected {
		status = device.GattFailure
	}
	g.cb(nil, status, state)
}

func (g *FakeGatt) DisconnectCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnectCalls
}

func (g *FakeGatt) CloseCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeCalls
}

// FakeStateObserver is a device.StateObserver driven by Emit
type FakeStateObserver struct {
	mu          sync.Mutex
	cb          func(bool)
	subscribes  int
	cancels     int
	SubscribeFn func() error
}

func (o *FakeStateObserver) Subscribe(cb func(enabled bool)) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribes++
	if o.SubscribeFn != nil {
		if err := o.SubscribeFn(); err != nil {
			return nil, err
		}
	}
	o.cb = cb
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.cancels++
		o.cb = nil
	}, nil
}

// Emit delivers a power-state change to the subscriber, if any
func (o *FakeStateObserver) Emit(enabled bool) {
	o.mu.Lock()
	cb := o.cb
	o.mu.Unlock()
	if cb != nil {
		cb(enabled)
	}
}

func (o *FakeStateObserver) Subscribes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subscribes
}

func (o *FakeStateObserver) Cancels() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels
}

// EventRecorder collects ScanState events in order
type EventRecorder struct {
	mu     sync.Mutex
	events []device.ScanState
}

func (r *EventRecorder) Record(s device.ScanState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *EventRecorder) Events() []device.ScanState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.ScanState, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events
func (r *EventRecorder) Kinds() []device.ScanStateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.ScanStateKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
