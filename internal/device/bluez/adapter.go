// Package bluez reads the BlueZ adapter power state over the system D-Bus and
// turns Powered property changes into radio state notifications.
package bluez

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/groutine"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	propsIface   = "org.freedesktop.DBus.Properties"
	propsSignal  = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// AdapterPath returns the BlueZ object path of the named adapter ("hci0" -> "/org/bluez/hci0")
func AdapterPath(name string) dbus.ObjectPath {
	if name == "" {
		name = "hci0"
	}
	return dbus.ObjectPath("/org/bluez/" + strings.TrimPrefix(name, "/"))
}

// Adapter observes one BlueZ adapter
type Adapter struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *logrus.Logger

	mu     sync.Mutex
	subs   map[int]func(enabled bool)
	nextID int
	watch  *powerWatch
}

// powerWatch is one running signal loop
type powerWatch struct {
	signals chan *dbus.Signal
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// Open connects to the system bus and checks that BlueZ is running
func Open(name string, logger *logrus.Logger) (*Adapter, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("%s not found on system bus, is bluetooth.service running?", busName)
	}

	return NewAdapter(conn, name, logger), nil
}

// NewAdapter wraps an existing bus connection
func NewAdapter(conn *dbus.Conn, name string, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		conn:   conn,
		path:   AdapterPath(name),
		logger: logger,
		subs:   make(map[int]func(bool)),
	}
}

// Powered reads the adapter's Powered property
func (a *Adapter) Powered() (bool, error) {
	obj := a.conn.Object(busName, a.path)
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return false, fmt.Errorf("read %s Powered: %w", a.path, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Powered of %s is not bool", a.path)
	}
	return powered, nil
}

// IsEnabled reports whether the adapter is powered; read failures count as off
func (a *Adapter) IsEnabled() bool {
	powered, err := a.Powered()
	if err != nil {
		a.logger.WithError(err).Debug("Failed to read adapter power state")
		return false
	}
	return powered
}

// Subscribe delivers Powered changes to cb until the returned cancel is called.
// cb runs on the signal goroutine.
func (a *Adapter) Subscribe(cb func(enabled bool)) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watch == nil {
		if err := a.startWatch(); err != nil {
			return nil, err
		}
	}

	id := a.nextID
	a.nextID++
	a.subs[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() { a.unsubscribe(id) })
	}, nil
}

func (a *Adapter) unsubscribe(id int) {
	a.stopWatch(a.detach(id))
}

// detach removes subscriber id and, when it was the last one, takes the
// running watch in the same critical section so a concurrent Subscribe
// starts a fresh one.
func (a *Adapter) detach(id int) *powerWatch {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.subs, id)
	if len(a.subs) > 0 {
		return nil
	}
	w := a.watch
	a.watch = nil
	return w
}

// startWatch registers the match rule and starts the signal loop. Caller holds mu.
func (a *Adapter) startWatch() error {
	if call := a.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, a.matchRule()); call.Err != nil {
		return fmt.Errorf("add match for %s: %w", a.path, call.Err)
	}

	ch := make(chan *dbus.Signal, 16)
	a.conn.Signal(ch)

	ctx, cancel := context.WithCancel(context.Background())
	a.watch = &powerWatch{
		signals: ch,
		cancel:  cancel,
		done: groutine.Go(ctx, "bluez-power-watch", func(ctx context.Context) {
			a.loop(ctx, ch)
		}),
	}

	a.logger.WithField("adapter", a.path).Debug("Watching adapter power state")
	return nil
}

func (a *Adapter) stopWatch(w *powerWatch) {
	if w == nil {
		return
	}
	a.conn.RemoveSignal(w.signals)
	if call := a.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, a.matchRule()); call.Err != nil {
		a.logger.WithError(call.Err).Debug("Failed to remove match rule")
	}
	w.cancel()
	<-w.done
	a.logger.WithField("adapter", a.path).Debug("Stopped watching adapter power state")
}

func (a *Adapter) loop(ctx context.Context, ch <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			powered, ok := parsePoweredChange(sig, a.path)
			if !ok {
				continue
			}
			a.logger.WithFields(logrus.Fields{
				"adapter": a.path,
				"powered": powered,
			}).Info("Adapter power state changed")
			a.notify(powered)
		}
	}
}

func (a *Adapter) notify(powered bool) {
	a.mu.Lock()
	subs := make([]func(bool), 0, len(a.subs))
	for _, cb := range a.subs {
		subs = append(subs, cb)
	}
	a.mu.Unlock()

	for _, cb := range subs {
		cb(powered)
	}
}

func (a *Adapter) matchRule() string {
	return "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path='" + string(a.path) + "'"
}

// Close stops watching and closes the bus connection
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.subs = make(map[int]func(bool))
	w := a.watch
	a.watch = nil
	a.mu.Unlock()

	a.stopWatch(w)
	return a.conn.Close()
}

// parsePoweredChange extracts the new Powered value from an adapter PropertiesChanged signal
func parsePoweredChange(sig *dbus.Signal, path dbus.ObjectPath) (bool, bool) {
	if sig == nil || sig.Name != propsSignal || sig.Path != path {
		return false, false
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterIface {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed["Powered"]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}
