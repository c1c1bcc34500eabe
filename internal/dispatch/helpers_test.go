package dispatch

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
)

type busCall struct {
	Dest   string
	Path   dbus.ObjectPath
	Method string
	Args   []interface{}
}

// fakeBus records method calls and answers them with reply or err.
type fakeBus struct {
	mu    sync.Mutex
	calls []busCall
	reply []interface{}
	err   error
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, dest: dest, path: path}
}

func (b *fakeBus) recorded() []busCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busCall(nil), b.calls...)
}

type fakeObject struct {
	dbus.BusObject
	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()
	o.bus.calls = append(o.bus.calls, busCall{Dest: o.dest, Path: o.path, Method: method, Args: args})
	return &dbus.Call{Method: method, Args: args, Body: o.bus.reply, Err: o.bus.err}
}

func action(subsystem, operation string, args map[string]string) reconciler.PendingAction {
	return reconciler.PendingAction{
		ID:        "test",
		Key:       settings.NewKey("test", "key"),
		Subsystem: subsystem,
		Operation: operation,
		Args:      args,
		Attempt:   1,
	}
}
