package control

import (
	"context"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"settingsd/internal/actions"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/template"
)

type fakeReader struct {
	values map[settings.Key]settings.Value
	err    error

	mu          sync.Mutex
	statusCalls int
	gate        chan struct{}
}

func (r *fakeReader) Get(_ context.Context, key settings.Key) (settings.Value, error) {
	if r.err != nil {
		return settings.Value{}, r.err
	}
	return r.values[key], nil
}

func (r *fakeReader) Status(context.Context) ([]reconciler.KeyStatus, error) {
	r.mu.Lock()
	r.statusCalls++
	r.mu.Unlock()
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	return []reconciler.KeyStatus{{Key: settings.AudioVolume.String(), Phase: reconciler.PhaseIdle, Desired: "40", Confirmed: "40"}}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []reconciler.ChangeEvent
}

func (s *recordingSink) Submit(_ context.Context, ev reconciler.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func newTestService(t *testing.T, reader *fakeReader) (*Service, *recordingSink) {
	t.Helper()
	table, err := actions.NewTable(nil, template.New())
	require.NoError(t, err)
	registry := settings.MustRegistry(append(settings.Builtin(), table.Schemas()...)...)

	sink := &recordingSink{}
	return NewService(Options{
		Registry: registry,
		Reader:   reader,
		Sink:     sink,
		Actions:  table,
		Metrics:  reconciler.NewMetrics(),
	}), sink
}

// fakeConn stands in for the bus connection of the server.
type fakeConn struct {
	mu       sync.Mutex
	exported map[string]interface{}
	reply    dbus.RequestNameReply
	released bool
	emitted  chan emitted
}

type emitted struct {
	name string
	args []interface{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		exported: make(map[string]interface{}),
		reply:    dbus.RequestNameReplyPrimaryOwner,
		emitted:  make(chan emitted, 16),
	}
}

func (c *fakeConn) Export(v interface{}, _ dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v == nil {
		delete(c.exported, iface)
		return nil
	}
	c.exported[iface] = v
	return nil
}

func (c *fakeConn) RequestName(string, dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return c.reply, nil
}

func (c *fakeConn) ReleaseName(string) (dbus.ReleaseNameReply, error) {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
	return dbus.ReleaseNameReplyReleased, nil
}

func (c *fakeConn) Emit(_ dbus.ObjectPath, name string, values ...interface{}) error {
	c.emitted <- emitted{name: name, args: values}
	return nil
}

func (c *fakeConn) object(iface string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exported[iface]
}

// fakeBus answers client calls and lets tests inject signals.
type fakeBus struct {
	mu      sync.Mutex
	replies map[string]*dbus.Call
	calls   []string
	sigs    []chan<- *dbus.Signal
}

func (b *fakeBus) Object(string, dbus.ObjectPath) dbus.BusObject { return &fakeObject{bus: b} }

func (b *fakeBus) AddMatchSignal(...dbus.MatchOption) error    { return nil }
func (b *fakeBus) RemoveMatchSignal(...dbus.MatchOption) error { return nil }

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sigs = append(b.sigs, ch)
}

func (b *fakeBus) RemoveSignal(chan<- *dbus.Signal) {}

func (b *fakeBus) send(sig *dbus.Signal) {
	b.mu.Lock()
	sigs := append([]chan<- *dbus.Signal(nil), b.sigs...)
	b.mu.Unlock()
	for _, ch := range sigs {
		ch <- sig
	}
}

type fakeObject struct {
	dbus.BusObject
	bus *fakeBus
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.mu.Lock()
	defer o.bus.mu.Unlock()
	o.bus.calls = append(o.bus.calls, method)
	if c, ok := o.bus.replies[method]; ok {
		return c
	}
	return &dbus.Call{}
}
