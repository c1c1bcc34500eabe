package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"settingsd/pkg/logging"
)

// Well-known names of the control service.
const (
	BusName    = "dev.settingsd.Daemon1"
	Interface  = "dev.settingsd.Daemon1"
	ObjectPath = dbus.ObjectPath("/dev/settingsd/Daemon1")

	SignalChanged = "Changed"
	SignalFailed  = "Failed"
)

// ErrNameTaken means another daemon already owns BusName.
var ErrNameTaken = errors.New("bus name " + BusName + " is already owned")

// Conn is the part of *dbus.Conn the server uses.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Serve exports the service on conn, claims BusName and forwards signals
// until ctx is cancelled. It returns ErrNameTaken when another instance
// is running.
func (s *Service) Serve(ctx context.Context, conn Conn) error {
	if err := conn.Export(&object{s: s}, ObjectPath, Interface); err != nil {
		return fmt.Errorf("failed to export %s: %w", ObjectPath, err)
	}
	node := introspect.NewIntrospectable(introspectNode())
	if err := conn.Export(node, ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}
	defer func() {
		_ = conn.Export(nil, ObjectPath, Interface)
		_ = conn.Export(nil, ObjectPath, "org.freedesktop.DBus.Introspectable")
	}()

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrNameTaken
	}
	defer func() { _, _ = conn.ReleaseName(BusName) }()

	logging.Info("Control", "Serving %s at %s", BusName, ObjectPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-s.signals:
			if err := conn.Emit(ObjectPath, Interface+"."+sig.name, sig.args...); err != nil {
				logging.Warn("Control", "Failed to emit %s: %v", sig.name, err)
			}
		}
	}
}

// object is the exported D-Bus object. Only its methods are visible on
// the bus.
type object struct {
	s *Service
}

func (o *object) Get(key string) (string, *dbus.Error) {
	v, err := o.s.Get(context.Background(), key)
	return v, toDBus(err)
}

func (o *object) Set(key, value string) *dbus.Error {
	return toDBus(o.s.Set(context.Background(), key, value))
}

func (o *object) Step(key string, delta int32) *dbus.Error {
	return toDBus(o.s.Step(context.Background(), key, int(delta)))
}

func (o *object) Invoke(action string) *dbus.Error {
	return toDBus(o.s.Invoke(context.Background(), action))
}

func (o *object) Status() (string, *dbus.Error) {
	doc, err := o.s.StatusJSON(context.Background())
	return doc, toDBus(err)
}

func introspectNode() *introspect.Node {
	in := func(name, typ string) introspect.Arg { return introspect.Arg{Name: name, Type: typ, Direction: "in"} }
	out := func(name, typ string) introspect.Arg { return introspect.Arg{Name: name, Type: typ, Direction: "out"} }

	return &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: Interface,
				Methods: []introspect.Method{
					{Name: "Get", Args: []introspect.Arg{in("key", "s"), out("value", "s")}},
					{Name: "Set", Args: []introspect.Arg{in("key", "s"), in("value", "s")}},
					{Name: "Step", Args: []introspect.Arg{in("key", "s"), in("delta", "i")}},
					{Name: "Invoke", Args: []introspect.Arg{in("action", "s")}},
					{Name: "Status", Args: []introspect.Arg{out("status", "s")}},
				},
				Signals: []introspect.Signal{
					{Name: SignalChanged, Args: []introspect.Arg{{Name: "key", Type: "s"}, {Name: "value", Type: "s"}}},
					{Name: SignalFailed, Args: []introspect.Arg{{Name: "key", Type: "s"}, {Name: "reason", Type: "s"}}},
				},
			},
		},
	}
}
