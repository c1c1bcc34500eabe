package dbusutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"settingsd/pkg/logging"
)

const (
	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesChanged   = "PropertiesChanged"
)

// Objects hands out proxies for remote objects.
type Objects interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Bus is the subset of *dbus.Conn the daemon needs.
type Bus interface {
	Objects
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

// Match selects signals. Empty fields match anything.
type Match struct {
	Sender    string
	Path      dbus.ObjectPath
	Interface string
	Member    string
}

// PropertiesChangedOn matches property changes of iface on path.
func PropertiesChangedOn(sender string, path dbus.ObjectPath) Match {
	return Match{Sender: sender, Path: path, Interface: propertiesInterface, Member: propertiesChanged}
}

func (m Match) options() []dbus.MatchOption {
	var opts []dbus.MatchOption
	if m.Sender != "" {
		opts = append(opts, dbus.WithMatchSender(m.Sender))
	}
	if m.Path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(m.Path))
	}
	if m.Interface != "" {
		opts = append(opts, dbus.WithMatchInterface(m.Interface))
	}
	if m.Member != "" {
		opts = append(opts, dbus.WithMatchMember(m.Member))
	}
	return opts
}

// Matches reports whether sig is selected by m. The bus delivers every
// signal of the connection to every channel, so subscribers filter
// locally as well. Senders are compared only when the signal carries a
// well-known name.
func (m Match) Matches(sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	if m.Path != "" && sig.Path != m.Path {
		return false
	}
	iface, member := SplitName(sig.Name)
	if m.Interface != "" && iface != m.Interface {
		return false
	}
	if m.Member != "" && member != m.Member {
		return false
	}
	if m.Sender != "" && sig.Sender != "" && !strings.HasPrefix(sig.Sender, ":") && sig.Sender != m.Sender {
		return false
	}
	return true
}

// SplitName splits "org.example.Iface.Member" into interface and member.
func SplitName(name string) (iface, member string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// Watch subscribes to signals selected by matches. The returned channel is
// closed when ctx is done or the connection goes away; callers treat the
// latter as a lost subscription.
func Watch(ctx context.Context, bus Bus, matches ...Match) (<-chan *dbus.Signal, error) {
	for i, m := range matches {
		if err := bus.AddMatchSignal(m.options()...); err != nil {
			for _, added := range matches[:i] {
				_ = bus.RemoveMatchSignal(added.options()...)
			}
			return nil, fmt.Errorf("failed to add match %+v: %w", m, err)
		}
	}

	raw := make(chan *dbus.Signal, 32)
	bus.Signal(raw)
	out := make(chan *dbus.Signal, 32)

	go func() {
		defer close(out)
		defer func() {
			bus.RemoveSignal(raw)
			for _, m := range matches {
				if err := bus.RemoveMatchSignal(m.options()...); err != nil {
					logging.Debug("DBus", "Failed to remove match %+v: %v", m, err)
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				if !anyMatch(matches, sig) {
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func anyMatch(matches []Match, sig *dbus.Signal) bool {
	for _, m := range matches {
		if m.Matches(sig) {
			return true
		}
	}
	return false
}

// PropertiesChange is the decoded body of a PropertiesChanged signal.
type PropertiesChange struct {
	Interface   string
	Changed     map[string]dbus.Variant
	Invalidated []string
}

// ParsePropertiesChanged decodes sig, reporting false for anything else.
func ParsePropertiesChanged(sig *dbus.Signal) (PropertiesChange, bool) {
	if sig == nil || sig.Name != propertiesInterface+"."+propertiesChanged || len(sig.Body) < 2 {
		return PropertiesChange{}, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return PropertiesChange{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return PropertiesChange{}, false
	}
	pc := PropertiesChange{Interface: iface, Changed: changed}
	if len(sig.Body) > 2 {
		pc.Invalidated, _ = sig.Body[2].([]string)
	}
	return pc, true
}

// GetAll reads every property of iface on obj.
func GetAll(ctx context.Context, obj dbus.BusObject, iface string) (map[string]dbus.Variant, error) {
	props := make(map[string]dbus.Variant)
	call := obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, iface)
	if err := call.Store(&props); err != nil {
		return nil, fmt.Errorf("failed to read %s properties: %w", iface, err)
	}
	return props, nil
}

// Get reads one property of iface on obj.
func Get(ctx context.Context, obj dbus.BusObject, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	call := obj.CallWithContext(ctx, propertiesInterface+".Get", 0, iface, name)
	if err := call.Store(&v); err != nil {
		return dbus.Variant{}, fmt.Errorf("failed to read %s.%s: %w", iface, name, err)
	}
	return v, nil
}

// transientNames are D-Bus errors worth retrying: the peer is starting,
// restarting or busy.
var transientNames = map[string]bool{
	"org.freedesktop.DBus.Error.NoReply":           true,
	"org.freedesktop.DBus.Error.ServiceUnknown":    true,
	"org.freedesktop.DBus.Error.NameHasNoOwner":    true,
	"org.freedesktop.DBus.Error.Timeout":           true,
	"org.freedesktop.DBus.Error.TimedOut":          true,
	"org.freedesktop.DBus.Error.Disconnected":      true,
	"org.freedesktop.DBus.Error.LimitsExceeded":    true,
	"org.freedesktop.DBus.Error.NoServer":          true,
	"org.freedesktop.DBus.Error.Spawn.ChildExited": true,
	"org.freedesktop.systemd1.ShuttingDown":        true,
}

// IsTransient reports whether err from a bus call may succeed on retry.
// Connection-level failures and context deadlines are transient; method
// errors are transient only for the names above.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, dbus.ErrClosed) {
		return true
	}
	if name, ok := ErrorName(err); ok {
		return transientNames[name]
	}
	return true
}

// ErrorName extracts the D-Bus error name from err.
func ErrorName(err error) (string, bool) {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name, true
	}
	var dep *dbus.Error
	if errors.As(err, &dep) && dep != nil {
		return dep.Name, true
	}
	return "", false
}
