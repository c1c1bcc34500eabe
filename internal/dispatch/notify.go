package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/dbusutil"
	"settingsd/internal/reconciler"
)

const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsNotify = "org.freedesktop.Notifications.Notify"
)

var urgencies = map[string]byte{"low": 0, "normal": 1, "critical": 2}

// Notify shows desktop notifications. A newer notification for the same
// key replaces the one still on screen.
type Notify struct {
	bus     dbusutil.Objects
	appName string

	mu       sync.Mutex
	replaces map[string]uint32
}

func NewNotify(bus dbusutil.Objects, appName string) *Notify {
	return &Notify{bus: bus, appName: appName, replaces: make(map[string]uint32)}
}

func (n *Notify) Handle(ctx context.Context, a reconciler.PendingAction) error {
	if a.Operation != "notify" {
		return errUnknownOperation(a)
	}

	urgency, ok := urgencies[a.Args["urgency"]]
	if !ok {
		urgency = urgencies["normal"]
	}

	key := a.Key.String()
	n.mu.Lock()
	replaces := n.replaces[key]
	n.mu.Unlock()

	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}
	call := n.bus.Object(notificationsName, notificationsPath).CallWithContext(ctx, notificationsNotify, 0,
		n.appName, replaces, a.Args["icon"], a.Args["summary"], a.Args["body"],
		[]string{}, hints, int32(-1))
	if call.Err != nil {
		return classifyBus(fmt.Errorf("Notify: %w", call.Err))
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return reconciler.Permanent(err)
	}
	n.mu.Lock()
	n.replaces[key] = id
	n.mu.Unlock()
	return nil
}
