package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/backlight"
	"settingsd/internal/dbusutil"
	"settingsd/internal/reconciler"
	"settingsd/pkg/logging"
)

const (
	logindName          = "org.freedesktop.login1"
	logindSessionPath   = dbus.ObjectPath("/org/freedesktop/login1/session/auto")
	logindSetBrightness = "org.freedesktop.login1.Session.SetBrightness"
)

// Display sets backlight brightness through logind, which lets an
// unprivileged session write the sysfs attribute.
type Display struct {
	bus       dbusutil.Objects
	sysfsRoot string
}

// NewDisplay creates the display handler on the system bus.
func NewDisplay(bus dbusutil.Objects, sysfsRoot string) *Display {
	return &Display{bus: bus, sysfsRoot: sysfsRoot}
}

func (d *Display) Handle(ctx context.Context, a reconciler.PendingAction) error {
	if a.Operation != "set-brightness" {
		return errUnknownOperation(a)
	}

	percent, err := strconv.Atoi(a.Args["percent"])
	if err != nil {
		return reconciler.Permanentf("percent %q: %w", a.Args["percent"], err)
	}

	device := a.Args["device"]
	if device == "" {
		devices, err := backlight.Scan(d.sysfsRoot)
		if err != nil {
			return reconciler.Permanent(err)
		}
		best, ok := backlight.Best(devices)
		if !ok {
			return reconciler.Permanentf("no backlight device")
		}
		device = best.Name
	}

	limit, err := backlight.MaxBrightness(d.sysfsRoot, device)
	if err != nil {
		return reconciler.Permanent(err)
	}
	raw := backlight.Raw(percent, limit)

	logging.Debug("Dispatch", "Setting %s brightness to %d/%d", device, raw, limit)
	call := d.bus.Object(logindName, logindSessionPath).
		CallWithContext(ctx, logindSetBrightness, 0, backlight.Subsystem, device, raw)
	if call.Err != nil {
		return classifyBus(fmt.Errorf("SetBrightness %s: %w", device, call.Err))
	}
	return nil
}
