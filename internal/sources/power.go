package sources

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/dbusutil"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

const (
	upowerName          = "org.freedesktop.UPower"
	upowerPath          = dbus.ObjectPath("/org/freedesktop/UPower")
	upowerDisplayDevice = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	upowerDeviceIface   = "org.freedesktop.UPower.Device"
)

// Power follows UPower: whether the machine runs on battery and the
// coarse charge level of the display device.
type Power struct {
	bus dbusutil.Bus

	mu      sync.Mutex
	present bool
}

// NewPower creates the adapter on the system bus connection bus.
func NewPower(bus dbusutil.Bus) *Power {
	return &Power{bus: bus}
}

// Name returns "power".
func (p *Power) Name() string {
	return settings.OriginPower
}

// Subscribe listens for UPower property changes.
func (p *Power) Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error) {
	signals, err := dbusutil.Watch(ctx, p.bus,
		dbusutil.PropertiesChangedOn(upowerName, upowerPath),
		dbusutil.PropertiesChangedOn(upowerName, upowerDisplayDevice),
	)
	if err != nil {
		return nil, err
	}

	out := make(chan reconciler.ChangeEvent, 8)
	go func() {
		defer close(out)
		for sig := range signals {
			pc, ok := dbusutil.ParsePropertiesChanged(sig)
			if !ok {
				continue
			}
			for _, ev := range p.translate(pc) {
				if !send(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Snapshot reads OnBattery and the display device charge.
func (p *Power) Snapshot(ctx context.Context) ([]reconciler.ChangeEvent, error) {
	daemon, err := dbusutil.GetAll(ctx, p.bus.Object(upowerName, upowerPath), upowerName)
	if err != nil {
		return nil, err
	}
	events := p.translate(dbusutil.PropertiesChange{Interface: upowerName, Changed: daemon})

	device, err := dbusutil.GetAll(ctx, p.bus.Object(upowerName, upowerDisplayDevice), upowerDeviceIface)
	if err != nil {
		logging.Warn("Power", "No display device: %v", err)
		return events, nil
	}
	return append(events, p.translate(dbusutil.PropertiesChange{Interface: upowerDeviceIface, Changed: device})...), nil
}

// translate maps a property change to events. The battery level is only
// reported while a battery is present; desktops report a 0% display
// device otherwise.
func (p *Power) translate(pc dbusutil.PropertiesChange) []reconciler.ChangeEvent {
	var events []reconciler.ChangeEvent

	switch pc.Interface {
	case upowerName:
		if v, ok := pc.Changed["OnBattery"]; ok {
			if onBattery, ok := v.Value().(bool); ok {
				events = append(events, reconciler.SetEvent(settings.OriginPower, settings.PowerOnBattery, settings.BoolValue(onBattery)))
			}
		}

	case upowerDeviceIface:
		p.mu.Lock()
		defer p.mu.Unlock()
		if v, ok := pc.Changed["IsPresent"]; ok {
			if present, ok := v.Value().(bool); ok {
				p.present = present
			}
		}
		if !p.present {
			return nil
		}
		if v, ok := pc.Changed["Percentage"]; ok {
			if pct, ok := v.Value().(float64); ok {
				level := settings.BatteryLevelFor(pct)
				events = append(events, reconciler.SetEvent(settings.OriginPower, settings.PowerBattery, settings.EnumValue(level)))
			}
		}
	}
	return events
}
