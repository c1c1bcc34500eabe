package sources

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"

	"settingsd/internal/dbusutil"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

const (
	localedName = "org.freedesktop.locale1"
	localedPath = dbus.ObjectPath("/org/freedesktop/locale1")
)

// Localed mirrors systemd-localed's X11 keymap and LANG into settings so
// changes made with localectl show up in the daemon.
type Localed struct {
	bus dbusutil.Bus
}

// NewLocaled creates the adapter on the system bus connection bus.
func NewLocaled(bus dbusutil.Bus) *Localed {
	return &Localed{bus: bus}
}

// Name returns "localed".
func (l *Localed) Name() string {
	return settings.OriginLocaled
}

// Subscribe listens for localed property changes. localed may announce a
// change without values, so every signal triggers a full read.
func (l *Localed) Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error) {
	signals, err := dbusutil.Watch(ctx, l.bus, dbusutil.PropertiesChangedOn(localedName, localedPath))
	if err != nil {
		return nil, err
	}

	out := make(chan reconciler.ChangeEvent, 4)
	go func() {
		defer close(out)
		for sig := range signals {
			if pc, ok := dbusutil.ParsePropertiesChanged(sig); !ok || pc.Interface != localedName {
				continue
			}
			events, err := l.Snapshot(ctx)
			if err != nil {
				logging.Warn("Localed", "Failed to read localed state: %v", err)
				continue
			}
			for _, ev := range events {
				if !send(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Snapshot reads the current keymap and locale.
func (l *Localed) Snapshot(ctx context.Context) ([]reconciler.ChangeEvent, error) {
	props, err := dbusutil.GetAll(ctx, l.bus.Object(localedName, localedPath), localedName)
	if err != nil {
		return nil, err
	}
	return localedEvents(props), nil
}

// localedEvents converts localed properties into events for the keyboard
// record and LANG.
func localedEvents(props map[string]dbus.Variant) []reconciler.ChangeEvent {
	var events []reconciler.ChangeEvent

	str := func(name string) (string, bool) {
		v, ok := props[name]
		if !ok {
			return "", false
		}
		s, ok := v.Value().(string)
		return s, ok
	}

	if layout, ok := str("X11Layout"); ok && layout != "" {
		model, _ := str("X11Model")
		variant, _ := str("X11Variant")
		options, _ := str("X11Options")
		rec := settings.RecordValue(map[string]string{
			"layout":  layout,
			"model":   model,
			"variant": variant,
			"options": options,
		})
		events = append(events, reconciler.SetEvent(settings.OriginLocaled, settings.InputXkbConfig, rec))
	}

	if v, ok := props["Locale"]; ok {
		if assignments, ok := v.Value().([]string); ok {
			for _, a := range assignments {
				if lang, found := strings.CutPrefix(a, "LANG="); found && lang != "" {
					events = append(events, reconciler.SetEvent(settings.OriginLocaled, settings.LocaleLang, settings.StringValue(lang)))
				}
			}
		}
	}
	return events
}
