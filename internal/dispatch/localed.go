package dispatch

import (
	"context"
	"fmt"

	"settingsd/internal/dbusutil"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
)

const (
	localedName           = "org.freedesktop.locale1"
	localedPath           = "/org/freedesktop/locale1"
	localedSetX11Keyboard = "org.freedesktop.locale1.SetX11Keyboard"
	localedSetLocale      = "org.freedesktop.locale1.SetLocale"
)

// Localed writes keyboard and locale settings through systemd-localed.
// It serves both the keyboard and the locale subsystem.
type Localed struct {
	bus dbusutil.Objects
}

func NewLocaled(bus dbusutil.Objects) *Localed {
	return &Localed{bus: bus}
}

func (l *Localed) Handle(ctx context.Context, a reconciler.PendingAction) error {
	obj := l.bus.Object(localedName, localedPath)

	var err error
	switch {
	case a.Subsystem == settings.SubsystemKeyboard && a.Operation == "set-x11-keyboard":
		// convert=false, interactive=false
		err = obj.CallWithContext(ctx, localedSetX11Keyboard, 0,
			a.Args["layout"], a.Args["model"], a.Args["variant"], a.Args["options"], false, false).Err
	case a.Subsystem == settings.SubsystemLocale && a.Operation == "set-locale":
		err = obj.CallWithContext(ctx, localedSetLocale, 0,
			[]string{"LANG=" + a.Args["LANG"]}, false).Err
	default:
		return errUnknownOperation(a)
	}
	if err != nil {
		return classifyBus(fmt.Errorf("%s: %w", a.Operation, err))
	}
	return nil
}
