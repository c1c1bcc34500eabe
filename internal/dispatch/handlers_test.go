package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settingsd/internal/actions"
	"settingsd/internal/backlight"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/template"
)

func addBacklight(t *testing.T, root, name, max string) {
	t.Helper()
	dir := filepath.Join(backlight.ClassDir(root), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max), 0o644))
}

func TestDisplay_SetBrightness(t *testing.T) {
	root := t.TempDir()
	addBacklight(t, root, "intel_backlight", "1000")
	addBacklight(t, root, "acpi_video0", "10")

	bus := &fakeBus{}
	d := NewDisplay(bus, root)

	require.NoError(t, d.Handle(context.Background(),
		action(settings.SubsystemDisplay, "set-brightness", map[string]string{"device": "acpi_video0", "percent": "45"})))
	// Empty device falls back to the best one.
	require.NoError(t, d.Handle(context.Background(),
		action(settings.SubsystemDisplay, "set-brightness", map[string]string{"device": "", "percent": "45"})))

	calls := bus.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, logindName, calls[0].Dest)
	assert.Equal(t, logindSessionPath, calls[0].Path)
	assert.Equal(t, logindSetBrightness, calls[0].Method)
	assert.Equal(t, []interface{}{"backlight", "acpi_video0", uint32(5)}, calls[0].Args)
	assert.Equal(t, []interface{}{"backlight", "intel_backlight", uint32(450)}, calls[1].Args)
}

func TestDisplay_Failures(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	d := NewDisplay(&fakeBus{}, root)
	err := d.Handle(ctx, action(settings.SubsystemDisplay, "set-brightness", map[string]string{"percent": "45"}))
	assert.True(t, reconciler.IsPermanent(err), "no device: %v", err)

	err = d.Handle(ctx, action(settings.SubsystemDisplay, "set-brightness", map[string]string{"device": "gone", "percent": "45"}))
	assert.True(t, reconciler.IsPermanent(err), "missing device: %v", err)

	addBacklight(t, root, "intel_backlight", "1000")
	d = NewDisplay(&fakeBus{err: dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}}, root)
	err = d.Handle(ctx, action(settings.SubsystemDisplay, "set-brightness", map[string]string{"percent": "45"}))
	require.Error(t, err)
	assert.False(t, reconciler.IsPermanent(err), "logind restarting: %v", err)

	d = NewDisplay(&fakeBus{err: dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}}, root)
	err = d.Handle(ctx, action(settings.SubsystemDisplay, "set-brightness", map[string]string{"percent": "45"}))
	assert.True(t, reconciler.IsPermanent(err), "access denied: %v", err)
}

func TestLocaled_Calls(t *testing.T) {
	bus := &fakeBus{}
	l := NewLocaled(bus)
	ctx := context.Background()

	require.NoError(t, l.Handle(ctx, action(settings.SubsystemKeyboard, "set-x11-keyboard", map[string]string{
		"layout": "us,de", "model": "pc105", "variant": "", "options": "grp:alt_shift_toggle",
	})))
	require.NoError(t, l.Handle(ctx, action(settings.SubsystemLocale, "set-locale", map[string]string{"LANG": "de_DE.UTF-8"})))

	calls := bus.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, localedSetX11Keyboard, calls[0].Method)
	assert.Equal(t, []interface{}{"us,de", "pc105", "", "grp:alt_shift_toggle", false, false}, calls[0].Args)
	assert.Equal(t, localedSetLocale, calls[1].Method)
	assert.Equal(t, []interface{}{[]string{"LANG=de_DE.UTF-8"}, false}, calls[1].Args)

	err := l.Handle(ctx, action(settings.SubsystemLocale, "set-x11-keyboard", nil))
	assert.True(t, reconciler.IsPermanent(err))
}

func TestNotify_ReplacesPerKey(t *testing.T) {
	bus := &fakeBus{reply: []interface{}{uint32(7)}}
	n := NewNotify(bus, "settingsd")
	ctx := context.Background()

	a := action(settings.SubsystemNotify, "notify", map[string]string{
		"summary": "Battery low", "body": "Connect a charger soon", "urgency": "critical", "icon": "battery-low",
	})
	require.NoError(t, n.Handle(ctx, a))
	require.NoError(t, n.Handle(ctx, a))

	other := a
	other.Key = settings.PowerOnBattery
	require.NoError(t, n.Handle(ctx, other))

	calls := bus.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, notificationsNotify, calls[0].Method)
	assert.Equal(t, "settingsd", calls[0].Args[0])
	assert.Equal(t, uint32(0), calls[0].Args[1])
	assert.Equal(t, "battery-low", calls[0].Args[2])
	assert.Equal(t, "Battery low", calls[0].Args[3])
	hints := calls[0].Args[6].(map[string]dbus.Variant)
	assert.Equal(t, byte(2), hints["urgency"].Value())
	assert.Equal(t, int32(-1), calls[0].Args[7])

	assert.Equal(t, uint32(7), calls[1].Args[1], "second notification for the key replaces the first")
	assert.Equal(t, uint32(0), calls[2].Args[1], "other keys start fresh")
}

func TestCommand_RendersAndRuns(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	c := NewCommand(map[string][]string{
		"audio.set-volume": {"sh", "-c", `printf '%s %s' "$1" "$2" > ` + out, "sh", "{{ .percent }}%", "{{ .key }}"},
	}, template.New(), time.Second)

	a := action(settings.SubsystemAudio, "set-volume", map[string]string{"percent": "40"})
	a.Key = settings.AudioVolume
	a.Value = settings.IntValue(40)
	require.NoError(t, c.Handle(context.Background(), a))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "40% audio/v1/volume", string(data))
}

func TestCommand_Classification(t *testing.T) {
	engine := template.New()
	c := NewCommand(map[string][]string{
		"audio.fail":      {"sh", "-c", "exit 3"},
		"audio.notfound":  {"sh", "-c", "exit 127"},
		"audio.missing":   {"settingsd-no-such-binary"},
		"audio.slow":      {"sleep", "5"},
		"audio.badtmpl":   {"echo", "{{ .nope }}"},
		"audio.empty-arg": {},
	}, engine, 100*time.Millisecond)
	ctx := context.Background()

	tests := []struct {
		op        string
		permanent bool
	}{
		{"fail", false},
		{"notfound", true},
		{"missing", true},
		{"slow", false},
		{"badtmpl", true},
		{"empty-arg", true},
		{"unconfigured", true},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			err := c.Handle(ctx, action(settings.SubsystemAudio, tt.op, nil))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, reconciler.IsPermanent(err), "%v", err)
		})
	}
}

func TestActionCommand_LaunchesWithoutWaiting(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "started")
	engine := template.New()
	table, err := actions.NewTable(map[string][]string{
		"terminal": {"sh", "-c", `touch "$1"; exec sleep 5`, "sh", marker},
	}, engine)
	require.NoError(t, err)

	c := NewActionCommand(table, engine)

	begin := time.Now()
	require.NoError(t, c.Handle(context.Background(), action(settings.SubsystemCommand, "terminal", nil)))
	assert.Less(t, time.Since(begin), 2*time.Second, "a long-running action must not block the dispatch")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestActionCommand_FailuresArePermanent(t *testing.T) {
	engine := template.New()
	table, err := actions.NewTable(map[string][]string{
		"screenshot": {"settingsd-no-such-binary"},
		"greet":      {"sh", "-c", "exit 1"},
	}, engine)
	require.NoError(t, err)

	c := NewActionCommand(table, engine)
	ctx := context.Background()

	// The exit status of a launched program is not the action's outcome.
	require.NoError(t, c.Handle(ctx, action(settings.SubsystemCommand, "greet", nil)))

	err = c.Handle(ctx, action(settings.SubsystemCommand, "screenshot", nil))
	require.Error(t, err)
	assert.True(t, reconciler.IsPermanent(err), "%v", err)

	// Step actions have no command.
	err = c.Handle(ctx, action(settings.SubsystemCommand, "volume-raise", nil))
	assert.True(t, reconciler.IsPermanent(err), "%v", err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.Handle(cancelled, action(settings.SubsystemCommand, "greet", nil)), context.Canceled)
}

func TestCommand_CancelledParent(t *testing.T) {
	c := NewCommand(map[string][]string{"theme.apply": {"sleep", "5"}}, template.New(), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Handle(ctx, action(settings.SubsystemTheme, "apply", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, reconciler.IsPermanent(err))
}
