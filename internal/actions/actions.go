// Package actions is the table of named system actions that can be
// invoked through the control surface, e.g. from a media key binding.
//
// An action either steps a setting (volume-lower steps audio/v1/volume
// by -5) or runs a command. Command actions get a counter key in the
// "action" namespace so invocations go through the engine like any other
// change.
package actions

import (
	"errors"
	"fmt"
	"sort"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/template"
	"settingsd/pkg/logging"
)

// ErrUnknownAction is returned for ids that are not in the table.
var ErrUnknownAction = errors.New("unknown action")

// Action is one entry of the table.
type Action struct {
	ID          string
	Description string

	// Key and Step describe a setting action.
	Key  settings.Key
	Step int

	// Command is the argv template of a command action.
	Command []string
}

// IsCommand reports whether a runs a command.
func (a Action) IsCommand() bool {
	return len(a.Command) > 0
}

// Builtin returns the default table.
func Builtin() []Action {
	return []Action{
		{ID: "volume-lower", Description: "Lower the output volume", Key: settings.AudioVolume, Step: -settings.VolumeStep},
		{ID: "volume-raise", Description: "Raise the output volume", Key: settings.AudioVolume, Step: settings.VolumeStep},
		{ID: "mute", Description: "Toggle output mute", Key: settings.AudioMute, Step: 1},
		{ID: "mute-mic", Description: "Toggle microphone mute", Key: settings.AudioMicMute, Step: 1},
		{ID: "brightness-down", Description: "Dim the screen", Key: settings.DisplayBrightness, Step: -settings.BrightnessStep},
		{ID: "brightness-up", Description: "Brighten the screen", Key: settings.DisplayBrightness, Step: settings.BrightnessStep},
		{ID: "input-source-switch", Description: "Switch to the next keyboard layout", Key: settings.InputXkbConfig, Step: 1},
		{ID: "dark-mode-toggle", Description: "Toggle dark mode", Key: settings.ThemeIsDark, Step: 1},
		{ID: "home-folder", Description: "Open the home folder", Command: []string{"xdg-open", `{{ env "HOME" }}`}},
		{ID: "web-browser", Description: "Open the default web browser", Command: []string{"sh", "-c", `exec gtk-launch "$(xdg-settings get default-web-browser)"`}},
		{ID: "terminal", Description: "Open a terminal", Command: []string{"x-terminal-emulator"}},
		{ID: "lock-screen", Description: "Lock the session", Command: []string{"loginctl", "lock-session"}},
		{ID: "screenshot", Description: "Take a screenshot", Command: []string{"gnome-screenshot", "--interactive"}},
	}
}

// Table resolves action ids. It is built once at startup and read-only
// afterwards.
type Table struct {
	actions map[string]Action
}

// NewTable builds the table from the built-in actions and overrides from
// the daemon config. An override replaces an action with a command, or
// adds a new command action.
func NewTable(overrides map[string][]string, engine *template.Engine) (*Table, error) {
	t := &Table{actions: make(map[string]Action)}
	for _, a := range Builtin() {
		t.actions[a.ID] = a
	}

	for id, argv := range overrides {
		if err := engine.Validate(argv); err != nil {
			return nil, fmt.Errorf("action %s: %w", id, err)
		}
		a, ok := t.actions[id]
		if !ok {
			a = Action{ID: id, Description: "Run " + argv[0]}
		}
		a.Key, a.Step = settings.Key{}, 0
		a.Command = append([]string(nil), argv...)
		t.actions[id] = a
		logging.Debug("Actions", "Action %s runs %v", id, argv)
	}

	for _, a := range t.actions {
		if a.IsCommand() {
			if err := engine.Validate(a.Command); err != nil {
				return nil, fmt.Errorf("action %s: %w", a.ID, err)
			}
		}
	}
	return t, nil
}

// Lookup returns the action with id.
func (t *Table) Lookup(id string) (Action, bool) {
	a, ok := t.actions[id]
	return a, ok
}

// IDs returns all action ids in sorted order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.actions))
	for id := range t.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Schemas returns the counter schemas of every command action, for
// registration next to the built-in settings.
func (t *Table) Schemas() []settings.Schema {
	var out []settings.Schema
	for _, id := range t.IDs() {
		if t.actions[id].IsCommand() {
			out = append(out, settings.ActionSchema(id))
		}
	}
	return out
}

// Command returns the argv template of a command action.
func (t *Table) Command(id string) ([]string, bool) {
	a, ok := t.actions[id]
	if !ok || !a.IsCommand() {
		return nil, false
	}
	return a.Command, true
}

// Event returns the change event that invokes id.
func (t *Table) Event(id string) (reconciler.ChangeEvent, error) {
	a, ok := t.actions[id]
	if !ok {
		return reconciler.ChangeEvent{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	if a.IsCommand() {
		return reconciler.StepEvent(settings.OriginControl, settings.ActionKey(id), 1), nil
	}
	return reconciler.StepEvent(settings.OriginControl, a.Key, a.Step), nil
}
