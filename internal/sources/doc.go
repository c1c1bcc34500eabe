// Package sources connects settingsd to the outside world.
//
// Each Adapter watches one external system and emits reconciler change
// events:
//
//   - ConfigStore: edits to the config and state trees (fsnotify)
//   - Power: UPower battery state (system bus)
//   - DayCycle: location and sunrise/sunset (GeoClue2 or static coordinates)
//   - Hotplug: backlight devices (kernel uevents)
//   - Localed: keymap and LANG from systemd-localed (system bus)
//
// The Supervisor subscribes every adapter, replays a snapshot of its
// current state as resync events, and resubscribes with exponential
// backoff when a subscription is lost. A source that keeps failing is
// reported degraded but never stops the daemon.
package sources
