// Package events records what happened to settings and sources.
//
// A Recorder is registered as an engine observer and as a source health
// observer. For every notification it:
//
//   - renders a human readable message from a template
//   - logs it (warnings at WARN, the rest at DEBUG)
//   - emits a capitan signal with structured fields
//   - keeps it in a bounded history for Query
//
// Other components subscribe to the signals with capitan.Hook:
//
//	capitan.Hook(events.SettingFailed, func(_ context.Context, e *capitan.Event) {
//		key, _ := events.KeyKey.From(e)
//		...
//	})
package events
