// Package dispatch executes the actions the reconciliation engine plans.
//
// A Router maps each action's subsystem to a Handler:
//
//   - audio and theme run configured command templates (Command)
//   - display sets backlight brightness via logind (Display)
//   - keyboard and locale call systemd-localed (Localed)
//   - notify shows desktop notifications (Notify)
//   - power plays plug and battery sounds, notifies, and repeats an alarm
//     while the battery is critical and unplugged (Power)
//   - command launches named system actions without waiting (NewActionCommand)
//
// Handlers return errors wrapped with reconciler.Permanent when retrying
// cannot help. Everything else is retried by the engine.
package dispatch
