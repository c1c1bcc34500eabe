// Package reconciler turns asynchronous change events into ordered,
// exactly-once state transitions per setting key.
//
// # Overview
//
// Events from every source enter through a single Ingress, which stamps
// them with a monotonic sequence number. A Debouncer coalesces bursts per
// key, and the Engine runs one state machine per key:
//
//	Idle -> Deciding -> Dispatching -> Idle
//	                        |   ^
//	                        v   |
//	                      Retrying
//
// # Guarantees
//
//   - At most one PendingAction per key is with the dispatcher at any time.
//     Events arriving meanwhile are queued (newest wins) and evaluated when
//     the action resolves.
//   - An event arriving while a key waits for a retry cancels the retry and
//     replaces the action immediately.
//   - Transient failures are retried with exponential backoff up to
//     Config.MaxAttempts. Permanent failures and exhausted retries revert
//     the key to its last confirmed value and notify observers once.
//   - A value is confirmed only after it was persisted. A failed write
//     rolls the transition back.
//   - Shutdown waits for in-flight actions up to Config.DrainTimeout and
//     then cancels them.
//
// # Usage
//
//	ingress := reconciler.NewIngress(256, nil)
//	engine := reconciler.NewEngine(registry, loaded, dispatcher, store, reconciler.Config{}, metrics)
//	debouncer := reconciler.NewDebouncer(50*time.Millisecond, nil, registry, metrics)
//
//	go debouncer.Run(ctx, ingress.Events(), engine.Input())
//	go engine.Run(ctx)
//
//	_ = ingress.Submit(ctx, reconciler.StepEvent(settings.OriginControl, settings.AudioVolume, -5))
//
// Dispatchers mark failures that retrying cannot fix with Permanent.
package reconciler
