package reconciler

import (
	"context"
	"fmt"
	"time"

	"settingsd/internal/settings"
)

// ChangeOp describes how an event changes a key.
type ChangeOp string

const (
	// OpSet replaces the value.
	OpSet ChangeOp = "Set"

	// OpStep changes the value relative to the current desired value,
	// e.g. volume down or toggle mute.
	OpStep ChangeOp = "Step"
)

// ChangeEvent is an immutable observation that a key should change.
type ChangeEvent struct {
	// ID uniquely identifies the event in logs.
	ID string

	// Source names the adapter or surface that produced the event.
	Source string

	// Key is the setting that changed.
	Key settings.Key

	// Op selects between Value and Step.
	Op ChangeOp

	// Value is the new value for OpSet.
	Value settings.Value

	// Step is the relative change for OpStep.
	Step int

	// Resync marks events read from a fresh snapshot after (re)subscribing.
	// They bypass debouncing.
	Resync bool

	// Timestamp is when the event was accepted by the ingress.
	Timestamp time.Time

	// Sequence is a process-wide monotonic number assigned on ingress.
	Sequence uint64
}

func (e ChangeEvent) String() string {
	switch e.Op {
	case OpStep:
		return fmt.Sprintf("%s step %+d from %s (#%d)", e.Key, e.Step, e.Source, e.Sequence)
	default:
		return fmt.Sprintf("%s = %s from %s (#%d)", e.Key, e.Value, e.Source, e.Sequence)
	}
}

// SetEvent builds an absolute change.
func SetEvent(source string, key settings.Key, v settings.Value) ChangeEvent {
	return ChangeEvent{Source: source, Key: key, Op: OpSet, Value: v}
}

// StepEvent builds a relative change.
func StepEvent(source string, key settings.Key, delta int) ChangeEvent {
	return ChangeEvent{Source: source, Key: key, Op: OpStep, Step: delta}
}

// PendingAction is one downstream operation the engine handed to the
// dispatcher. A key has at most one at any time.
type PendingAction struct {
	ID        string
	Key       settings.Key
	Subsystem string
	Operation string
	Args      map[string]string

	// Value is the desired value the action realizes.
	Value settings.Value

	// Origin is the source of the event that produced the action.
	Origin string

	// Attempt starts at 1.
	Attempt int
}

func (a PendingAction) String() string {
	return fmt.Sprintf("%s.%s for %s (attempt %d)", a.Subsystem, a.Operation, a.Key, a.Attempt)
}

// Dispatcher executes actions. Implementations classify failures with
// Permanent; anything else is retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, action PendingAction) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, action PendingAction) error

func (f DispatcherFunc) Dispatch(ctx context.Context, action PendingAction) error {
	return f(ctx, action)
}

// Persister writes accepted values. *store.Store satisfies it.
type Persister interface {
	Persist(key settings.Key, value settings.Value) error
}

// Observer is notified of durable transitions. Calls happen on the engine
// goroutine and must not block.
type Observer interface {
	// SettingChanged is called once per confirmed transition.
	SettingChanged(key settings.Key, value settings.Value, origin string)

	// SettingFailed is called once per abandoned transition, after the key
	// has reverted to its last confirmed value.
	SettingFailed(key settings.Key, attempted settings.Value, err error)
}

// LifecycleObserver optionally receives intermediate engine events.
type LifecycleObserver interface {
	Observer
	SettingRetrying(action PendingAction, delay time.Duration, err error)
	SettingSuperseded(action PendingAction, by ChangeEvent)
}

// Phase is the state of one key's reconciliation.
type Phase string

const (
	// PhaseIdle means desired and confirmed agree and nothing is in flight.
	PhaseIdle Phase = "Idle"

	// PhaseDeciding is the transient state while an event is evaluated.
	PhaseDeciding Phase = "Deciding"

	// PhaseDispatching means an action is with the dispatcher.
	PhaseDispatching Phase = "Dispatching"

	// PhaseRetrying means the last attempt failed transiently and the next
	// one is scheduled.
	PhaseRetrying Phase = "Retrying"
)

// KeyStatus is a point-in-time view of one key.
type KeyStatus struct {
	Key        string    `json:"key"`
	Phase      Phase     `json:"phase"`
	Desired    string    `json:"desired"`
	Confirmed  string    `json:"confirmed"`
	Attempt    int       `json:"attempt,omitempty"`
	Queued     bool      `json:"queued,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	LastChange time.Time `json:"lastChange,omitempty"`
}
