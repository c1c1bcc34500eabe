package reconciler

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"settingsd/internal/settings"
)

// keyMachine is the reconciliation state of one key. Only the engine
// goroutine touches it.
type keyMachine struct {
	key    settings.Key
	schema *settings.Schema

	phase Phase

	// desired is the last accepted value; confirmed is the last value that
	// was realized downstream and persisted. They differ only while an
	// action is pending.
	desired   settings.Value
	confirmed settings.Value

	// action is in flight (Dispatching) or waiting for its next attempt
	// (Retrying). origin is the event that produced it.
	action *PendingAction
	origin ChangeEvent

	// queued holds the newest event that arrived while Dispatching.
	queued *ChangeEvent

	// generation increases whenever the current action is replaced, so
	// results and retry timers of older actions can be recognized.
	generation uint64

	backoff    *backoff.ExponentialBackOff
	lastErr    error
	lastChange time.Time
}

func newKeyMachine(schema *settings.Schema, initial settings.Value) *keyMachine {
	return &keyMachine{
		key:       schema.Key,
		schema:    schema,
		phase:     PhaseIdle,
		desired:   initial,
		confirmed: initial,
	}
}

// unconfirmed reports whether desired runs ahead of confirmed.
func (m *keyMachine) unconfirmed() bool {
	return !m.desired.Equal(m.confirmed)
}

func (m *keyMachine) status() KeyStatus {
	s := KeyStatus{
		Key:        m.key.String(),
		Phase:      m.phase,
		Desired:    m.desired.String(),
		Confirmed:  m.confirmed.String(),
		Queued:     m.queued != nil,
		LastChange: m.lastChange,
	}
	if m.action != nil {
		s.Attempt = m.action.Attempt
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
