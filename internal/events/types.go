package events

import (
	"time"
)

// EventType is the severity of a settings event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason is the reason code of an event.
type EventReason string

// Setting event reasons
const (
	// ReasonSettingChanged indicates a transition was applied and persisted.
	ReasonSettingChanged EventReason = "SettingChanged"

	// ReasonSettingFailed indicates a transition was abandoned and the key
	// reverted to its last confirmed value.
	ReasonSettingFailed EventReason = "SettingFailed"

	// ReasonSettingRetrying indicates a transient failure with a retry scheduled.
	ReasonSettingRetrying EventReason = "SettingRetrying"

	// ReasonSettingSuperseded indicates a newer event replaced a pending retry.
	ReasonSettingSuperseded EventReason = "SettingSuperseded"
)

// Source event reasons
const (
	// ReasonSourceDegraded indicates a source failed to subscribe repeatedly.
	ReasonSourceDegraded EventReason = "SourceDegraded"

	// ReasonSourceRecovered indicates a degraded source subscribed again.
	ReasonSourceRecovered EventReason = "SourceRecovered"
)

// Event is one recorded occurrence.
type Event struct {
	Time    time.Time   `json:"time"`
	Type    EventType   `json:"type"`
	Reason  EventReason `json:"reason"`
	Subject string      `json:"subject"`
	Message string      `json:"message"`
}

// EventData carries the values a message template can reference.
type EventData struct {
	// Key is the setting key, e.g. "audio/v1/volume".
	Key string

	// Value is the applied or attempted value in its file form.
	Value string

	// Origin is the source of the change.
	Origin string

	// Source is the adapter name for source events.
	Source string

	// Error contains error information for failure events.
	Error string

	// Attempt is the dispatch attempt that failed.
	Attempt int

	// Delay is the time until the next retry.
	Delay time.Duration

	// Failures is the number of consecutive source failures.
	Failures int
}

// getEventType returns the EventType for a given EventReason.
func getEventType(reason EventReason) EventType {
	switch reason {
	case ReasonSettingFailed,
		ReasonSettingRetrying,
		ReasonSourceDegraded:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
