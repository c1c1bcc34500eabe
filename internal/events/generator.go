package events

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

// DefaultHistory is the number of events a Recorder keeps for queries.
const DefaultHistory = 200

// Recorder turns engine and source notifications into events. Each event
// is logged, emitted as a capitan signal and kept in a bounded history.
// It implements reconciler.LifecycleObserver and sources.HealthObserver.
type Recorder struct {
	ctx       context.Context
	templates *MessageTemplateEngine
	now       func() time.Time

	mu      sync.Mutex
	history []Event
	next    int
	full    bool
}

// NewRecorder creates a recorder keeping the last size events.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultHistory
	}
	return &Recorder{
		ctx:       context.Background(),
		templates: NewMessageTemplateEngine(),
		now:       time.Now,
		history:   make([]Event, size),
	}
}

// Templates exposes the message templates for customization.
func (r *Recorder) Templates() *MessageTemplateEngine { return r.templates }

func (r *Recorder) SettingChanged(key settings.Key, value settings.Value, origin string) {
	data := EventData{Key: key.String(), Value: settings.Format(value), Origin: origin}
	r.record(key.String(), ReasonSettingChanged, data)
	capitan.Emit(r.ctx, SettingChanged,
		KeyKey.Field(data.Key),
		KeyValue.Field(data.Value),
		KeyOrigin.Field(origin),
	)
}

func (r *Recorder) SettingFailed(key settings.Key, attempted settings.Value, err error) {
	data := EventData{Key: key.String(), Value: settings.Format(attempted), Error: errString(err)}
	r.record(key.String(), ReasonSettingFailed, data)
	capitan.Emit(r.ctx, SettingFailed,
		KeyKey.Field(data.Key),
		KeyValue.Field(data.Value),
		KeyError.Field(data.Error),
	)
}

func (r *Recorder) SettingRetrying(action reconciler.PendingAction, delay time.Duration, err error) {
	data := EventData{
		Key:     action.Key.String(),
		Value:   settings.Format(action.Value),
		Error:   errString(err),
		Attempt: action.Attempt,
		Delay:   delay,
	}
	r.record(data.Key, ReasonSettingRetrying, data)
	capitan.Emit(r.ctx, SettingRetrying,
		KeyKey.Field(data.Key),
		KeyAttempt.Field(action.Attempt),
		KeyDelay.Field(delay),
		KeyError.Field(data.Error),
	)
}

func (r *Recorder) SettingSuperseded(action reconciler.PendingAction, by reconciler.ChangeEvent) {
	r.record(action.Key.String(), ReasonSettingSuperseded, EventData{Key: action.Key.String(), Origin: by.Source})
}

func (r *Recorder) SourceDegraded(name string, failures int, err error) {
	data := EventData{Source: name, Failures: failures, Error: errString(err)}
	r.record(name, ReasonSourceDegraded, data)
	capitan.Emit(r.ctx, SourceDegraded,
		KeySource.Field(name),
		KeyFailures.Field(failures),
		KeyError.Field(data.Error),
	)
}

func (r *Recorder) SourceRecovered(name string) {
	r.record(name, ReasonSourceRecovered, EventData{Source: name})
	capitan.Emit(r.ctx, SourceRecovered, KeySource.Field(name))
}

func (r *Recorder) record(subject string, reason EventReason, data EventData) {
	ev := Event{
		Time:    r.now(),
		Type:    getEventType(reason),
		Reason:  reason,
		Subject: subject,
		Message: r.templates.Render(reason, data),
	}

	if ev.Type == EventTypeWarning {
		logging.Warn("Events", "%s: %s", reason, ev.Message)
	} else {
		logging.Debug("Events", "%s: %s", reason, ev.Message)
	}

	r.mu.Lock()
	r.history[r.next] = ev
	r.next = (r.next + 1) % len(r.history)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
