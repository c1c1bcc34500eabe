package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"settingsd/internal/events"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/sources"
	"settingsd/pkg/logging"
)

// Reader answers queries about the current settings. *reconciler.Engine
// satisfies it.
type Reader interface {
	Get(ctx context.Context, key settings.Key) (settings.Value, error)
	Status(ctx context.Context) ([]reconciler.KeyStatus, error)
}

// Invoker resolves named actions. *actions.Table satisfies it.
type Invoker interface {
	Event(id string) (reconciler.ChangeEvent, error)
}

// Options wires a Service to the rest of the daemon.
type Options struct {
	Registry *settings.Registry
	Reader   Reader
	Sink     sources.Sink
	Actions  Invoker

	// Sources reports adapter health. Optional.
	Sources func() []sources.SourceStatus
	// Metrics are included in status reports. Optional.
	Metrics *reconciler.Metrics
	// Events supplies recent events for status reports. Optional.
	Events *events.Recorder

	// Timeout bounds each request. Defaults to 5 seconds.
	Timeout time.Duration
}

// StatusReport is the document returned by Status.
type StatusReport struct {
	Keys    []reconciler.KeyStatus     `json:"keys"`
	Sources []sources.SourceStatus     `json:"sources,omitempty"`
	Metrics *reconciler.MetricsSummary `json:"metrics,omitempty"`
	Events  []events.Event             `json:"events,omitempty"`
}

// Service implements the control operations independent of the bus. It
// is also an engine observer that turns transitions into signals.
type Service struct {
	opts    Options
	signals chan signal

	statusGroup singleflight.Group
}

type signal struct {
	name string
	args []interface{}
}

// signalBuffer bounds signals waiting for the bus.
const signalBuffer = 128

// NewService creates the service.
func NewService(opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Service{opts: opts, signals: make(chan signal, signalBuffer)}
}

func (s *Service) resolve(key string) (*settings.Schema, error) {
	schema, err := s.opts.Registry.Resolve(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return schema, nil
}

// Get returns the current value of key in its file form.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	schema, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	v, err := s.opts.Reader.Get(ctx, schema.Key)
	if err != nil {
		return "", unavailable(err)
	}
	return settings.Format(v), nil
}

// Set requests a new value. The value is checked before it is queued; the
// change itself is applied asynchronously and reported by the Changed or
// Failed signal.
func (s *Service) Set(ctx context.Context, key, value string) error {
	schema, err := s.resolve(key)
	if err != nil {
		return err
	}
	v, err := schema.Parse(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	logging.Debug("Control", "Set %s = %s", schema.Key, settings.Format(v))
	return s.submit(ctx, reconciler.SetEvent(settings.OriginControl, schema.Key, v))
}

// Step requests a relative change of key.
func (s *Service) Step(ctx context.Context, key string, delta int) error {
	schema, err := s.resolve(key)
	if err != nil {
		return err
	}
	if schema.Step == nil {
		return fmt.Errorf("%w: %s does not support relative changes", ErrInvalidValue, schema.Key)
	}
	logging.Debug("Control", "Step %s by %+d", schema.Key, delta)
	return s.submit(ctx, reconciler.StepEvent(settings.OriginControl, schema.Key, delta))
}

// Invoke runs the named system action.
func (s *Service) Invoke(ctx context.Context, action string) error {
	ev, err := s.opts.Actions.Event(action)
	if err != nil {
		return err
	}
	logging.Debug("Control", "Invoke %s", action)
	return s.submit(ctx, ev)
}

func (s *Service) submit(ctx context.Context, ev reconciler.ChangeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.opts.Sink.Submit(ctx, ev); err != nil {
		return unavailable(err)
	}
	return nil
}

// Status builds a status report. Concurrent callers share one engine
// query.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	result, err, _ := s.statusGroup.Do("status", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		keys, err := s.opts.Reader.Status(ctx)
		if err != nil {
			return StatusReport{}, unavailable(err)
		}
		report := StatusReport{Keys: keys}
		if s.opts.Sources != nil {
			report.Sources = s.opts.Sources()
		}
		if s.opts.Metrics != nil {
			summary := s.opts.Metrics.Summary()
			report.Metrics = &summary
		}
		if s.opts.Events != nil {
			report.Events = s.opts.Events.Query(events.QueryOptions{Limit: 20})
		}
		return report, nil
	})
	if err != nil {
		return StatusReport{}, err
	}
	return result.(StatusReport), nil
}

// StatusJSON is Status encoded for the wire.
func (s *Service) StatusJSON(ctx context.Context) (string, error) {
	report, err := s.Status(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(report)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SettingChanged queues a Changed signal.
func (s *Service) SettingChanged(key settings.Key, value settings.Value, _ string) {
	s.queue(signal{name: SignalChanged, args: []interface{}{key.String(), settings.Format(value)}})
}

// SettingFailed queues a Failed signal.
func (s *Service) SettingFailed(key settings.Key, _ settings.Value, err error) {
	reason := "failed"
	if err != nil {
		reason = err.Error()
	}
	s.queue(signal{name: SignalFailed, args: []interface{}{key.String(), reason}})
}

func (s *Service) queue(sig signal) {
	select {
	case s.signals <- sig:
	default:
		logging.Warn("Control", "Signal buffer full, dropping %s for %v", sig.name, sig.args[0])
	}
}

// unavailable marks errors that mean the daemon cannot serve right now.
func unavailable(err error) error {
	if errors.Is(err, reconciler.ErrEngineStopped) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
