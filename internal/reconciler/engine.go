package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"settingsd/internal/settings"
	"settingsd/pkg/logging"
)

// Config holds configuration for the Engine.
type Config struct {
	// MaxAttempts bounds dispatch attempts per transition.
	// Defaults to 5 if not specified.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Defaults to 250ms if not specified.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay.
	// Defaults to 30 seconds if not specified.
	MaxBackoff time.Duration

	// RandomizationFactor adds jitter to retry delays. Zero disables it.
	RandomizationFactor float64

	// DrainTimeout bounds how long shutdown waits for in-flight actions.
	// Defaults to 5 seconds if not specified.
	DrainTimeout time.Duration

	// InputSize is the buffer of the debounced event channel.
	// Defaults to 64 if not specified.
	InputSize int

	// Clock drives retry and drain timers. Defaults to the real clock.
	Clock clockz.Clock
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.InputSize <= 0 {
		c.InputSize = 64
	}
	if c.Clock == nil {
		c.Clock = clockz.RealClock
	}
}

type dispatchResult struct {
	key        settings.Key
	generation uint64
	action     PendingAction
	err        error
}

// Engine owns the desired state of every key and drives each key's state
// machine. All state is confined to the goroutine running Run; other
// goroutines talk to it through channels.
type Engine struct {
	cfg        Config
	registry   *settings.Registry
	dispatcher Dispatcher
	persister  Persister
	metrics    *Metrics
	observers  []Observer

	input   chan ChangeEvent
	results chan dispatchResult
	queries chan func()
	retries *retryScheduler

	machines map[settings.Key]*keyMachine
	inflight int
	draining bool

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	started atomic.Bool
	stopped chan struct{}
}

// NewEngine creates an engine seeded with the values loaded from the
// store. Keys missing from initial start at their defaults.
func NewEngine(registry *settings.Registry, initial map[settings.Key]settings.Value, dispatcher Dispatcher, persister Persister, cfg Config, metrics *Metrics) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:            cfg,
		registry:       registry,
		dispatcher:     dispatcher,
		persister:      persister,
		metrics:        metrics,
		input:          make(chan ChangeEvent, cfg.InputSize),
		results:        make(chan dispatchResult),
		queries:        make(chan func()),
		retries:        newRetryScheduler(cfg.Clock),
		machines:       make(map[settings.Key]*keyMachine),
		dispatchCtx:    ctx,
		dispatchCancel: cancel,
		stopped:        make(chan struct{}),
	}

	for _, k := range registry.Keys() {
		schema, _ := registry.Lookup(k)
		v, ok := initial[k]
		if !ok {
			v = schema.Default
		}
		e.machines[k] = newKeyMachine(schema, v)
	}
	return e
}

// AddObserver registers o. It must be called before Run.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Input is where debounced events are delivered.
func (e *Engine) Input() chan<- ChangeEvent {
	return e.input
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// Run processes events until ctx is cancelled, then drains in-flight
// actions for at most DrainTimeout.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.stopped)

	logging.Info("Engine", "Reconciling %d keys (max %d attempts, backoff %s..%s)",
		len(e.machines), e.cfg.MaxAttempts, e.cfg.InitialBackoff, e.cfg.MaxBackoff)

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil

		case ev := <-e.input:
			e.handleEvent(ev)

		case res := <-e.results:
			e.handleResult(res)

		case fire := <-e.retries.fired:
			e.handleRetry(fire)

		case q := <-e.queries:
			q()
		}
	}
}

// Get returns the desired value of key.
func (e *Engine) Get(ctx context.Context, key settings.Key) (settings.Value, error) {
	var (
		v  settings.Value
		ok bool
	)
	err := e.query(ctx, func() {
		if m, found := e.machines[key]; found {
			v, ok = m.desired, true
		}
	})
	if err != nil {
		return settings.Value{}, err
	}
	if !ok {
		return settings.Value{}, errors.New("unknown setting " + key.String())
	}
	return v, nil
}

// Status returns the state of every key in key order.
func (e *Engine) Status(ctx context.Context) ([]KeyStatus, error) {
	var out []KeyStatus
	err := e.query(ctx, func() {
		for _, k := range e.registry.Keys() {
			out = append(out, e.machines[k].status())
		}
	})
	return out, err
}

func (e *Engine) query(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.queries <- func() { fn(); close(done) }:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handleEvent(ev ChangeEvent) {
	m, ok := e.machines[ev.Key]
	if !ok {
		logging.Warn("Engine", "Ignoring event for unknown key %s", ev.Key)
		return
	}
	e.metrics.RecordEvent(ev.Key)

	switch m.phase {
	case PhaseDispatching:
		// Never interleave with the in-flight action; keep only the newest
		// intent and look at it once the action resolves.
		if m.queued != nil {
			merged := coalesce(e.registry, *m.queued, ev)
			m.queued = &merged
		} else {
			m.queued = &ev
		}
		logging.Debug("Engine", "Queued %s behind %s", ev, m.action)

	case PhaseRetrying:
		e.supersede(m, ev)

	default:
		e.decide(m, ev)
	}
}

// supersede replaces an action that is waiting for its next attempt.
func (e *Engine) supersede(m *keyMachine, ev ChangeEvent) {
	value, err := e.resolve(m, ev)
	if err != nil {
		logging.Warn("Engine", "Rejected %s: %v", ev, err)
		e.metrics.RecordRejected(m.key)
		return
	}
	if value.Equal(m.desired) {
		logging.Debug("Engine", "%s already pending for %s, keeping retry schedule", value, m.key)
		e.metrics.RecordDiscarded(m.key)
		return
	}

	old := *m.action
	e.retries.Cancel(m.key)
	m.action = nil
	m.phase = PhaseIdle
	e.metrics.RecordSuperseded(m.key)
	logging.Info("Engine", "Superseding %s with %s", old, ev)
	e.notifySuperseded(old, ev)

	e.start(m, ev, value)
}

// decide evaluates ev for an idle key.
func (e *Engine) decide(m *keyMachine, ev ChangeEvent) {
	m.phase = PhaseDeciding

	value, err := e.resolve(m, ev)
	if err != nil {
		logging.Warn("Engine", "Rejected %s: %v", ev, err)
		e.metrics.RecordRejected(m.key)
		// An idle key never runs ahead of what was confirmed.
		m.desired = m.confirmed
		m.phase = PhaseIdle
		return
	}
	if value.Equal(m.desired) && !m.unconfirmed() {
		logging.Debug("Engine", "No change for %s", ev)
		e.metrics.RecordDiscarded(m.key)
		m.phase = PhaseIdle
		return
	}

	e.start(m, ev, value)
}

// resolve turns an event into an absolute, validated value.
func (e *Engine) resolve(m *keyMachine, ev ChangeEvent) (settings.Value, error) {
	value := ev.Value
	if ev.Op == OpStep {
		v, err := m.schema.ApplyStep(m.desired, ev.Step)
		if err != nil {
			return settings.Value{}, err
		}
		value = v
	}
	if err := m.schema.Check(value); err != nil {
		return settings.Value{}, err
	}
	return value, nil
}

// start accepts value optimistically and dispatches its plan, or commits
// directly when the key has nothing to do downstream.
func (e *Engine) start(m *keyMachine, ev ChangeEvent, value settings.Value) {
	m.desired = value
	m.origin = ev
	m.lastChange = ev.Timestamp

	plan, ok := m.schema.PlanFor(value, settings.PlanContext{Origin: ev.Source, Lookup: e.lookup})
	if !ok {
		e.commit(m, value, ev.Source)
		return
	}

	m.generation++
	m.action = &PendingAction{
		ID:        uuid.NewString(),
		Key:       m.key,
		Subsystem: plan.Subsystem,
		Operation: plan.Operation,
		Args:      plan.Args,
		Value:     value,
		Origin:    ev.Source,
		Attempt:   1,
	}
	m.backoff = e.newBackoff()
	e.dispatch(m)
}

func (e *Engine) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = e.cfg.RandomizationFactor
	b.Reset()
	return b
}

func (e *Engine) lookup(k settings.Key) (settings.Value, bool) {
	m, ok := e.machines[k]
	if !ok {
		return settings.Value{}, false
	}
	return m.desired, true
}

func (e *Engine) dispatch(m *keyMachine) {
	action := *m.action
	generation := m.generation

	m.phase = PhaseDispatching
	e.inflight++
	e.metrics.RecordDispatch(m.key)
	logging.Debug("Engine", "Dispatching %s", action)

	go func() {
		err := e.dispatcher.Dispatch(e.dispatchCtx, action)
		select {
		case e.results <- dispatchResult{key: action.Key, generation: generation, action: action, err: err}:
		case <-e.stopped:
		}
	}()
}

func (e *Engine) handleResult(res dispatchResult) {
	e.inflight--

	m := e.machines[res.key]
	if m.phase != PhaseDispatching || m.action == nil || res.generation != m.generation {
		logging.Debug("Engine", "Discarding stale result of %s", res.action)
		return
	}

	if res.err == nil {
		e.metrics.RecordSuccess(m.key)
		e.commit(m, m.action.Value, m.action.Origin)
		return
	}

	m.lastErr = res.err
	attempt := m.action.Attempt

	if IsPermanent(res.err) {
		e.fail(m, &AbandonedError{Attempts: attempt, Reason: reasonPermanent, Err: res.err})
		e.next(m)
		return
	}

	if m.queued != nil && !e.draining {
		// A newer intent arrived while this attempt ran. Retrying the older
		// value would only be overwritten.
		old := *m.action
		ev := *m.queued
		m.queued = nil
		m.action = nil
		m.phase = PhaseIdle
		e.metrics.RecordSuperseded(m.key)
		logging.Info("Engine", "Dropping failed %s in favour of %s", old, ev)
		e.notifySuperseded(old, ev)
		e.decide(m, ev)
		return
	}

	if attempt >= e.cfg.MaxAttempts || e.draining {
		e.fail(m, &AbandonedError{Attempts: attempt, Reason: reasonExhausted, Err: res.err})
		e.next(m)
		return
	}

	delay := m.backoff.NextBackOff()
	m.phase = PhaseRetrying
	e.retries.Schedule(m.key, m.generation, delay)
	e.metrics.RecordRetry(m.key)
	logging.Warn("Engine", "Attempt %d of %s failed, retrying in %s: %v", attempt, m.action, delay, res.err)
	e.notifyRetrying(*m.action, delay, res.err)
}

func (e *Engine) handleRetry(fire retryFire) {
	m := e.machines[fire.key]
	if m.phase != PhaseRetrying || m.action == nil || fire.generation != m.generation {
		return
	}
	e.retries.Forget(fire.key, fire.generation)
	m.action.Attempt++
	e.dispatch(m)
}

// commit makes value durable and confirmed.
func (e *Engine) commit(m *keyMachine, value settings.Value, origin string) {
	dispatched := m.action != nil

	if m.schema.Persisted() && !fromStore(origin) && origin != settings.OriginRollback {
		if err := e.persister.Persist(m.key, value); err != nil {
			e.metrics.RecordPersistFailure(m.key)
			attempts := 0
			if m.action != nil {
				attempts = m.action.Attempt
			}
			e.fail(m, &AbandonedError{Attempts: attempts, Reason: reasonPersist, Err: err})
			if !dispatched || !e.compensate(m) {
				e.next(m)
			}
			return
		}
	}

	changed := !value.Equal(m.confirmed)
	m.confirmed = value
	m.desired = value
	m.action = nil
	m.phase = PhaseIdle
	m.lastErr = nil

	if changed && origin != settings.OriginRollback {
		logging.Info("Engine", "%s = %s (from %s)", m.key, value, origin)
		for _, o := range e.observers {
			o.SettingChanged(m.key, value, origin)
		}
	}
	e.next(m)
}

// fail abandons the current transition. The key reverts to its confirmed
// value, except for observed state keys whose value is a fact regardless
// of what the downstream reaction did.
func (e *Engine) fail(m *keyMachine, err *AbandonedError) {
	attempted := m.desired
	origin := m.origin.Source

	e.retries.Cancel(m.key)
	m.action = nil
	m.phase = PhaseIdle
	m.lastErr = err
	e.metrics.RecordAbandoned(m.key, err.Reason)

	keepObservation := m.schema.Tree == settings.TreeState && err.Reason != reasonPersist
	if !keepObservation {
		m.desired = m.confirmed
	}

	logging.Error("Engine", err, "Giving up on %s = %s", m.key, attempted)
	for _, o := range e.observers {
		o.SettingFailed(m.key, attempted, err)
	}

	if keepObservation {
		if perr := e.persister.Persist(m.key, attempted); perr != nil {
			logging.Error("Engine", perr, "Failed to record observed %s", m.key)
		}
		m.confirmed = attempted
		m.desired = attempted
		for _, o := range e.observers {
			o.SettingChanged(m.key, attempted, origin)
		}
		return
	}

	// The rejected value came from a file; put the last good value back so
	// disk and memory agree.
	if origin == settings.OriginConfigStore && m.schema.Persisted() {
		if perr := e.persister.Persist(m.key, m.confirmed); perr != nil {
			logging.Error("Engine", perr, "Failed to restore %s to %s", m.key, m.confirmed)
		}
	}
}

// compensate re-applies the confirmed value after a dispatched value could
// not be persisted. It reports whether an action was started.
func (e *Engine) compensate(m *keyMachine) bool {
	if e.draining {
		return false
	}
	ev := SetEvent(settings.OriginRollback, m.key, m.confirmed)
	plan, ok := m.schema.PlanFor(m.confirmed, settings.PlanContext{Origin: ev.Source, Lookup: e.lookup})
	if !ok {
		return false
	}
	m.origin = ev
	m.generation++
	m.action = &PendingAction{
		ID:        uuid.NewString(),
		Key:       m.key,
		Subsystem: plan.Subsystem,
		Operation: plan.Operation,
		Args:      plan.Args,
		Value:     m.confirmed,
		Origin:    ev.Source,
		Attempt:   1,
	}
	m.backoff = e.newBackoff()
	logging.Info("Engine", "Re-applying %s = %s", m.key, m.confirmed)
	e.dispatch(m)
	return true
}

// next picks up an event queued behind the action that just resolved.
func (e *Engine) next(m *keyMachine) {
	if m.phase != PhaseIdle || m.queued == nil {
		return
	}
	ev := *m.queued
	m.queued = nil
	if e.draining {
		logging.Debug("Engine", "Dropping %s during shutdown", ev)
		return
	}
	e.decide(m, ev)
}

func (e *Engine) drain() {
	e.draining = true
	e.retries.Shutdown()

	for _, m := range e.machines {
		m.queued = nil
		if m.phase == PhaseRetrying {
			m.action = nil
			m.desired = m.confirmed
			m.phase = PhaseIdle
		}
	}

	if e.inflight == 0 {
		e.dispatchCancel()
		logging.Info("Engine", "Stopped")
		return
	}

	logging.Info("Engine", "Draining %d in-flight action(s) for up to %s", e.inflight, e.cfg.DrainTimeout)
	deadline := e.cfg.Clock.NewTimer(e.cfg.DrainTimeout)
	defer deadline.Stop()

	for e.inflight > 0 {
		select {
		case res := <-e.results:
			e.handleResult(res)
		case q := <-e.queries:
			q()
		case <-deadline.C():
			logging.Warn("Engine", "Drain timeout, abandoning %d in-flight action(s)", e.inflight)
			e.dispatchCancel()
			return
		}
	}
	e.dispatchCancel()
	logging.Info("Engine", "Drained all in-flight actions")
}

// fromStore reports whether origin already is the file content.
func fromStore(origin string) bool {
	return origin == settings.OriginConfigStore || origin == settings.OriginStateStore
}

func (e *Engine) notifyRetrying(action PendingAction, delay time.Duration, err error) {
	for _, o := range e.observers {
		if lo, ok := o.(LifecycleObserver); ok {
			lo.SettingRetrying(action, delay, err)
		}
	}
}

func (e *Engine) notifySuperseded(action PendingAction, by ChangeEvent) {
	for _, o := range e.observers {
		if lo, ok := o.(LifecycleObserver); ok {
			lo.SettingSuperseded(action, by)
		}
	}
}
