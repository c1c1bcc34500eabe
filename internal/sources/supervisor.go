package sources

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"

	"settingsd/internal/reconciler"
	"settingsd/pkg/logging"
)

// errSubscriptionLost is recorded when an adapter closes its channel
// while the daemon is still running.
var errSubscriptionLost = errors.New("subscription lost")

// SupervisorConfig tunes resubscription.
type SupervisorConfig struct {
	// DegradedAfter is the number of consecutive failed attempts after
	// which a source is reported degraded. Defaults to 3.
	DegradedAfter int

	// InitialBackoff is the first resubscribe delay. Defaults to 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the resubscribe delay. Defaults to 1m.
	MaxBackoff time.Duration

	// Clock drives the backoff timers. Defaults to the real clock.
	Clock clockz.Clock
}

func (c *SupervisorConfig) applyDefaults() {
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.Clock == nil {
		c.Clock = clockz.RealClock
	}
}

// SourceStatus is the health of one adapter.
type SourceStatus struct {
	Name       string `json:"name"`
	Subscribed bool   `json:"subscribed"`
	Degraded   bool   `json:"degraded"`
	Failures   int    `json:"failures"`
	Resyncs    int    `json:"resyncs"`
	LastError  string `json:"lastError,omitempty"`
}

// Supervisor keeps every adapter subscribed and funnels their events into
// one sink. Each adapter runs in its own goroutine, so the order of one
// adapter's events is preserved.
type Supervisor struct {
	cfg       SupervisorConfig
	sink      Sink
	adapters  []Adapter
	observers []HealthObserver

	mu     sync.RWMutex
	status map[string]*SourceStatus
}

// NewSupervisor creates a supervisor for adapters.
func NewSupervisor(sink Sink, cfg SupervisorConfig, adapters ...Adapter) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:      cfg,
		sink:     sink,
		adapters: adapters,
		status:   make(map[string]*SourceStatus),
	}
	for _, a := range adapters {
		s.status[a.Name()] = &SourceStatus{Name: a.Name()}
	}
	return s
}

// AddObserver registers o. It must be called before Run.
func (s *Supervisor) AddObserver(o HealthObserver) {
	s.observers = append(s.observers, o)
}

// Run supervises every adapter until ctx is done. Source failures are
// never returned; they only show up in Status.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.adapters {
		a := a
		g.Go(func() error {
			s.supervise(gctx, a)
			return nil
		})
	}
	logging.Info("Sources", "Supervising %d source(s)", len(s.adapters))
	return g.Wait()
}

// Status returns the health of every adapter sorted by name.
func (s *Supervisor) Status() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SourceStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) supervise(ctx context.Context, a Adapter) {
	name := a.Name()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.Reset()

	failures := 0
	for {
		err := s.session(ctx, a, func() {
			failures = 0
			b.Reset()
		})
		if ctx.Err() != nil {
			s.update(name, func(st *SourceStatus) { st.Subscribed = false })
			return
		}

		failures++
		s.recordFailure(name, failures, err)

		delay := b.NextBackOff()
		logging.Debug("Sources", "Resubscribing %s in %s", name, delay)
		timer := s.cfg.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// session runs one subscription: subscribe, resync, pump. established is
// called once the source is healthy again.
func (s *Supervisor) session(ctx context.Context, a Adapter, established func()) error {
	name := a.Name()
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := a.Subscribe(subCtx)
	if err != nil {
		return err
	}

	snapshot, err := a.Snapshot(subCtx)
	if err != nil {
		return err
	}
	for _, ev := range asResync(snapshot) {
		if err := s.submit(subCtx, name, ev); err != nil {
			return err
		}
	}

	established()
	s.recordHealthy(name)
	logging.Info("Sources", "Subscribed to %s (%d resync event(s))", name, len(snapshot))

	for ev := range ch {
		if err := s.submit(subCtx, name, ev); err != nil {
			return err
		}
	}
	return errSubscriptionLost
}

func (s *Supervisor) submit(ctx context.Context, name string, ev reconciler.ChangeEvent) error {
	if ev.Source == "" {
		ev.Source = name
	}
	return s.sink.Submit(ctx, ev)
}

func (s *Supervisor) recordHealthy(name string) {
	var recovered bool
	s.update(name, func(st *SourceStatus) {
		recovered = st.Degraded
		st.Subscribed = true
		st.Degraded = false
		st.Failures = 0
		st.Resyncs++
		st.LastError = ""
	})
	if recovered {
		logging.Info("Sources", "Source %s recovered", name)
		for _, o := range s.observers {
			o.SourceRecovered(name)
		}
	}
}

func (s *Supervisor) recordFailure(name string, failures int, err error) {
	var degradedNow bool
	s.update(name, func(st *SourceStatus) {
		st.Subscribed = false
		st.Failures = failures
		st.LastError = err.Error()
		if failures >= s.cfg.DegradedAfter && !st.Degraded {
			st.Degraded = true
			degradedNow = true
		}
	})

	if !degradedNow {
		logging.Warn("Sources", "Source %s failed (attempt %d): %v", name, failures, err)
		return
	}
	logging.Error("Sources", err, "Source %s degraded after %d failed attempts", name, failures)
	for _, o := range s.observers {
		o.SourceDegraded(name, failures, err)
	}
}

func (s *Supervisor) update(name string, fn func(*SourceStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		st = &SourceStatus{Name: name}
		s.status[name] = st
	}
	fn(st)
}
