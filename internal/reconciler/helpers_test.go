package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"settingsd/internal/settings"
)

var errFlaky = errors.New("service unavailable")

func testRegistry() *settings.Registry {
	return settings.MustRegistry(append(settings.Builtin(), settings.ActionSchema("screenshot"))...)
}

// fakeDispatcher records every action. When gate is set each call waits
// for a token; script decides the outcome of call n (1-based).
type fakeDispatcher struct {
	mu        sync.Mutex
	calls     []PendingAction
	active    map[settings.Key]int
	maxActive int
	gate      chan struct{}
	script    func(n int, a PendingAction) error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{active: make(map[settings.Key]int)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, a PendingAction) error {
	f.mu.Lock()
	f.calls = append(f.calls, a)
	n := len(f.calls)
	f.active[a.Key]++
	if f.active[a.Key] > f.maxActive {
		f.maxActive = f.active[a.Key]
	}
	gate, script := f.gate, f.script
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[a.Key]--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if script != nil {
		return script(n, a)
	}
	return nil
}

func (f *fakeDispatcher) Calls() []PendingAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PendingAction, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeDispatcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type persistCall struct {
	key   settings.Key
	value settings.Value
}

type fakePersister struct {
	mu     sync.Mutex
	writes []persistCall
	fail   error
}

func (p *fakePersister) Persist(k settings.Key, v settings.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.writes = append(p.writes, persistCall{k, v})
	return nil
}

func (p *fakePersister) Writes() []persistCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]persistCall, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *fakePersister) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

type recordingObserver struct {
	mu         sync.Mutex
	changed    []persistCall
	failed     []persistCall
	retried    int
	superseded int
}

func (o *recordingObserver) SettingChanged(k settings.Key, v settings.Value, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, persistCall{k, v})
}

func (o *recordingObserver) SettingFailed(k settings.Key, v settings.Value, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, persistCall{k, v})
}

func (o *recordingObserver) SettingRetrying(PendingAction, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried++
}

func (o *recordingObserver) SettingSuperseded(PendingAction, ChangeEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.superseded++
}

func (o *recordingObserver) counts() (changed, failed, retried, superseded int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.changed), len(o.failed), o.retried, o.superseded
}

type engineHarness struct {
	engine     *Engine
	dispatcher *fakeDispatcher
	persister  *fakePersister
	observer   *recordingObserver
	metrics    *Metrics
	clock      *clockz.FakeClock
	cancel     context.CancelFunc
	seq        uint64
}

func newEngineHarness(t *testing.T, cfg Config, initial map[settings.Key]settings.Value) *engineHarness {
	t.Helper()
	clock := clockz.NewFakeClock()
	cfg.Clock = clock

	h := &engineHarness{
		dispatcher: newFakeDispatcher(),
		persister:  &fakePersister{},
		observer:   &recordingObserver{},
		metrics:    NewMetrics(),
		clock:      clock,
	}
	h.engine = NewEngine(testRegistry(), initial, h.dispatcher, h.persister, cfg, h.metrics)
	h.engine.AddObserver(h.observer)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.engine.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		// Release anything still gated so the drain finishes.
		h.dispatcher.mu.Lock()
		h.dispatcher.gate = nil
		h.dispatcher.mu.Unlock()
		select {
		case <-h.engine.Done():
		case <-time.After(2 * time.Second):
			clock.Advance(time.Hour)
		}
	})
	return h
}

func (h *engineHarness) send(ev ChangeEvent) {
	h.seq++
	ev.Sequence = h.seq
	ev.Timestamp = h.clock.Now()
	h.engine.Input() <- ev
}

func (h *engineHarness) set(key settings.Key, v settings.Value) {
	h.send(SetEvent(settings.OriginControl, key, v))
}

func (h *engineHarness) get(t *testing.T, key settings.Key) settings.Value {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := h.engine.Get(ctx, key)
	require.NoError(t, err)
	return v
}

func (h *engineHarness) phase(t *testing.T, key settings.Key) Phase {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	statuses, err := h.engine.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		if s.Key == key.String() {
			return s.Phase
		}
	}
	t.Fatalf("no status for %s", key)
	return ""
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
