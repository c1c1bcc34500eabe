package sources

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"settingsd/internal/reconciler"
)

// fakeAdapter fails the first `failures` subscriptions and lets the test
// emit events into, or close, the current one.
type fakeAdapter struct {
	name     string
	failures int
	snapshot []reconciler.ChangeEvent

	mu         sync.Mutex
	subscribes int
	current    chan reconciler.ChangeEvent
	closeOnce  *sync.Once
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Subscribe(ctx context.Context) (<-chan reconciler.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribes <= f.failures {
		return nil, errors.New("bus unavailable")
	}
	ch := make(chan reconciler.ChangeEvent, 8)
	once := &sync.Once{}
	f.current, f.closeOnce = ch, once
	go func() {
		<-ctx.Done()
		once.Do(func() { close(ch) })
	}()
	return ch, nil
}

func (f *fakeAdapter) Snapshot(context.Context) ([]reconciler.ChangeEvent, error) {
	out := make([]reconciler.ChangeEvent, len(f.snapshot))
	copy(out, f.snapshot)
	return out, nil
}

func (f *fakeAdapter) emit(ev reconciler.ChangeEvent) {
	f.mu.Lock()
	ch := f.current
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeAdapter) lose() {
	f.mu.Lock()
	ch, once := f.current, f.closeOnce
	f.mu.Unlock()
	once.Do(func() { close(ch) })
}

func (f *fakeAdapter) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

type healthRecorder struct {
	mu        sync.Mutex
	degraded  []string
	recovered []string
}

func (h *healthRecorder) SourceDegraded(name string, _ int, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = append(h.degraded, name)
}

func (h *healthRecorder) SourceRecovered(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recovered = append(h.recovered, name)
}

func (h *healthRecorder) counts() (degraded, recovered int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.degraded), len(h.recovered)
}

func receive(t *testing.T, ch <-chan reconciler.ChangeEvent) reconciler.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return reconciler.ChangeEvent{}
	}
}

func assertQuiet(t *testing.T, ch <-chan reconciler.ChangeEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev)
	case <-time.After(30 * time.Millisecond):
	}
}
