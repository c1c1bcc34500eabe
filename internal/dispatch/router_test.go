package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settingsd/internal/reconciler"
)

func TestRouter_UnknownSubsystemIsPermanent(t *testing.T) {
	r := NewRouter(nil)

	err := r.Dispatch(context.Background(), action("nowhere", "op", nil))
	require.Error(t, err)
	assert.True(t, reconciler.IsPermanent(err))

	var de *reconciler.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "nowhere", de.Subsystem)
}

func TestRouter_WrapsHandlerErrors(t *testing.T) {
	r := NewRouter(nil)
	boom := errors.New("boom")
	r.Register("audio", HandlerFunc(func(context.Context, reconciler.PendingAction) error { return boom }))

	err := r.Dispatch(context.Background(), action("audio", "set-volume", nil))
	require.ErrorIs(t, err, boom)
	assert.False(t, reconciler.IsPermanent(err))
	assert.Equal(t, "audio.set-volume: boom", err.Error())

	assert.Equal(t, []string{"audio"}, r.Subsystems())
}

func TestRouter_BoundsConcurrencyPerSubsystem(t *testing.T) {
	r := NewRouter(map[string]int{"notify": 2})

	release := make(chan struct{})
	started := make(chan string, 10)
	blocking := HandlerFunc(func(ctx context.Context, a reconciler.PendingAction) error {
		started <- a.Subsystem
		<-release
		return nil
	})
	r.Register("audio", blocking)
	r.Register("notify", blocking)
	r.Register("display", HandlerFunc(func(context.Context, reconciler.PendingAction) error { return nil }))

	ctx := context.Background()
	done := make(chan error, 10)
	for _, sub := range []string{"audio", "audio", "notify", "notify"} {
		go func() { done <- r.Dispatch(ctx, action(sub, "op", nil)) }()
	}

	got := map[string]int{}
	for i := 0; i < 3; i++ {
		select {
		case s := <-started:
			got[s]++
		case <-time.After(time.Second):
			t.Fatalf("only %d handlers started", i)
		}
	}
	select {
	case s := <-started:
		t.Fatalf("unexpected extra start for %s", s)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, map[string]int{"audio": 1, "notify": 2}, got)

	// Other subsystems are not held up.
	require.NoError(t, r.Dispatch(ctx, action("display", "op", nil)))

	close(release)
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
}

func TestRouter_WaitingDispatchHonoursContext(t *testing.T) {
	r := NewRouter(nil)
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 1)
	r.Register("audio", HandlerFunc(func(context.Context, reconciler.PendingAction) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	go func() { _ = r.Dispatch(context.Background(), action("audio", "op", nil)) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Dispatch(ctx, action("audio", "op", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
