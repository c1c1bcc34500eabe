package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"settingsd/internal/settings"
)

func stamped(ev ChangeEvent, seq uint64) ChangeEvent {
	ev.Sequence = seq
	return ev
}

func TestDebouncer_LatestSetWins(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, nil, testRegistry(), nil)
	t0 := time.Unix(1000, 0)

	assert.Empty(t, d.Offer(stamped(SetEvent("control", settings.AudioVolume, settings.IntValue(10)), 1), t0))
	assert.Empty(t, d.Offer(stamped(SetEvent("control", settings.AudioVolume, settings.IntValue(20)), 2), t0.Add(10*time.Millisecond)))
	assert.Equal(t, 1, d.Len())

	due := d.Due(t0.Add(60 * time.Millisecond))
	require.Len(t, due, 1)
	assert.Equal(t, 20, due[0].Value.Int())
	assert.Equal(t, uint64(2), due[0].Sequence)
	assert.Zero(t, d.Len())
}

func TestDebouncer_WindowSlides(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, nil, testRegistry(), nil)
	t0 := time.Unix(1000, 0)

	d.Offer(stamped(StepEvent("control", settings.AudioVolume, -5), 1), t0)
	d.Offer(stamped(StepEvent("control", settings.AudioVolume, -5), 2), t0.Add(40*time.Millisecond))

	assert.Empty(t, d.Due(t0.Add(50*time.Millisecond)), "second event restarts the window")

	next, ok := d.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(90*time.Millisecond), next)

	due := d.Due(next)
	require.Len(t, due, 1)
	assert.Equal(t, OpStep, due[0].Op)
	assert.Equal(t, -10, due[0].Step)
}

func TestDebouncer_StepFoldsIntoSet(t *testing.T) {
	d := NewDebouncer(time.Second, nil, testRegistry(), nil)
	t0 := time.Unix(1000, 0)

	d.Offer(stamped(SetEvent("control", settings.AudioVolume, settings.IntValue(40)), 1), t0)
	d.Offer(stamped(StepEvent("control", settings.AudioVolume, 5), 2), t0)

	out := d.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, OpSet, out[0].Op)
	assert.Equal(t, 45, out[0].Value.Int())
}

func TestDebouncer_ResyncBypassesWindow(t *testing.T) {
	d := NewDebouncer(time.Second, nil, testRegistry(), nil)
	t0 := time.Unix(1000, 0)

	d.Offer(stamped(SetEvent("configstore", settings.AudioVolume, settings.IntValue(10)), 1), t0)

	resync := SetEvent("configstore", settings.AudioVolume, settings.IntValue(30))
	resync.Resync = true
	out := d.Offer(stamped(resync, 2), t0)

	require.Len(t, out, 1)
	assert.Equal(t, 30, out[0].Value.Int())
	assert.Zero(t, d.Len(), "buffered event for the key is dropped")
}

func TestDebouncer_ZeroWindowForwards(t *testing.T) {
	d := NewDebouncer(0, nil, testRegistry(), nil)
	out := d.Offer(SetEvent("control", settings.AudioMute, settings.BoolValue(true)), time.Now())
	require.Len(t, out, 1)
	assert.Zero(t, d.Len())
}

func TestDebouncer_KeysAreIndependentAndOrdered(t *testing.T) {
	metrics := NewMetrics()
	d := NewDebouncer(50*time.Millisecond, nil, testRegistry(), metrics)
	t0 := time.Unix(1000, 0)

	d.Offer(stamped(SetEvent("control", settings.AudioMute, settings.BoolValue(true)), 1), t0)
	d.Offer(stamped(SetEvent("control", settings.DisplayBrightness, settings.IntValue(30)), 2), t0)
	d.Offer(stamped(SetEvent("control", settings.AudioVolume, settings.IntValue(30)), 3), t0)
	d.Offer(stamped(SetEvent("control", settings.AudioMute, settings.BoolValue(false)), 4), t0)

	due := d.Due(t0.Add(time.Minute))
	require.Len(t, due, 3)
	assert.Equal(t, settings.DisplayBrightness, due[0].Key)
	assert.Equal(t, settings.AudioVolume, due[1].Key)
	assert.Equal(t, settings.AudioMute, due[2].Key)
	assert.False(t, due[2].Value.Bool())

	n, ok := metrics.Namespace("audio")
	require.True(t, ok)
	assert.Equal(t, int64(1), n.Coalesced)
}

func TestDebouncer_Run(t *testing.T) {
	clock := clockz.NewFakeClock()
	d := NewDebouncer(50*time.Millisecond, clock, testRegistry(), nil)

	in := make(chan ChangeEvent)
	out := make(chan ChangeEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, in, out) }()

	in <- stamped(StepEvent("control", settings.AudioVolume, -5), 1)
	in <- stamped(StepEvent("control", settings.AudioVolume, -5), 2)

	select {
	case ev := <-out:
		t.Fatalf("event forwarded before the window closed: %s", ev)
	case <-time.After(20 * time.Millisecond):
	}

	var got ChangeEvent
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		select {
		case got = <-out:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, -10, got.Step)

	// Closing the input flushes whatever is buffered.
	in <- stamped(SetEvent("control", settings.AudioMute, settings.BoolValue(true)), 3)
	close(in)
	require.NoError(t, <-done)
	require.Len(t, out, 1)
	assert.True(t, (<-out).Value.Bool())
}

// Two rapid volume-down presses against a 50% volume produce a single
// set-volume 40 action.
func TestPipeline_VolumeBurst(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	d := NewDebouncer(50*time.Millisecond, h.clock, testRegistry(), h.metrics)
	ingress := NewIngress(8, h.clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx, ingress.Events(), h.engine.Input()) }()

	require.NoError(t, ingress.Submit(ctx, StepEvent(settings.OriginControl, settings.AudioVolume, -settings.VolumeStep)))
	require.NoError(t, ingress.Submit(ctx, StepEvent(settings.OriginControl, settings.AudioVolume, -settings.VolumeStep)))

	eventually(t, func() bool {
		h.clock.Advance(10 * time.Millisecond)
		return h.dispatcher.CallCount() == 1
	}, "one action after the window")

	call := h.dispatcher.Calls()[0]
	assert.Equal(t, "set-volume", call.Operation)
	assert.Equal(t, "40", call.Args["percent"])
	eventually(t, func() bool { return h.get(t, settings.AudioVolume).Int() == 40 }, "volume confirmed")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.dispatcher.CallCount())
}
