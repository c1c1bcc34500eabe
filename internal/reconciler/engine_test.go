package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settingsd/internal/settings"
)

func TestEngine_SetDispatchesPersistsAndNotifies(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)

	h.set(settings.AudioVolume, settings.IntValue(30))

	eventually(t, func() bool {
		changed, _, _, _ := h.observer.counts()
		return changed == 1
	}, "change should be confirmed")

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "audio", calls[0].Subsystem)
	assert.Equal(t, "set-volume", calls[0].Operation)
	assert.Equal(t, "30", calls[0].Args["percent"])
	assert.Equal(t, 1, calls[0].Attempt)

	writes := h.persister.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, settings.AudioVolume, writes[0].key)
	assert.Equal(t, 30, writes[0].value.Int())

	assert.Equal(t, 30, h.get(t, settings.AudioVolume).Int())
	assert.Equal(t, PhaseIdle, h.phase(t, settings.AudioVolume))
}

func TestEngine_EqualValueIsDiscarded(t *testing.T) {
	h := newEngineHarness(t, Config{}, map[settings.Key]settings.Value{
		settings.AudioVolume: settings.IntValue(42),
	})

	h.send(ChangeEvent{Source: settings.OriginConfigStore, Key: settings.AudioVolume, Op: OpSet, Value: settings.IntValue(42), Resync: true})

	eventually(t, func() bool {
		n, _ := h.metrics.Namespace("audio")
		return n.Discarded == 1
	}, "resync with the current value should be discarded")
	assert.Equal(t, 0, h.dispatcher.CallCount())
	assert.Empty(t, h.persister.Writes())
}

func TestEngine_AtMostOneInFlightAndLatestWins(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	gate := make(chan struct{})
	h.dispatcher.gate = gate

	h.set(settings.AudioVolume, settings.IntValue(30))
	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "first action dispatched")

	h.set(settings.AudioVolume, settings.IntValue(20))
	h.set(settings.AudioVolume, settings.IntValue(10))
	eventually(t, func() bool {
		n, _ := h.metrics.Namespace("audio")
		return n.Events == 3
	}, "events received")
	assert.Equal(t, 1, h.dispatcher.CallCount(), "nothing else may be dispatched while one action is in flight")

	gate <- struct{}{}
	eventually(t, func() bool { return h.dispatcher.CallCount() == 2 }, "queued event dispatched")
	gate <- struct{}{}

	eventually(t, func() bool {
		changed, _, _, _ := h.observer.counts()
		return changed == 2
	}, "both transitions confirmed")

	calls := h.dispatcher.Calls()
	assert.Equal(t, "30", calls[0].Args["percent"])
	assert.Equal(t, "10", calls[1].Args["percent"], "intermediate value 20 must be skipped")
	assert.Equal(t, 1, h.dispatcher.maxActive)
	assert.Equal(t, 10, h.get(t, settings.AudioVolume).Int())
}

func TestEngine_StepsResolveAgainstDesired(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	gate := make(chan struct{})
	h.dispatcher.gate = gate

	h.send(StepEvent(settings.OriginControl, settings.AudioVolume, -settings.VolumeStep))
	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "first step dispatched")
	h.send(StepEvent(settings.OriginControl, settings.AudioVolume, -settings.VolumeStep))
	h.send(StepEvent(settings.OriginControl, settings.AudioVolume, -settings.VolumeStep))

	eventually(t, func() bool {
		n, _ := h.metrics.Namespace("audio")
		return n.Events == 3
	}, "events received")
	gate <- struct{}{}
	eventually(t, func() bool { return h.dispatcher.CallCount() == 2 }, "merged steps dispatched")
	gate <- struct{}{}

	calls := h.dispatcher.Calls()
	assert.Equal(t, "45", calls[0].Args["percent"])
	assert.Equal(t, "35", calls[1].Args["percent"])
	eventually(t, func() bool { return h.get(t, settings.AudioVolume).Int() == 35 }, "final volume")
}

func TestEngine_TransientFailureRetriesWithBackoff(t *testing.T) {
	h := newEngineHarness(t, Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, nil)
	h.dispatcher.script = func(n int, _ PendingAction) error {
		if n <= 2 {
			return errFlaky
		}
		return nil
	}

	h.set(settings.DisplayBrightness, settings.IntValue(40))

	eventually(t, func() bool { return h.phase(t, settings.DisplayBrightness) == PhaseRetrying }, "first failure schedules a retry")
	assert.Equal(t, 40, h.get(t, settings.DisplayBrightness).Int(), "desired is updated optimistically")
	assert.Empty(t, h.persister.Writes(), "nothing is persisted before success")

	eventually(t, func() bool {
		h.clock.Advance(100 * time.Millisecond)
		changed, _, _, _ := h.observer.counts()
		return changed == 1
	}, "retries eventually succeed")

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{calls[0].Attempt, calls[1].Attempt, calls[2].Attempt})
	for _, c := range calls {
		assert.Equal(t, calls[0].ID, c.ID, "retries reuse the action")
	}
	_, failed, retried, _ := h.observer.counts()
	assert.Equal(t, 0, failed)
	assert.Equal(t, 2, retried)
}

func TestEngine_RetriesExhausted(t *testing.T) {
	h := newEngineHarness(t, Config{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}, nil)
	h.dispatcher.script = func(int, PendingAction) error { return errFlaky }

	h.set(settings.AudioVolume, settings.IntValue(80))

	eventually(t, func() bool {
		h.clock.Advance(10 * time.Millisecond)
		_, failed, _, _ := h.observer.counts()
		return failed == 1
	}, "transition abandoned")

	// No further attempts after giving up.
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 3, h.dispatcher.CallCount())
	assert.Equal(t, 50, h.get(t, settings.AudioVolume).Int(), "reverted to last known-good")
	assert.Empty(t, h.persister.Writes())
	_, failed, _, _ := h.observer.counts()
	assert.Equal(t, 1, failed)
}

func TestEngine_PermanentFailureRevertsOnce(t *testing.T) {
	h := newEngineHarness(t, Config{}, map[settings.Key]settings.Value{
		settings.DisplayBrightness: settings.IntValue(70),
	})
	h.dispatcher.script = func(int, PendingAction) error {
		return Permanent(errors.New("no backlight device"))
	}

	h.set(settings.DisplayBrightness, settings.IntValue(10))

	eventually(t, func() bool {
		_, failed, _, _ := h.observer.counts()
		return failed == 1
	}, "failure reported")

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, h.dispatcher.CallCount(), "permanent failures are not retried")
	assert.Equal(t, 70, h.get(t, settings.DisplayBrightness).Int())
	assert.Equal(t, PhaseIdle, h.phase(t, settings.DisplayBrightness))
	changed, failed, retried, _ := h.observer.counts()
	assert.Equal(t, 0, changed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, retried)

	n, _ := h.metrics.Namespace("display")
	assert.Equal(t, int64(1), n.Abandoned)
}

func TestEngine_ConfigStoreFailureRestoresFile(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	h.dispatcher.script = func(int, PendingAction) error {
		return Permanent(errors.New("invalid locale"))
	}

	h.send(SetEvent(settings.OriginConfigStore, settings.LocaleLang, settings.StringValue("de_DE.UTF-8")))

	eventually(t, func() bool { return len(h.persister.Writes()) == 1 }, "file restored")
	w := h.persister.Writes()[0]
	assert.Equal(t, settings.LocaleLang, w.key)
	assert.Equal(t, "C.UTF-8", w.value.Str())
}

func TestEngine_NewEventCancelsPendingRetry(t *testing.T) {
	h := newEngineHarness(t, Config{InitialBackoff: time.Hour, MaxBackoff: time.Hour}, nil)
	h.dispatcher.script = func(n int, _ PendingAction) error {
		if n == 1 {
			return errFlaky
		}
		return nil
	}

	h.set(settings.AudioVolume, settings.IntValue(30))
	eventually(t, func() bool { return h.phase(t, settings.AudioVolume) == PhaseRetrying }, "waiting for retry")

	h.set(settings.AudioVolume, settings.IntValue(20))

	eventually(t, func() bool {
		changed, _, _, _ := h.observer.counts()
		return changed == 1
	}, "replacement applied without waiting for the backoff")

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "20", calls[1].Args["percent"])
	assert.Equal(t, 1, calls[1].Attempt)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)

	// The cancelled retry never fires.
	h.clock.Advance(2 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.dispatcher.CallCount())

	_, _, _, superseded := h.observer.counts()
	assert.Equal(t, 1, superseded)
}

func TestEngine_QueuedEventReplacesFailedAttempt(t *testing.T) {
	h := newEngineHarness(t, Config{InitialBackoff: time.Hour, MaxBackoff: time.Hour}, nil)
	gate := make(chan struct{})
	h.dispatcher.gate = gate
	h.dispatcher.script = func(n int, _ PendingAction) error {
		if n == 1 {
			return errFlaky
		}
		return nil
	}

	h.set(settings.AudioVolume, settings.IntValue(30))
	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "first dispatch")
	h.set(settings.AudioVolume, settings.IntValue(25))
	eventually(t, func() bool {
		n, _ := h.metrics.Namespace("audio")
		return n.Events == 2
	}, "second event queued")

	gate <- struct{}{}
	eventually(t, func() bool { return h.dispatcher.CallCount() == 2 }, "queued value dispatched at once")
	gate <- struct{}{}

	eventually(t, func() bool { return h.get(t, settings.AudioVolume).Int() == 25 }, "queued value wins")
	assert.Equal(t, "25", h.dispatcher.Calls()[1].Args["percent"])
	_, _, retried, superseded := h.observer.counts()
	assert.Equal(t, 0, retried)
	assert.Equal(t, 1, superseded)
}

func TestEngine_PersistFailureRollsBack(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	h.persister.setFail(errors.New("read-only file system"))

	h.set(settings.AudioMute, settings.BoolValue(true))

	eventually(t, func() bool { return h.dispatcher.CallCount() == 2 }, "confirmed value re-applied")
	calls := h.dispatcher.Calls()
	assert.Equal(t, "1", calls[0].Args["mute"])
	assert.Equal(t, "0", calls[1].Args["mute"])
	assert.Equal(t, settings.OriginRollback, calls[1].Origin)

	eventually(t, func() bool { return h.phase(t, settings.AudioMute) == PhaseIdle }, "rollback finished")
	assert.False(t, h.get(t, settings.AudioMute).Bool())
	changed, failed, _, _ := h.observer.counts()
	assert.Equal(t, 0, changed)
	assert.Equal(t, 1, failed)

	n, _ := h.metrics.Namespace("audio")
	assert.Equal(t, int64(1), n.PersistErrs)
}

func TestEngine_CommitWithoutPlan(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)

	h.send(SetEvent(settings.OriginDayCycle, settings.LocationCoords, settings.Coordinates(52.52, 13.40)))

	eventually(t, func() bool {
		changed, _, _, _ := h.observer.counts()
		return changed == 1
	}, "coordinates recorded")
	assert.Equal(t, 0, h.dispatcher.CallCount())
	require.Len(t, h.persister.Writes(), 1)
}

func TestEngine_ObservedStateSurvivesFailedReaction(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	h.dispatcher.script = func(int, PendingAction) error {
		return Permanent(errors.New("org.freedesktop.Notifications not available"))
	}

	h.send(SetEvent(settings.OriginPower, settings.PowerOnBattery, settings.BoolValue(true)))

	eventually(t, func() bool {
		changed, failed, _, _ := h.observer.counts()
		return failed == 1 && changed == 1
	}, "failure reported and observation kept")
	assert.True(t, h.get(t, settings.PowerOnBattery).Bool())
}

func TestEngine_InvalidValueRejected(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)

	h.set(settings.AudioVolume, settings.IntValue(500))
	h.set(settings.ThemePhase, settings.EnumValue("dusk"))

	eventually(t, func() bool {
		a, _ := h.metrics.Namespace("audio")
		th, _ := h.metrics.Namespace("theme")
		return a.Rejected == 1 && th.Rejected == 1
	}, "invalid values rejected")
	assert.Equal(t, 0, h.dispatcher.CallCount())
}

func TestEngine_ActionInvocation(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)

	h.send(StepEvent(settings.OriginControl, settings.ActionKey("screenshot"), 1))

	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "action dispatched")
	call := h.dispatcher.Calls()[0]
	assert.Equal(t, "command", call.Subsystem)
	assert.Equal(t, "screenshot", call.Operation)

	eventually(t, func() bool { return h.get(t, settings.ActionKey("screenshot")).Int() == 1 }, "counter confirmed")
	assert.Empty(t, h.persister.Writes(), "action counters are not persisted")
}

func TestEngine_ShutdownDrainsInFlight(t *testing.T) {
	h := newEngineHarness(t, Config{DrainTimeout: time.Hour}, nil)
	gate := make(chan struct{})
	h.dispatcher.gate = gate

	h.set(settings.AudioVolume, settings.IntValue(5))
	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "in flight")

	h.cancel()
	select {
	case <-h.engine.Done():
		t.Fatal("engine must wait for in-flight actions")
	case <-time.After(20 * time.Millisecond):
	}

	gate <- struct{}{}
	select {
	case <-h.engine.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after drain")
	}
	require.Len(t, h.persister.Writes(), 1, "drained result is committed")

	_, err := h.engine.Get(context.Background(), settings.AudioVolume)
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestEngine_ShutdownDeadlineCancelsDispatch(t *testing.T) {
	h := newEngineHarness(t, Config{DrainTimeout: time.Second}, nil)
	h.dispatcher.gate = make(chan struct{}) // never released

	h.set(settings.AudioVolume, settings.IntValue(5))
	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "in flight")

	h.cancel()
	eventually(t, func() bool {
		h.clock.Advance(time.Second)
		select {
		case <-h.engine.Done():
			return true
		default:
			return false
		}
	}, "drain deadline reached")
	assert.Empty(t, h.persister.Writes())
}

func TestEngine_UnknownKeyIgnored(t *testing.T) {
	h := newEngineHarness(t, Config{}, nil)
	h.set(settings.NewKey("bogus", "key"), settings.IntValue(1))
	h.set(settings.AudioMute, settings.BoolValue(true))

	eventually(t, func() bool { return h.dispatcher.CallCount() == 1 }, "later events still processed")
}
