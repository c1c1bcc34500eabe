package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/capitan"

	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
)

func TestMessageTemplateEngine_Render(t *testing.T) {
	e := NewMessageTemplateEngine()

	tests := []struct {
		name   string
		reason EventReason
		data   EventData
		want   string
	}{
		{
			name:   "changed with origin",
			reason: ReasonSettingChanged,
			data:   EventData{Key: "audio/v1/volume", Value: "40", Origin: "control"},
			want:   "audio/v1/volume set to 40 by control",
		},
		{
			name:   "changed without origin",
			reason: ReasonSettingChanged,
			data:   EventData{Key: "audio/v1/volume", Value: "40"},
			want:   "audio/v1/volume set to 40",
		},
		{
			name:   "retrying",
			reason: ReasonSettingRetrying,
			data:   EventData{Key: "display/v1/brightness", Attempt: 2, Delay: 500 * time.Millisecond, Error: "no reply"},
			want:   "display/v1/brightness attempt 2 failed, retrying in 500ms: no reply",
		},
		{
			name:   "degraded",
			reason: ReasonSourceDegraded,
			data:   EventData{Source: "power", Failures: 3},
			want:   "Source power degraded after 3 failures",
		},
		{
			name:   "unknown reason",
			reason: EventReason("Other"),
			data:   EventData{Key: "audio/v1/mute"},
			want:   "Event: Other for audio/v1/mute",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Render(tt.reason, tt.data))
		})
	}
}

func TestMessageTemplateEngine_SetTemplate(t *testing.T) {
	e := NewMessageTemplateEngine()
	e.SetTemplate(ReasonSourceRecovered, "{{.Source}} is back")

	got, ok := e.GetTemplate(ReasonSourceRecovered)
	require.True(t, ok)
	assert.Equal(t, "{{.Source}} is back", got)
	assert.Equal(t, "localed is back", e.Render(ReasonSourceRecovered, EventData{Source: "localed"}))
}

func TestRecorder_QueryNewestFirst(t *testing.T) {
	r := NewRecorder(3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	r.SettingChanged(settings.AudioVolume, settings.IntValue(40), settings.OriginControl)
	r.SettingFailed(settings.DisplayBrightness, settings.IntValue(70), errors.New("no backlight"))
	r.SourceDegraded("power", 3, errors.New("service unknown"))
	r.SourceRecovered("power")

	all := r.Query(QueryOptions{})
	require.Len(t, all, 3, "history is bounded")
	assert.Equal(t, ReasonSourceRecovered, all[0].Reason)
	assert.Equal(t, ReasonSettingFailed, all[2].Reason)
	assert.Equal(t, "display/v1/brightness could not be set to 70: no backlight", all[2].Message)

	warnings := r.Query(QueryOptions{Type: EventTypeWarning})
	require.Len(t, warnings, 2)

	power := r.Query(QueryOptions{Subject: "power", Limit: 1})
	require.Len(t, power, 1)
	assert.Equal(t, ReasonSourceRecovered, power[0].Reason)

	recent := r.Query(QueryOptions{Since: base.Add(4 * time.Second)})
	require.Len(t, recent, 1)
}

func TestRecorder_EmitsSignals(t *testing.T) {
	r := NewRecorder(0)

	got := make(chan string, 1)
	capitan.Hook(SettingFailed, func(_ context.Context, e *capitan.Event) {
		key, _ := KeyKey.From(e)
		msg, _ := KeyError.From(e)
		got <- key + ": " + msg
	})

	r.SettingFailed(settings.AudioVolume, settings.IntValue(40), reconciler.Permanentf("wpctl missing"))

	select {
	case s := <-got:
		assert.Equal(t, "audio/v1/volume: wpctl missing", s)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}
}
