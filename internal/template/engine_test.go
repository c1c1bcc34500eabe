package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Render(t *testing.T) {
	e := New()

	tests := []struct {
		name     string
		template string
		data     map[string]string
		want     string
		wantErr  bool
	}{
		{"plain", "@DEFAULT_AUDIO_SINK@", nil, "@DEFAULT_AUDIO_SINK@", false},
		{"variable", "{{ .percent }}%", map[string]string{"percent": "40"}, "40%", false},
		{"sprig quote", "{{ .scheme | squote }}", map[string]string{"scheme": "prefer-dark"}, "'prefer-dark'", false},
		{"sprig list", `{{ .layout | splitList "," | first }}`, map[string]string{"layout": "de,us"}, "de", false},
		{"sprig default", `{{ .variant | default "basic" }}`, map[string]string{"variant": ""}, "basic", false},
		{"missing", "{{ .percent }}", map[string]string{}, "", true},
		{"broken", "{{ .percent ", map[string]string{"percent": "1"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.template, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_RenderArgv(t *testing.T) {
	e := New()
	argv, err := e.RenderArgv(
		[]string{"wpctl", "set-volume", "@DEFAULT_AUDIO_SINK@", "{{ .percent }}%"},
		map[string]string{"percent": "35"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"wpctl", "set-volume", "@DEFAULT_AUDIO_SINK@", "35%"}, argv)

	_, err = e.RenderArgv([]string{"echo", "{{ .missing }}"}, nil)
	assert.ErrorContains(t, err, "argument 1")
}

func TestEngine_Validate(t *testing.T) {
	e := New()
	assert.NoError(t, e.Validate([]string{"gsettings", "set", "org.gnome.desktop.interface", "color-scheme", "{{ .scheme }}"}))
	assert.Error(t, e.Validate(nil))
	assert.Error(t, e.Validate([]string{"echo", "{{ if }}"}))
}

func TestMergeContexts(t *testing.T) {
	merged := MergeContexts(
		map[string]string{"a": "1", "b": "2"},
		map[string]string{"b": "3"},
	)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, merged)
}
