package config

import "time"

const (
	DefaultDebounceWindow = 50 * time.Millisecond
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
	DefaultQueueSize      = 256
	DefaultDegradedAfter  = 3
	DefaultResubscribeMax = time.Minute
	DefaultCommandTimeout = 10 * time.Second
	DefaultNotifyAppName  = "settingsd"
	DefaultBatteryNag     = 3 * time.Second
)

// DefaultSoundPlayer plays sounds through PipeWire with the notification
// media role.
func DefaultSoundPlayer() []string {
	return []string{"pw-play", "--media-role", "Notification"}
}

// DefaultCommands are the argv templates for command-backed operations.
func DefaultCommands() map[string][]string {
	return map[string][]string{
		"audio.set-volume":   {"wpctl", "set-volume", "@DEFAULT_AUDIO_SINK@", "{{ .percent }}%"},
		"audio.set-mute":     {"wpctl", "set-mute", "@DEFAULT_AUDIO_SINK@", "{{ .mute }}"},
		"audio.set-mic-mute": {"wpctl", "set-mute", "@DEFAULT_AUDIO_SOURCE@", "{{ .mute }}"},
		"audio.set-mono": {"sh", "-c",
			`{{ if eq .mono "1" }}pactl load-module module-remap-sink sink_name=mono channels=2 channel_map=mono,mono{{ else }}pactl unload-module module-remap-sink || true{{ end }}`},
		"theme.apply": {"gsettings", "set", "org.gnome.desktop.interface", "color-scheme", "{{ .scheme }}"},
	}
}

// GetDefaultConfig returns the configuration used when daemon.yaml is
// absent. Fields missing from the file keep these values.
func GetDefaultConfig() DaemonConfig {
	return DaemonConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Engine: EngineConfig{
			DebounceWindow: Duration(DefaultDebounceWindow),
			MaxAttempts:    DefaultMaxAttempts,
			InitialBackoff: Duration(DefaultInitialBackoff),
			MaxBackoff:     Duration(DefaultMaxBackoff),
			DrainTimeout:   Duration(DefaultDrainTimeout),
			QueueSize:      DefaultQueueSize,
		},
		Sources: SourcesConfig{
			ConfigStore:    true,
			Power:          true,
			DayCycle:       true,
			Hotplug:        true,
			Localed:        true,
			DegradedAfter:  DefaultDegradedAfter,
			ResubscribeMax: Duration(DefaultResubscribeMax),
			Geoclue:        true,
			SysfsRoot:      "/sys",
		},
		Dispatch: DispatchConfig{
			CommandTimeout: Duration(DefaultCommandTimeout),
			Commands:       DefaultCommands(),
			NotifyAppName:  DefaultNotifyAppName,

			SoundPlayer:        DefaultSoundPlayer(),
			SoundDirs:          []string{"/usr/share/sounds"},
			BatteryNagInterval: Duration(DefaultBatteryNag),
		},
		Control: ControlConfig{
			Enabled: true,
			Bus:     "session",
		},
	}
}
