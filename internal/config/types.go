package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the top-level structure of daemon.yaml.
type DaemonConfig struct {
	LogLevel  string         `yaml:"logLevel,omitempty"`  // debug, info, warn or error (default: info)
	LogFormat string         `yaml:"logFormat,omitempty"` // text or json (default: text)
	Engine    EngineConfig   `yaml:"engine"`
	Sources   SourcesConfig  `yaml:"sources"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Control   ControlConfig  `yaml:"control"`

	// Actions overrides the argv of named system actions, keyed by action id.
	Actions map[string][]string `yaml:"actions,omitempty"`
}

// EngineConfig tunes debouncing, retries and shutdown.
type EngineConfig struct {
	DebounceWindow Duration `yaml:"debounceWindow"` // Quiet period per key before an event is forwarded
	MaxAttempts    int      `yaml:"maxAttempts"`    // Dispatch attempts before a change is abandoned
	InitialBackoff Duration `yaml:"initialBackoff"` // Delay before the first retry
	MaxBackoff     Duration `yaml:"maxBackoff"`     // Upper bound of the retry delay
	DrainTimeout   Duration `yaml:"drainTimeout"`   // How long shutdown waits for in-flight actions
	QueueSize      int      `yaml:"queueSize"`      // Capacity of the merged event channel
}

// SourcesConfig enables event sources and tunes their supervision.
type SourcesConfig struct {
	ConfigStore bool `yaml:"configStore"`
	Power       bool `yaml:"power"`
	DayCycle    bool `yaml:"dayCycle"`
	Hotplug     bool `yaml:"hotplug"`
	Localed     bool `yaml:"localed"`

	// DegradedAfter is the number of consecutive failed subscriptions after
	// which a source is reported degraded.
	DegradedAfter  int      `yaml:"degradedAfter"`
	ResubscribeMax Duration `yaml:"resubscribeMax"`

	// Geoclue selects the GeoClue2 locator. When false or unavailable the
	// static Location is used.
	Geoclue  bool            `yaml:"geoclue"`
	Location *StaticLocation `yaml:"location,omitempty"`

	SysfsRoot string `yaml:"sysfsRoot,omitempty"` // Root of /sys, overridable for tests
}

// StaticLocation is a fixed position used for the day/night cycle.
type StaticLocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// DispatchConfig bounds concurrency and supplies command templates.
type DispatchConfig struct {
	// Concurrency limits simultaneous actions per subsystem (default: 1).
	Concurrency    map[string]int `yaml:"concurrency,omitempty"`
	CommandTimeout Duration       `yaml:"commandTimeout"`

	// Commands maps "subsystem.operation" to an argv template. Elements are
	// rendered with the action arguments as template data.
	Commands map[string][]string `yaml:"commands,omitempty"`

	// NotifyAppName is the application name shown on desktop notifications.
	NotifyAppName string `yaml:"notifyAppName,omitempty"`

	// SoundPlayer is the argv that plays a sound file; the file path is
	// appended. An empty list disables power sounds.
	SoundPlayer []string `yaml:"soundPlayer"`
	// SoundDirs are searched for sound themes, in order.
	SoundDirs []string `yaml:"soundDirs,omitempty"`
	// BatteryNagInterval is how often the critical battery alert repeats
	// while unplugged.
	BatteryNagInterval Duration `yaml:"batteryNagInterval"`
}

// ControlConfig configures the D-Bus control service.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bus     string `yaml:"bus"` // session or system
}

// Duration is a time.Duration that reads and writes as "500ms" in YAML.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts Go duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs int
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
