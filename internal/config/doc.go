// Package config loads the daemon's own configuration.
//
// The daemon reads a single file, daemon.yaml, from
// $XDG_CONFIG_HOME/settingsd. A missing file yields GetDefaultConfig;
// fields absent from the file keep their default values. The same
// directory is the root of the config tree that holds setting values,
// one file per key:
//
//	~/.config/settingsd/daemon.yaml
//	~/.config/settingsd/audio/v1/volume
//	~/.local/state/settingsd/power/v1/on_battery
//
// Durations are written as Go duration strings:
//
//	engine:
//	  debounceWindow: 50ms
//	  maxAttempts: 5
//	  initialBackoff: 250ms
//	  maxBackoff: 30s
//	sources:
//	  location:
//	    latitude: 52.52
//	    longitude: 13.40
//	actions:
//	  terminal: ["foot"]
//
// ConfigurationError is shared with the store, which reports unreadable
// setting files through it while falling back to defaults.
package config
