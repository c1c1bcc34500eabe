package app

import (
	"io"

	"settingsd/internal/config"
)

// Config holds the runtime options of the daemon process.
type Config struct {
	// Debug forces debug logging regardless of daemon.yaml.
	Debug bool

	// Silent discards all log output.
	Silent bool

	// ConfigPath overrides the location of daemon.yaml.
	ConfigPath string

	// Paths overrides the XDG-derived store roots. Used by tests.
	Paths *config.Paths

	// ConnectBus opens a bus connection by name ("system" or "session").
	// Defaults to connecting to the real buses.
	ConnectBus func(name string) (Bus, error)

	// LogOutput receives log output. Defaults to stderr.
	LogOutput io.Writer

	// Daemon is the loaded daemon configuration, set during bootstrap.
	Daemon *config.DaemonConfig
}

// NewConfig creates a new application configuration.
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
