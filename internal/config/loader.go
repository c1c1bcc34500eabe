package config

import (
	"errors"
	"fmt"
	"os"

	"settingsd/pkg/logging"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads daemon.yaml from path on top of the defaults. A missing
// file is not an error.
func LoadConfig(path string) (DaemonConfig, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No daemon.yaml found at %s, using defaults", path)
			return config, nil
		}
		return DaemonConfig{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return DaemonConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	// Command overrides replace single entries, not the whole table.
	merged := DefaultCommands()
	for k, v := range config.Dispatch.Commands {
		merged[k] = v
	}
	config.Dispatch.Commands = merged

	if errs := Validate(config); errs.HasErrors() {
		return DaemonConfig{}, fmt.Errorf("invalid config %s: %w", path, errs)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}
