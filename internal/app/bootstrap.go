package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"settingsd/internal/config"
	"settingsd/pkg/logging"
)

// Application bootstraps and runs the daemon.
//
// Initialization happens in two phases:
//  1. NewApplication: configure logging, load daemon.yaml, load the store
//     and wire every component
//  2. Run: start the goroutines and block until shutdown
//
// Example:
//
//	application, err := app.NewApplication(app.NewConfig(debug, false, ""))
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication performs the bootstrap sequence. Errors are
// process-fatal: an invalid daemon.yaml, store roots that cannot be
// created, or a required bus that is unreachable.
func NewApplication(cfg *Config) (*Application, error) {
	var logOutput io.Writer = os.Stderr
	if cfg.LogOutput != nil {
		logOutput = cfg.LogOutput
	}
	if cfg.Silent {
		logOutput = io.Discard
	}
	// Logging is configured twice: once so config loading can log, and
	// again with the level and format from daemon.yaml.
	logging.InitForCLI(initialLevel(cfg.Debug), logOutput)

	paths, err := resolvePaths(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to resolve directories")
		return nil, err
	}

	configFile := paths.ConfigFile
	if cfg.ConfigPath != "" {
		configFile = cfg.ConfigPath
	}
	daemonCfg, err := config.LoadConfig(configFile)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load daemon configuration from %s", configFile)
		return nil, fmt.Errorf("failed to load daemon configuration: %w", err)
	}
	cfg.Daemon = &daemonCfg

	level, err := logging.ParseLevel(daemonCfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(daemonCfg.LogFormat), logOutput)

	services, err := InitializeServices(cfg, paths)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Services exposes the wired components.
func (a *Application) Services() *Services { return a.services }

// Run executes the daemon until ctx is cancelled or a termination signal
// arrives.
func (a *Application) Run(ctx context.Context) error {
	defer a.services.Close()
	return runDaemon(ctx, a.services)
}

func initialLevel(debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

func resolvePaths(cfg *Config) (config.Paths, error) {
	if cfg.Paths != nil {
		return *cfg.Paths, nil
	}
	return config.ResolvePaths()
}
