package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"settingsd/internal/app"
)

// serveDebug enables verbose logging regardless of daemon.yaml.
var serveDebug bool

// serveSilent discards all log output.
var serveSilent bool

// serveConfigPath points at a daemon.yaml outside the XDG config directory.
var serveConfigPath string

// serveCmd defines the serve command structure.
// This is the main command of settingsd that runs the reconciliation daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the settings daemon in the foreground.",
	Long: `Runs the settings daemon until it receives SIGINT or SIGTERM.

The daemon loads every setting from the store, subscribes to the configured
sources (store files, hotplug, power, localed, day cycle) and applies each
change through the matching subsystem. When control is enabled it also
claims the dev.settingsd.Daemon1 name on the session bus so that the other
settingsd commands can talk to it.

Configuration:
  daemon.yaml is read from $XDG_CONFIG_HOME/settingsd. Use --config-path to
  load a different file. A missing file means the built-in defaults.

Under systemd the daemon reports readiness with sd_notify and pings the
watchdog when WatchdogSec is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Disable all log output")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Path to daemon.yaml")
}
