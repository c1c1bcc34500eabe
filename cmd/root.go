package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"settingsd/internal/actions"
	"settingsd/internal/control"
	"settingsd/internal/dbusutil"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeUnknownKey indicates the key or action is not known to the daemon.
	ExitCodeUnknownKey = 2
	// ExitCodeInvalidValue indicates the daemon rejected the value.
	ExitCodeInvalidValue = 3
	// ExitCodeUnavailable indicates the daemon is not running or shutting down.
	ExitCodeUnavailable = 4
)

// rootCmd represents the base command for the settingsd application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "settingsd",
	Short: "Keep desktop settings in sync with the system",
	Long: `settingsd reconciles desktop settings such as volume, brightness,
keyboard layout, locale and theme with the services that apply them.

Settings live as small files under the user's data directory. Edit them,
change them through 'settingsd set', or let hardware and system events
drive them; the daemon applies every change exactly once, in order.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "settingsd version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case errors.Is(err, control.ErrUnknownKey), errors.Is(err, actions.ErrUnknownAction):
		return ExitCodeUnknownKey
	case errors.Is(err, control.ErrInvalidValue):
		return ExitCodeInvalidValue
	case errors.Is(err, control.ErrUnavailable), errors.Is(err, control.ErrNameTaken):
		return ExitCodeUnavailable
	}

	// The daemon is not on the bus at all.
	if name, ok := dbusutil.ErrorName(err); ok && isNotRunning(name) {
		return ExitCodeUnavailable
	}
	var remote *control.RemoteError
	if errors.As(err, &remote) && isNotRunning(remote.Name) {
		return ExitCodeUnavailable
	}

	return ExitCodeError
}

func isNotRunning(name string) bool {
	return name == "org.freedesktop.DBus.Error.ServiceUnknown" || name == "org.freedesktop.DBus.Error.NameHasNoOwner"
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
