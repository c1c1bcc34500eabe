package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"settingsd/internal/control"
)

// controlClient is the part of control.Client the commands use.
type controlClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Step(ctx context.Context, key string, delta int) error
	Invoke(ctx context.Context, action string) error
	Status(ctx context.Context) (control.StatusReport, error)
	Watch(ctx context.Context, prefix string) (<-chan control.Notification, error)
	Close() error
}

// dialControl connects to the daemon. Tests replace it.
var dialControl = func(bus string) (controlClient, error) {
	c, err := control.Dial(bus)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// clientFlags holds the flags shared by every command that talks to a
// running daemon.
type clientFlags struct {
	// Bus is the bus the daemon listens on (session or system).
	Bus string
	// Timeout bounds each request.
	Timeout time.Duration
}

// registerClientFlags registers the connection flags on cmd.
func registerClientFlags(cmd *cobra.Command, flags *clientFlags) {
	registerBusFlag(cmd, flags)
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 5*time.Second, "Request timeout")
}

// registerBusFlag registers only --bus, for commands without a request
// timeout.
func registerBusFlag(cmd *cobra.Command, flags *clientFlags) {
	cmd.Flags().StringVar(&flags.Bus, "bus", "session", "Bus the daemon listens on (session or system)")
}

// withClient dials the daemon, runs fn under the request timeout and
// closes the connection.
func withClient(cmd *cobra.Command, flags *clientFlags, fn func(ctx context.Context, c controlClient) error) error {
	c, err := dialControl(flags.Bus)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.Timeout)
		defer cancel()
	}
	return fn(ctx, c)
}
