package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"settingsd/internal/control"
)

func newWatchCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "watch [PREFIX]",
		Short: "Follow setting changes and failures",
		Long: `Prints every applied change and every abandoned change as the daemon
reports them, until interrupted. PREFIX limits the output to keys that
start with it, for example audio/.`,
		Example: `  settingsd watch
  settingsd watch display/`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			c, err := dialControl(flags.Bus)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			notifications, err := c.Watch(ctx, prefix)
			if err != nil {
				return fmt.Errorf("failed to watch: %w", err)
			}
			out := cmd.OutOrStdout()
			for n := range notifications {
				switch n.Kind {
				case control.SignalFailed:
					fmt.Fprintf(out, "%s %s: %s\n", text.FgRed.Sprint("failed "), n.Key, n.Detail)
				default:
					fmt.Fprintf(out, "%s %s = %s\n", text.FgGreen.Sprint("changed"), n.Key, n.Detail)
				}
			}
			return nil
		},
	}
	registerBusFlag(cmd, &flags)
	return cmd
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}
