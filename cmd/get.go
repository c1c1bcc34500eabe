package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "get KEY...",
		Short: "Print the current value of one or more settings",
		Long: `Prints the value the daemon is reconciling towards for each KEY.

Keys are written as namespace/version/name, for example audio/v1/volume.
With a single key only the value is printed; with several keys each line
reads KEY=VALUE.`,
		Example: `  settingsd get audio/v1/volume
  settingsd get audio/v1/volume audio/v1/mute`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, &flags, func(ctx context.Context, c controlClient) error {
				out := cmd.OutOrStdout()
				for _, key := range args {
					value, err := c.Get(ctx, key)
					if err != nil {
						return fmt.Errorf("failed to get %s: %w", key, err)
					}
					if len(args) == 1 {
						fmt.Fprintln(out, value)
						continue
					}
					fmt.Fprintf(out, "%s=%s\n", key, value)
				}
				return nil
			})
		},
	}
	registerClientFlags(cmd, &flags)
	return cmd
}

func init() {
	rootCmd.AddCommand(newGetCmd())
}
