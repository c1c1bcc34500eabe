package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSetCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Request a new value for a setting",
		Long: `Asks the daemon to apply VALUE to KEY.

The value is validated right away; applying it happens asynchronously.
Use 'settingsd watch' to follow the outcome.`,
		Example: `  settingsd set audio/v1/volume 40
  settingsd set theme/v1/scheme dark`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, &flags, func(ctx context.Context, c controlClient) error {
				if err := c.Set(ctx, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to set %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	registerClientFlags(cmd, &flags)
	return cmd
}

func newStepCmd() *cobra.Command {
	var (
		flags clientFlags
		by    int
	)
	cmd := &cobra.Command{
		Use:   "step KEY",
		Short: "Change a setting relative to its current value",
		Long: `Moves a setting by --by. Numeric settings are clamped to their range,
switches toggle on odd amounts and the keyboard layout rotates through the
configured layouts.`,
		Example: `  settingsd step audio/v1/volume --by=-5
  settingsd step audio/v1/mute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if by == 0 {
				return fmt.Errorf("--by must not be zero")
			}
			return withClient(cmd, &flags, func(ctx context.Context, c controlClient) error {
				if err := c.Step(ctx, args[0], by); err != nil {
					return fmt.Errorf("failed to step %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	registerClientFlags(cmd, &flags)
	cmd.Flags().IntVar(&by, "by", 1, "Amount to move by, negative to decrease")
	return cmd
}

func init() {
	rootCmd.AddCommand(newSetCmd())
	rootCmd.AddCommand(newStepCmd())
}
