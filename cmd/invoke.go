package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"settingsd/internal/actions"
)

func newInvokeCmd() *cobra.Command {
	var (
		flags clientFlags
		list  bool
	)
	cmd := &cobra.Command{
		Use:   "invoke ACTION",
		Short: "Run a named system action",
		Long: `Runs a system action such as volume-raise, dark-mode-toggle or
lock-screen, the same way a media key would.

Use --list to print the built-in actions. daemon.yaml can override their
commands and add new ones.`,
		Example: `  settingsd invoke volume-raise
  settingsd invoke --list`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				renderActions(cmd.OutOrStdout(), actions.Builtin())
				return nil
			}
			return withClient(cmd, &flags, func(ctx context.Context, c controlClient) error {
				if err := c.Invoke(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to invoke %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	registerClientFlags(cmd, &flags)
	cmd.Flags().BoolVar(&list, "list", false, "List the built-in actions")
	return cmd
}

func renderActions(w io.Writer, list []actions.Action) {
	t := newTable(w)
	t.AppendHeader(table.Row{header("ACTION"), header("DESCRIPTION")})
	for _, a := range list {
		t.AppendRow(table.Row{a.ID, a.Description})
	}
	t.Render()
}

func init() {
	rootCmd.AddCommand(newInvokeCmd())
}
