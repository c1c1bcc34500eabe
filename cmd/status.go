package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"settingsd/internal/control"
	"settingsd/internal/events"
	"settingsd/internal/reconciler"
	pkgstrings "settingsd/pkg/strings"
)

func newStatusCmd() *cobra.Command {
	var (
		flags  clientFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every setting and source",
		Long: `Prints what the daemon is doing: the phase of every setting, the
health of every source and the most recent events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format %q (use table or json)", output)
			}
			return withClient(cmd, &flags, func(ctx context.Context, c controlClient) error {
				report, err := c.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get status: %w", err)
				}
				if output == "json" {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				renderStatus(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	registerClientFlags(cmd, &flags)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// newTable creates a new table with standard styling
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(s string) string {
	return text.FgHiCyan.Sprint(s)
}

func renderStatus(w io.Writer, report control.StatusReport) {
	if len(report.Keys) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No settings registered"))
	} else {
		t := newTable(w)
		t.AppendHeader(table.Row{header("KEY"), header("PHASE"), header("DESIRED"), header("CONFIRMED"), header("ATTEMPT"), header("ERROR")})
		for _, k := range report.Keys {
			attempt := ""
			if k.Attempt > 0 {
				attempt = strconv.Itoa(k.Attempt)
			}
			t.AppendRow(table.Row{k.Key, phaseColor(k.Phase).Sprint(string(k.Phase)), k.Desired, k.Confirmed, attempt, pkgstrings.OneLine(k.LastError, 60)})
		}
		t.Render()
	}

	if len(report.Sources) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{header("SOURCE"), header("STATE"), header("FAILURES"), header("RESYNCS"), header("LAST ERROR")})
		for _, s := range report.Sources {
			t.AppendRow(table.Row{s.Name, sourceState(s.Subscribed, s.Degraded), s.Failures, s.Resyncs, pkgstrings.OneLine(s.LastError, 60)})
		}
		t.Render()
	}

	if len(report.Events) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{header("TIME"), header("REASON"), header("SUBJECT"), header("MESSAGE")})
		for _, e := range report.Events {
			reason := string(e.Reason)
			if e.Type == events.EventTypeWarning {
				reason = text.FgYellow.Sprint(reason)
			}
			t.AppendRow(table.Row{e.Time.Format("15:04:05"), reason, e.Subject, pkgstrings.OneLine(e.Message, 80)})
		}
		t.Render()
	}

	if m := report.Metrics; m != nil {
		fmt.Fprintf(w, "%s %d events, %d dispatched, %d succeeded, %d abandoned\n",
			text.FgHiBlue.Sprint("Totals:"), m.TotalEvents, m.TotalDispatched, m.TotalSucceeded, m.TotalAbandoned)
	}
}

func phaseColor(p reconciler.Phase) text.Colors {
	switch p {
	case reconciler.PhaseIdle:
		return text.Colors{text.FgGreen}
	case reconciler.PhaseRetrying:
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgHiBlue}
	}
}

func sourceState(subscribed, degraded bool) string {
	switch {
	case degraded:
		return text.FgRed.Sprint("degraded")
	case subscribed:
		return text.FgGreen.Sprint("subscribed")
	default:
		return text.FgYellow.Sprint("connecting")
	}
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}
