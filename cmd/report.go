package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/history"
)

var reportCmd = &cobra.Command{
	Use:   "report [framework]",
	Short: "Write a framework compliance report as markdown or HTML",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		rep, err := a.svc.Report(ctx, args[0], at)
		if err != nil {
			return err
		}

		var data []byte
		switch format {
		case "md", "markdown":
			data = []byte(rep.Markdown)
		case "html":
			data, err = compliance.RenderHTML(rep)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q (want md or html)", format)
		}

		if out == "" || out == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s report for %s to %s (graph version %d)\n", format, rep.FrameworkID, out, rep.Version)
		return nil
	}),
}

var historyCmd = &cobra.Command{
	Use:   "history [entity-id]",
	Short: "Show the audit trail of an artifact or link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		records, err := a.svc.History(cmd.Context(), history.QueryFilter{EntityID: args[0], Limit: limit})
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(records)
		}
		if len(records) == 0 {
			fmt.Printf("No history for %s.\n", args[0])
			return nil
		}
		for _, r := range records {
			fmt.Printf("  v%-6d %s  %-22s %s\n", r.GraphVersion, r.Timestamp.Format("2006-01-02 15:04:05"), r.Action, r.Actor)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().String("format", "md", "output format: md or html")
	reportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	pinFlags(reportCmd)

	historyCmd.Flags().Int("limit", 50, "maximum number of records")
	historyCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(reportCmd, historyCmd)
}
