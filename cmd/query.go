package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/gaps"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

var scoreCmd = &cobra.Command{
	Use:   "score [id]",
	Short: "Compliance score of a control, policy or framework",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		score, err := a.svc.ScoreOf(ctx, args[0], at)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(score)
		}
		fmt.Printf("%s %s: %.1f / 100\n", score.Subject, score.ID, score.Value)
		switch {
		case score.Unmapped:
			fmt.Println("  No policy maps to this control.")
		case score.Links > 0:
			fmt.Printf("  Scoring links: %d\n", score.Links)
		}
		if score.Controls > 0 {
			fmt.Printf("  Controls: %d\n", score.Controls)
		}
		printPin(score.Version, score.AsOf)
		return nil
	}),
}

var riskCmd = &cobra.Command{
	Use:   "risk [control-id]",
	Short: "Risk indicator of a control from its open findings",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		risk, err := a.svc.RiskOf(ctx, args[0], at)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(risk)
		}
		fmt.Printf("Control %s: risk %d (%s)\n", risk.ControlID, risk.Indicator, risk.Level)
		for _, f := range risk.OpenFindings {
			fmt.Printf("  - %s [%s, -%d] %s\n", f.ID, f.Severity, f.Modifier, f.Title)
		}
		return nil
	}),
}

var rollupCmd = &cobra.Command{
	Use:   "rollup [framework]",
	Short: "Framework score and gap count (all frameworks when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		if len(args) == 1 {
			r, err := a.svc.Rollup(ctx, args[0], at)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(r)
			}
			printRollup(r)
			return nil
		}

		list, err := a.svc.Rollups(ctx, at)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No frameworks in the graph.")
			return nil
		}
		fmt.Printf("%-20s %8s %9s %9s %6s\n", "FRAMEWORK", "SCORE", "CONTROLS", "UNMAPPED", "GAPS")
		for _, r := range list {
			fmt.Printf("%-20s %8.1f %9d %9d %6d\n", r.FrameworkID, r.Score, r.ControlCount, r.Unmapped, r.GapCount)
		}
		return nil
	}),
}

func printRollup(r compliance.Rollup) {
	fmt.Printf("Framework %s: %.1f / 100 across %d active controls\n", r.FrameworkID, r.Score, r.ControlCount)
	fmt.Printf("Gaps: %d (%d unmapped, %d links with stale evidence)\n\n", r.GapCount, r.Unmapped, r.StaleLinks)
	fmt.Printf("  %-16s %-10s %7s %6s  %s\n", "CONTROL", "LIFECYCLE", "SCORE", "LINKS", "RISK")
	for _, c := range r.Controls {
		fmt.Printf("  %-16s %-10s %7.1f %6d  %d %s\n", c.ID, c.Lifecycle, c.Score, c.Links, c.Risk, c.RiskLevel)
	}
	fmt.Println()
	printPin(r.Version, r.AsOf)
}

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Policy by framework score matrix",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		policies, _ := cmd.Flags().GetStringSlice("policy")
		frameworks, _ := cmd.Flags().GetStringSlice("framework")
		m, err := a.svc.Matrix(ctx, policies, frameworks, at)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(m)
		}
		if len(m.Rows) == 0 {
			fmt.Println("No policies found.")
			return nil
		}
		fmt.Printf("%-20s %8s", "POLICY", "OVERALL")
		for _, fw := range m.Frameworks {
			fmt.Printf(" %12s", fw)
		}
		fmt.Println()
		for _, row := range m.Rows {
			fmt.Printf("%-20s %8.1f", row.PolicyID, row.Overall)
			for _, c := range row.Cells {
				if c.Controls == 0 {
					fmt.Printf(" %12s", "-")
					continue
				}
				fmt.Printf(" %12.1f", c.Score)
			}
			fmt.Println()
		}
		fmt.Println()
		printPin(m.Version, m.AsOf)
		return nil
	}),
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List compliance gaps",
	Long: `Read-only gap queries. Like every query they can be pinned to a graph
version with --version and to an evaluation time with --as-of.`,
}

var unmappedCmd = &cobra.Command{
	Use:   "unmapped [framework]",
	Short: "Controls no live policy maps to",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		fw := ""
		if len(args) == 1 {
			fw = args[0]
		}
		list, err := a.svc.UnmappedControls(ctx, fw, at)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("Every control is mapped by at least one live policy.")
			return nil
		}
		fmt.Printf("Found %d unmapped control(s):\n\n", len(list))
		for _, c := range list {
			fmt.Printf("  %-16s %-12s %s\n", c.ID, c.FrameworkID, c.Title())
		}
		return nil
	}),
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Links whose latest evidence is stale",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		list, err := a.svc.StaleEvidence(ctx, at)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No stale evidence.")
			return nil
		}
		fmt.Printf("Found %d link(s) with stale evidence:\n\n", len(list))
		for _, e := range list {
			fmt.Printf("  %s %s %s\n", e.Link.SourceID, e.Link.Type, e.Link.TargetID)
			fmt.Printf("     Evidence: %s, collected %s, expired %s\n",
				e.Attachment.EvidenceID,
				e.Attachment.CollectedAt.Format("2006-01-02"),
				e.ExpiredAt.Format("2006-01-02"))
		}
		return nil
	}),
}

var chainsCmd = &cobra.Command{
	Use:   "chains [requirement]",
	Short: "Traceability paths that never reach validation",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		var (
			chains []gaps.BrokenChain
			err    error
		)
		if len(args) == 1 {
			chains, err = a.svc.BrokenChains(ctx, args[0], at)
		} else {
			chains, err = a.svc.AllBrokenChains(ctx, at)
		}
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(chains)
		}
		if len(chains) == 0 {
			fmt.Println("Every traceability chain reaches validation.")
			return nil
		}
		fmt.Printf("Found %d broken chain(s):\n\n", len(chains))
		for _, c := range chains {
			fmt.Printf("  %s  (%s)\n", strings.Join(c.Path, " -> "), c.Reason)
		}
		return nil
	}),
}

var overdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "Links not reviewed within the maximum review age",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error {
		var maxAge time.Duration
		if s, _ := cmd.Flags().GetString("max-age"); s != "" {
			d, err := graph.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("--max-age: %w", err)
			}
			maxAge = d
		}
		list, err := a.svc.OverdueReviews(ctx, at, maxAge)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No overdue reviews.")
			return nil
		}
		fmt.Printf("Found %d link(s) overdue for review:\n\n", len(list))
		for _, o := range list {
			fmt.Printf("  %s %s %s  last reviewed %s (%d days ago)\n",
				o.Link.SourceID, o.Link.Type, o.Link.TargetID,
				o.LastReviewed.Format("2006-01-02"), int(o.Age.Hours()/24))
		}
		return nil
	}),
}

// withApp opens the graph and resolves the pin flags before running fn.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string, at compliance.At) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		at, err := pinFrom(cmd)
		if err != nil {
			return err
		}
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args, at)
	}
}

func printPin(version int64, asOf time.Time) {
	fmt.Printf("Graph version %d, evaluated at %s\n", version, asOf.Format(time.RFC3339))
}

func init() {
	for _, c := range []*cobra.Command{scoreCmd, riskCmd, rollupCmd, matrixCmd, unmappedCmd, staleCmd, chainsCmd, overdueCmd} {
		pinFlags(c)
	}
	matrixCmd.Flags().StringSlice("policy", nil, "policy ids (default all live policies)")
	matrixCmd.Flags().StringSlice("framework", nil, "framework ids (default all frameworks)")
	overdueCmd.Flags().String("max-age", "", "review age limit such as 90d (default review.max_age)")

	gapsCmd.AddCommand(unmappedCmd, staleCmd, chainsCmd, overdueCmd)
	rootCmd.AddCommand(scoreCmd, riskCmd, rollupCmd, matrixCmd, gapsCmd)
}
