package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tracegraph",
	Short: "Compliance traceability graph",
	Long: `Tracegraph keeps a versioned graph of frameworks, controls, policies,
requirements, tests and evidence. It scores compliance from evidence
freshness, finds gaps in coverage and traceability, and answers every
query as of a pinned graph version and point in time.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
