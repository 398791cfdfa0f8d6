package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/tracegraph/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize tracegraph configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the graph database, evidence freshness, score cache and catalog location, and writes a .tracegraph.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
