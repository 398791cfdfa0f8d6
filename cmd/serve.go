package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/tracegraph/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing read-only score, rollup, matrix and gap tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "tracegraph MCP server started on stdio (db=%s)\n", a.cfg.DatabasePath)

		srv := mcpserver.NewServer(a.svc)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
