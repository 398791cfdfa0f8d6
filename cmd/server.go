package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/tracegraph/internal/server"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API server",
	Long:  `Starts the tracegraph REST API with health and Prometheus metrics endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = serverPort
		}

		srv := server.New(server.Config{
			Port:     port,
			AllowAll: a.cfg.Server.AllowAllOrigins,
		}, a.svc, a.registry, a.logger)

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("shutdown", zap.Error(err))
			}
		}()

		version, err := a.svc.Store().CurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("reading graph version: %w", err)
		}

		fmt.Fprintf(os.Stderr, "tracegraph server %s starting on port %d\n", Version, port)
		fmt.Fprintf(os.Stderr, "  Database: %s\n", a.cfg.DatabasePath)
		fmt.Fprintf(os.Stderr, "  Graph version: %d\n", version)
		fmt.Fprintf(os.Stderr, "  Score cache: %s\n", a.cfg.Cache.Backend)

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
