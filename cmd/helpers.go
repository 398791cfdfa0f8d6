package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/tracegraph/internal/compliance"
	"github.com/ziadkadry99/tracegraph/internal/config"
	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/history"
	"github.com/ziadkadry99/tracegraph/internal/logging"
	"github.com/ziadkadry99/tracegraph/internal/metrics"
	"github.com/ziadkadry99/tracegraph/internal/store"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `tracegraph init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(level, string(cfg.Log.Format))
}

// app is everything a command needs to talk to the graph.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *db.DB
	svc      *compliance.Service
	registry *prometheus.Registry
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// openApp loads the config and wires the database, store, coverage engine,
// score cache, metrics and service. Callers must Close the result.
func openApp(withRuntimeMetrics bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	window, err := cfg.FreshnessWindow()
	if err != nil {
		return nil, err
	}
	maxAge, err := cfg.ReviewMaxAge()
	if err != nil {
		return nil, err
	}
	eval, err := coverage.NewEvaluator(cfg.Evidence.PassExpression)
	if err != nil {
		return nil, fmt.Errorf("compiling pass expression: %w", err)
	}

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	a.db = database
	a.closers = append(a.closers, database.Close)

	if withRuntimeMetrics {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	rec := metrics.New(a.registry)

	engineOpts := []coverage.EngineOption{
		coverage.WithMetrics(rec),
		coverage.WithEngineLogger(logger),
	}
	cache, err := a.buildCache()
	if err != nil {
		a.Close()
		return nil, err
	}
	if cache != nil {
		engineOpts = append(engineOpts, coverage.WithCache(cache))
	}

	st := store.New(database, store.WithLogger(logger), store.WithFreshnessWindow(window))
	engine := coverage.NewEngine(st, eval, engineOpts...)
	a.svc = compliance.New(st, engine, history.NewStore(database),
		compliance.WithLogger(logger),
		compliance.WithMetrics(rec),
		compliance.WithReviewMaxAge(maxAge),
	)
	return a, nil
}

// buildCache returns the configured score cache, or nil when caching is off.
// An unreachable redis falls back to the in-process cache.
func (a *app) buildCache() (coverage.Cache, error) {
	ttl, err := a.cfg.CacheTTL()
	if err != nil {
		return nil, err
	}
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheRedis:
		rc := coverage.NewRedisCache(a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB, ttl)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			a.logger.Warn("redis unavailable, using in-memory score cache",
				zap.String("addr", a.cfg.Cache.RedisAddr), zap.Error(err))
			rc.Close()
			return coverage.NewMemoryCache(ttl), nil
		}
		a.closers = append(a.closers, rc.Close)
		return rc, nil
	default:
		return coverage.NewMemoryCache(ttl), nil
	}
}

// pinFlags adds --version and --as-of to a query command.
func pinFlags(c *cobra.Command) {
	c.Flags().Int64("version", 0, "evaluate against this graph version (0 = latest at --as-of)")
	c.Flags().String("as-of", "", "evaluate at this RFC3339 time (default now)")
	c.Flags().Bool("json", false, "output results as JSON")
}

func pinFrom(c *cobra.Command) (compliance.At, error) {
	var at compliance.At
	v, _ := c.Flags().GetInt64("version")
	if v < 0 {
		return at, fmt.Errorf("--version must not be negative")
	}
	at.Version = v
	if s, _ := c.Flags().GetString("as-of"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return at, fmt.Errorf("--as-of: %w", err)
		}
		at.AsOf = t
	}
	return at, nil
}

func jsonOutput(c *cobra.Command) bool {
	b, _ := c.Flags().GetBool("json")
	return b
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
