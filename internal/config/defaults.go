package config

import "github.com/ziadkadry99/tracegraph/internal/coverage"

// DefaultPath is the config file read when --config is not given.
const DefaultPath = ".tracegraph.yml"

// DefaultExcludes are glob patterns skipped during catalog import.
var DefaultExcludes = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: ".tracegraph/graph.db",
		Server: ServerConfig{
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogConsole,
		},
		Evidence: EvidenceConfig{
			FreshnessWindow: "90d",
			PassExpression:  coverage.DefaultPassExpression,
		},
		Review: ReviewConfig{
			MaxAge: "365d",
		},
		Cache: CacheConfig{
			Backend:   CacheMemory,
			TTL:       "5m",
			RedisAddr: "localhost:6379",
		},
		Import: ImportConfig{
			Include: []string{"catalog/**/*.yaml", "catalog/**/*.yml"},
			Exclude: DefaultExcludes,
		},
	}
}
