package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap/zapcore"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/ziadkadry99/tracegraph/internal/coverage"
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: TRACEGRAPH_CACHE__BACKEND sets cache.backend.
const EnvPrefix = "TRACEGRAPH_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (TRACEGRAPH_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validCacheBackends = map[CacheBackend]bool{
	CacheNone:   true,
	CacheMemory: true,
	CacheRedis:  true,
}

var validLogFormats = map[LogFormat]bool{
	LogJSON:    true,
	LogConsole: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log.format %q: must be one of json, console", c.Log.Format)
	}

	if _, err := c.FreshnessWindow(); err != nil {
		return err
	}
	if _, err := coverage.NewEvaluator(c.Evidence.PassExpression); err != nil {
		return fmt.Errorf("invalid evidence.pass_expression: %w", err)
	}
	if _, err := c.ReviewMaxAge(); err != nil {
		return err
	}

	if !validCacheBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache.backend %q: must be one of none, memory, redis", c.Cache.Backend)
	}
	if _, err := c.CacheTTL(); err != nil {
		return err
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required for the redis backend")
	}
	if c.Cache.RedisDB < 0 {
		return fmt.Errorf("cache.redis_db must be non-negative")
	}

	return nil
}

// FreshnessWindow returns the default evidence freshness window.
func (c *Config) FreshnessWindow() (time.Duration, error) {
	return positive("evidence.freshness_window", c.Evidence.FreshnessWindow)
}

// ReviewMaxAge returns how long links may go unreviewed.
func (c *Config) ReviewMaxAge() (time.Duration, error) {
	return positive("review.max_age", c.Review.MaxAge)
}

// CacheTTL returns the score cache entry lifetime.
func (c *Config) CacheTTL() (time.Duration, error) {
	return positive("cache.ttl", c.Cache.TTL)
}

func positive(key, value string) (time.Duration, error) {
	d, err := graph.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
