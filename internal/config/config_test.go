package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cache.Backend != CacheMemory {
		t.Errorf("expected default cache backend %q, got %q", CacheMemory, cfg.Cache.Backend)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	w, err := cfg.FreshnessWindow()
	if err != nil {
		t.Fatalf("FreshnessWindow: %v", err)
	}
	if w != 90*24*time.Hour {
		t.Errorf("expected default freshness window 90d, got %v", w)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.tracegraph.yml")

	original := DefaultConfig()
	original.DatabasePath = "/var/lib/tracegraph/graph.db"
	original.Server.Port = 9090
	original.Evidence.FreshnessWindow = "30d"
	original.Cache.Backend = CacheRedis
	original.Cache.RedisDB = 3
	original.Import.Include = []string{"controls/*.yaml", "policies/*.yaml"}

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DatabasePath != original.DatabasePath {
		t.Errorf("database_path: got %q, want %q", loaded.DatabasePath, original.DatabasePath)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("server.port: got %d, want 9090", loaded.Server.Port)
	}
	if loaded.Evidence.FreshnessWindow != "30d" {
		t.Errorf("evidence.freshness_window: got %q, want 30d", loaded.Evidence.FreshnessWindow)
	}
	if loaded.Cache.Backend != CacheRedis || loaded.Cache.RedisDB != 3 {
		t.Errorf("cache: got %+v", loaded.Cache)
	}
	if len(loaded.Import.Include) != 2 || loaded.Import.Include[1] != "policies/*.yaml" {
		t.Errorf("import.include: got %v", loaded.Import.Include)
	}
	if loaded.Evidence.PassExpression != original.Evidence.PassExpression {
		t.Errorf("pass_expression not preserved: %q", loaded.Evidence.PassExpression)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.yml")

	// Loading a missing file should return defaults, not an error.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not fail for missing file: %v", err)
	}
	if cfg.DatabasePath != DefaultConfig().DatabasePath {
		t.Errorf("expected default database path, got %q", cfg.DatabasePath)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")

	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("TRACEGRAPH_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("TRACEGRAPH_CACHE__BACKEND", "none")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DatabasePath != "/tmp/override.db" {
		t.Errorf("env override failed: got %q", loaded.DatabasePath)
	}
	if loaded.Cache.Backend != CacheNone {
		t.Errorf("nested env override failed: got %q", loaded.Cache.Backend)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad freshness window", func(c *Config) { c.Evidence.FreshnessWindow = "quarterly" }},
		{"zero freshness window", func(c *Config) { c.Evidence.FreshnessWindow = "0d" }},
		{"bad pass expression", func(c *Config) { c.Evidence.PassExpression = "attrs.result ==" }},
		{"non-boolean pass expression", func(c *Config) { c.Evidence.PassExpression = `"pass"` }},
		{"bad review age", func(c *Config) { c.Review.MaxAge = "-1d" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"bad cache ttl", func(c *Config) { c.Cache.TTL = "soon" }},
		{"redis without address", func(c *Config) { c.Cache.Backend = CacheRedis; c.Cache.RedisAddr = "" }},
		{"negative redis db", func(c *Config) { c.Cache.RedisDB = -1 }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig should be valid, got: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a/*.yaml, ,b/*.yml ")
	if len(got) != 2 || got[0] != "a/*.yaml" || got[1] != "b/*.yml" {
		t.Errorf("splitAndTrim = %q", got)
	}
}
