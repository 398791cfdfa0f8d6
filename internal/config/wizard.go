package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// detectCatalog returns an include glob for an existing catalog directory.
func detectCatalog() string {
	for _, dir := range []string{"catalog", "compliance", "controls"} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir + "/**/*.yaml"
		}
	}
	return "catalog/**/*.yaml"
}

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .tracegraph.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to tracegraph! Let's configure your compliance graph.")
	fmt.Println()

	cfg := DefaultConfig()

	dbPrompt := promptui.Prompt{
		Label:   "Database path",
		Default: cfg.DatabasePath,
	}
	dbPath, err := dbPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("database path: %w", err)
	}
	cfg.DatabasePath = dbPath

	windowPrompt := promptui.Prompt{
		Label:   "Default evidence freshness window",
		Default: cfg.Evidence.FreshnessWindow,
		Validate: func(s string) error {
			_, err := positive("evidence.freshness_window", s)
			return err
		},
	}
	window, err := windowPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("freshness window: %w", err)
	}
	cfg.Evidence.FreshnessWindow = window

	cachePrompt := promptui.Select{
		Label: "Score cache",
		Items: []string{
			"memory: per-process cache",
			"redis: shared cache for several servers",
			"none: always recompute",
		},
	}
	cacheIdx, _, err := cachePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("cache selection: %w", err)
	}
	cfg.Cache.Backend = []CacheBackend{CacheMemory, CacheRedis, CacheNone}[cacheIdx]

	if cfg.Cache.Backend == CacheRedis {
		addrPrompt := promptui.Prompt{
			Label:   "Redis address",
			Default: cfg.Cache.RedisAddr,
		}
		addr, err := addrPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("redis address: %w", err)
		}
		cfg.Cache.RedisAddr = addr
	}

	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			_, err := strconv.Atoi(s)
			return err
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	includePrompt := promptui.Prompt{
		Label:   "Catalog files to import (comma-separated globs)",
		Default: detectCatalog(),
	}
	includeStr, err := includePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	cfg.Import.Include = splitAndTrim(includeStr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(DefaultPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", DefaultPath)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
