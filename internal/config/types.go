package config

// CacheBackend selects where computed scores are cached.
type CacheBackend string

const (
	CacheNone   CacheBackend = "none"
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// LogFormat selects the log encoder.
type LogFormat string

const (
	LogJSON    LogFormat = "json"
	LogConsole LogFormat = "console"
)

// Config is the top-level tracegraph configuration, corresponding to .tracegraph.yml.
type Config struct {
	DatabasePath string         `yaml:"database_path" koanf:"database_path"`
	Server       ServerConfig   `yaml:"server" koanf:"server"`
	Log          LogConfig      `yaml:"log" koanf:"log"`
	Evidence     EvidenceConfig `yaml:"evidence" koanf:"evidence"`
	Review       ReviewConfig   `yaml:"review" koanf:"review"`
	Cache        CacheConfig    `yaml:"cache" koanf:"cache"`
	Import       ImportConfig   `yaml:"import" koanf:"import"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string    `yaml:"level" koanf:"level"`
	Format LogFormat `yaml:"format" koanf:"format"`
}

// EvidenceConfig controls how evidence turns into coverage. Durations
// accept Go syntax or whole days ("90d").
type EvidenceConfig struct {
	FreshnessWindow string `yaml:"freshness_window" koanf:"freshness_window"`
	PassExpression  string `yaml:"pass_expression" koanf:"pass_expression"`
}

// ReviewConfig controls overdue review reporting.
type ReviewConfig struct {
	MaxAge string `yaml:"max_age" koanf:"max_age"`
}

// CacheConfig selects and configures the score cache.
type CacheConfig struct {
	Backend       CacheBackend `yaml:"backend" koanf:"backend"`
	TTL           string       `yaml:"ttl" koanf:"ttl"`
	RedisAddr     string       `yaml:"redis_addr" koanf:"redis_addr"`
	RedisPassword string       `yaml:"redis_password,omitempty" koanf:"redis_password"`
	RedisDB       int          `yaml:"redis_db" koanf:"redis_db"`
}

// ImportConfig lists the catalog files read by "tracegraph import" when no
// arguments are given.
type ImportConfig struct {
	Include []string `yaml:"include" koanf:"include"`
	Exclude []string `yaml:"exclude" koanf:"exclude"`
}
