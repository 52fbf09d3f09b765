package config

import "time"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// OrchestratorConfig holds the startup values for the orchestrator's runtime
// config store. Runtime mutations (admin API, config import) do not write back
// to this file representation.
type OrchestratorConfig struct {
	Strategy            string        `yaml:"strategy"`
	FallbackEnabled     *bool         `yaml:"fallback_enabled"`
	MaxFallbackAttempts int           `yaml:"max_fallback_attempts"`
	CacheEnabled        *bool         `yaml:"cache_enabled"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	CacheCapacity       int           `yaml:"cache_capacity"`
	CachePruneInterval  time.Duration `yaml:"cache_prune_interval"`
	RateLimitingEnabled *bool         `yaml:"rate_limiting_enabled"`
	CostTrackingEnabled *bool         `yaml:"cost_tracking_enabled"`
	MetricsEnabled      *bool         `yaml:"metrics_enabled"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	DailyBudgetUSD      float64       `yaml:"daily_budget_usd"`
	PreferredBackends   []string      `yaml:"preferred_backends"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			DB:       0,
			PoolSize: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Orchestrator: OrchestratorConfig{
			Strategy:            "priority",
			MaxFallbackAttempts: 2,
			CacheTTL:            time.Hour,
			CacheCapacity:       1000,
			CachePruneInterval:  5 * time.Minute,
			RequestTimeout:      60 * time.Second,
		},
	}
}
