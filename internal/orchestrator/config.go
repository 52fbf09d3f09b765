package orchestrator

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/refinery/internal/selection"
)

// Config is the mutable global orchestration policy.
type Config struct {
	Strategy            selection.Strategy `json:"strategy"`
	FallbackEnabled     bool               `json:"fallback_enabled"`
	MaxFallbackAttempts int                `json:"max_fallback_attempts"`
	CacheEnabled        bool               `json:"cache_enabled"`
	CacheTTL            time.Duration      `json:"cache_ttl"`
	RateLimitingEnabled bool               `json:"rate_limiting_enabled"`
	CostTrackingEnabled bool               `json:"cost_tracking_enabled"`
	MetricsEnabled      bool               `json:"metrics_enabled"`
	RequestTimeout      time.Duration      `json:"request_timeout"`
	DailyBudgetUSD      float64            `json:"daily_budget_usd,omitempty"`
	PreferredBackends   []string           `json:"preferred_backends,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Strategy:            selection.StrategyPriority,
		FallbackEnabled:     true,
		MaxFallbackAttempts: 2,
		CacheEnabled:        true,
		CacheTTL:            time.Hour,
		RateLimitingEnabled: true,
		CostTrackingEnabled: true,
		MetricsEnabled:      true,
		RequestTimeout:      60 * time.Second,
	}
}

func (c Config) validate() error {
	if _, err := selection.ParseStrategy(string(c.Strategy)); err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	if c.MaxFallbackAttempts < 0 {
		return &ConfigError{Reason: "max_fallback_attempts must be non-negative"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Reason: "request_timeout must be positive"}
	}
	if c.CacheTTL <= 0 {
		return &ConfigError{Reason: "cache_ttl must be positive"}
	}
	if c.DailyBudgetUSD < 0 {
		return &ConfigError{Reason: "daily_budget_usd must be non-negative"}
	}
	return nil
}

// ConfigStore owns the config and a listener list notified synchronously on
// every successful mutation. A panicking listener does not stop the rest and
// cannot corrupt the stored config.
type ConfigStore struct {
	mu        sync.RWMutex
	cfg       Config
	listeners []func(Config)
	logger    *slog.Logger
}

func NewConfigStore(cfg Config, logger *slog.Logger) (*ConfigStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigStore{cfg: cfg, logger: logger}, nil
}

// Get returns a copy of the current config.
func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// Update validates and applies a full replacement config. The update is
// all-or-nothing: a validation failure leaves the current config untouched.
func (s *ConfigStore) Update(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg.clone()
	applied := s.cfg.clone()
	listeners := make([]func(Config), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		s.notify(fn, applied)
	}
	return nil
}

func (s *ConfigStore) notify(fn func(Config), cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("config listener panicked", "panic", r)
		}
	}()
	fn(cfg)
}

// OnChange registers a listener invoked synchronously after each update.
func (s *ConfigStore) OnChange(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Export serializes the current config as JSON.
func (s *ConfigStore) Export() ([]byte, error) {
	s.mu.RLock()
	cfg := s.cfg.clone()
	s.mu.RUnlock()
	return json.MarshalIndent(cfg, "", "  ")
}

// Import applies a JSON snapshot on top of the current config, so partial
// snapshots update only the fields they name. Malformed or invalid data fails
// with a ConfigError and leaves the current config unchanged.
func (s *ConfigStore) Import(data []byte) error {
	cfg := s.Get()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return &ConfigError{Reason: "malformed config snapshot", Err: err}
	}
	return s.Update(cfg)
}

func (c Config) clone() Config {
	out := c
	if c.PreferredBackends != nil {
		out.PreferredBackends = append([]string(nil), c.PreferredBackends...)
	}
	return out
}
