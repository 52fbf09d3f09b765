package config

import "time"

type BackendsConfig struct {
	Backends map[string]BackendConfig `yaml:"backends"`
}

// BackendConfig describes one remote completion backend: how to reach it and
// the static metadata the orchestrator selects on.
type BackendConfig struct {
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Model         string            `yaml:"model"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`

	// Pricing per 1K work units
	CostPerInputUnit  float64 `yaml:"cost_per_input_unit"`
	CostPerOutputUnit float64 `yaml:"cost_per_output_unit"`

	MaxRequestsPerMinute int      `yaml:"max_requests_per_minute"`
	MaxUnitsPerRequest   int      `yaml:"max_units_per_request"`
	Features             []string `yaml:"features,omitempty"`
	Priority             int      `yaml:"priority"`
	Weight               float64  `yaml:"weight"`
	Enabled              *bool    `yaml:"enabled"`
}
