package types

import "encoding/json"

// RefineResult is the outcome of a successful refinement.
type RefineResult struct {
	RequestID    string          `json:"request_id,omitempty"`
	Schema       json.RawMessage `json:"schema"`
	Improvements []Improvement   `json:"improvements"`
	Suggestions  []string        `json:"suggestions,omitempty"`

	Backend     string  `json:"backend"`
	FromCache   bool    `json:"from_cache"`
	OutputUnits int     `json:"output_units"`
	CostUSD     float64 `json:"estimated_cost_usd"`
}

// Improvement describes one change the backend made to the schema.
type Improvement struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
}
