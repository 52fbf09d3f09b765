package types

import (
	"encoding/json"
	"time"
)

// RefineRequest is the canonical internal representation of a schema
// refinement request. All backend-specific formats are built from this type.
type RefineRequest struct {
	// Request content
	Schema  json.RawMessage   `json:"schema"`
	Samples []json.RawMessage `json:"samples"`
	Options map[string]string `json:"options,omitempty"`

	// Routing hints
	Backend           string   `json:"backend,omitempty"`
	PreferredBackends []string `json:"preferred_backends,omitempty"`
	SkipCache         bool     `json:"skip_cache,omitempty"`

	// Work estimates, in abstract billed units
	EstimatedInputUnits  int `json:"estimated_input_units,omitempty"`
	EstimatedOutputUnits int `json:"estimated_output_units,omitempty"`

	// Internal tracking
	RequestID  string    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// EstimatedUnits returns the total estimated work units for capacity checks.
func (r *RefineRequest) EstimatedUnits() int {
	return r.EstimatedInputUnits + r.EstimatedOutputUnits
}
