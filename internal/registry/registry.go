package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/refinery/internal/backend"
)

// Metadata is the static and mutable descriptor for one backend.
// ID never changes after registration; Priority and Weight writes are clamped,
// never rejected.
type Metadata struct {
	ID                string   `json:"id"`
	CostPerInputUnit  float64  `json:"cost_per_input_unit"`
	CostPerOutputUnit float64  `json:"cost_per_output_unit"`

	MaxRequestsPerMinute int      `json:"max_requests_per_minute"`
	MaxUnitsPerRequest   int      `json:"max_units_per_request"`
	Features             []string `json:"features,omitempty"`

	Priority int     `json:"priority"` // clamped [0,100], higher preferred
	Weight   float64 `json:"weight"`   // clamped [0,1]
	Enabled  bool    `json:"enabled"`
}

// Entry is the runtime wrapper around a registered backend. Health is set only
// by explicit health checks or by live invocation outcomes.
type Entry struct {
	Metadata        Metadata
	Adapter         backend.Adapter
	LastHealthCheck time.Time
	HealthKnown     bool
	Healthy         bool
}

// Registry holds backend adapters plus their metadata. It never calls a
// backend itself.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// Register adds a backend. Re-registering an existing id overwrites its
// metadata and adapter; that is logged as a warning, not an error.
func (r *Registry) Register(adapter backend.Adapter, meta Metadata) {
	meta.Priority = clampPriority(meta.Priority)
	meta.Weight = clampWeight(meta.Weight)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[meta.ID]; exists {
		r.logger.Warn("backend re-registered, overwriting", "backend", meta.ID)
	}
	r.entries[meta.ID] = &Entry{
		Metadata: meta,
		Adapter:  adapter,
	}
}

// Unregister removes a backend. Returns false if the id is unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ListEnabled returns enabled backends sorted by priority descending.
// Ties keep a stable order by id so repeated calls agree.
func (r *Registry) ListEnabled() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Metadata.Enabled {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metadata.Priority != out[j].Metadata.Priority {
			return out[i].Metadata.Priority > out[j].Metadata.Priority
		}
		return out[i].Metadata.ID < out[j].Metadata.ID
	})
	return out
}

// ListAll returns every registered backend, priority descending.
func (r *Registry) ListAll() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metadata.Priority != out[j].Metadata.Priority {
			return out[i].Metadata.Priority > out[j].Metadata.Priority
		}
		return out[i].Metadata.ID < out[j].Metadata.ID
	})
	return out
}

// ListByFeature returns the ids of backends carrying the given capability tag.
func (r *Registry) ListByFeature(feature string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.entries {
		for _, f := range e.Metadata.Features {
			if f == feature {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// SetEnabled flips the enabled flag. Returns false if the id is unknown.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.Metadata.Enabled = enabled
	return true
}

// SetPriority sets the priority, clamped to [0,100]. Returns false if unknown.
func (r *Registry) SetPriority(id string, priority int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.Metadata.Priority = clampPriority(priority)
	return true
}

// SetWeight sets the weight, clamped to [0,1]. Returns false if unknown.
func (r *Registry) SetWeight(id string, weight float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.Metadata.Weight = clampWeight(weight)
	return true
}

// RecordHealth stores the latest health observation for a backend.
func (r *Registry) RecordHealth(id string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.Healthy = healthy
	e.HealthKnown = true
	e.LastHealthCheck = time.Now()
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
