package cost

import (
	"sync"
	"time"
)

// Entry is one immutable cost record.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	Backend     string    `json:"backend"`
	InputUnits  int       `json:"input_units"`
	OutputUnits int       `json:"output_units"`
	CostUSD     float64   `json:"cost_usd"`
}

// BackendCost is the per-backend slice of a summary.
type BackendCost struct {
	CostUSD     float64 `json:"cost_usd"`
	Requests    int     `json:"requests"`
	InputUnits  int     `json:"input_units"`
	OutputUnits int     `json:"output_units"`
}

// Summary aggregates cost entries at read time.
type Summary struct {
	TotalCostUSD      float64                `json:"total_cost_usd"`
	TotalRequests     int                    `json:"total_requests"`
	AvgCostPerRequest float64                `json:"avg_cost_per_request"`
	PerBackend        map[string]BackendCost `json:"per_backend"`
}

// Tracker is a bounded ring of cost entries. When full, the oldest entry is
// dropped.
type Tracker struct {
	mu       sync.Mutex
	entries  []Entry
	head     int
	size     int
	capacity int

	now func() time.Time
}

const DefaultCapacity = 10000

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Track appends one cost record.
func (t *Tracker) Track(backend string, inputUnits, outputUnits int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		Timestamp:   t.now(),
		Backend:     backend,
		InputUnits:  inputUnits,
		OutputUnits: outputUnits,
		CostUSD:     costUSD,
	}
	t.entries[(t.head+t.size)%t.capacity] = e
	if t.size < t.capacity {
		t.size++
	} else {
		t.head = (t.head + 1) % t.capacity
	}
}

// GetSummary aggregates entries at or after since. A zero since covers the
// whole retained window.
func (t *Tracker) GetSummary(since time.Time) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{PerBackend: make(map[string]BackendCost)}
	for i := 0; i < t.size; i++ {
		e := t.entries[(t.head+i)%t.capacity]
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		s.TotalCostUSD += e.CostUSD
		s.TotalRequests++
		bc := s.PerBackend[e.Backend]
		bc.CostUSD += e.CostUSD
		bc.Requests++
		bc.InputUnits += e.InputUnits
		bc.OutputUnits += e.OutputUnits
		s.PerBackend[e.Backend] = bc
	}
	if s.TotalRequests > 0 {
		s.AvgCostPerRequest = s.TotalCostUSD / float64(s.TotalRequests)
	}
	return s
}

// OverBudget reports whether spend since the given time exceeds limit. It is
// a pure comparison; acting on it is the caller's decision.
func (t *Tracker) OverBudget(limitUSD float64, since time.Time) bool {
	if limitUSD <= 0 {
		return false
	}
	return t.GetSummary(since).TotalCostUSD > limitUSD
}
