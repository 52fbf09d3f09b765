package metrics

import (
	"sync"
	"time"
)

// Entry is one immutable request outcome record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Backend   string    `json:"backend"`
	Success   bool      `json:"success"`
	LatencyMs float64   `json:"latency_ms"`
	ErrorTag  string    `json:"error_tag,omitempty"`
}

// Log is a bounded ring of request outcomes. When full, the oldest entry is
// dropped. All aggregate views are derived at read time.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	head     int
	size     int
	capacity int

	now func() time.Time
}

const DefaultCapacity = 10000

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends one outcome, trimming the oldest entry when the ring is full.
func (l *Log) Record(backend string, success bool, latency time.Duration, errorTag string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Timestamp: l.now(),
		Backend:   backend,
		Success:   success,
		LatencyMs: float64(latency.Microseconds()) / 1000,
		ErrorTag:  errorTag,
	}
	l.entries[(l.head+l.size)%l.capacity] = e
	if l.size < l.capacity {
		l.size++
	} else {
		l.head = (l.head + 1) % l.capacity
	}
}

// Snapshot returns a copy of the entries at or after since, oldest first.
// A zero since returns everything retained.
func (l *Log) Snapshot(since time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.size)
	for i := 0; i < l.size; i++ {
		e := l.entries[(l.head+i)%l.capacity]
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
