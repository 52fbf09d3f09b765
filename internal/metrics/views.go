package metrics

import (
	"sort"
	"time"
)

// Summary is the derived per-backend view over retained entries.
type Summary struct {
	Backend            string    `json:"backend"`
	TotalRequests      int       `json:"total_requests"`
	SuccessfulRequests int       `json:"successful_requests"`
	FailedRequests     int       `json:"failed_requests"`
	SuccessRate        float64   `json:"success_rate"`
	AvgLatencyMs       float64   `json:"avg_latency_ms"`
	MinLatencyMs       float64   `json:"min_latency_ms"`
	MaxLatencyMs       float64   `json:"max_latency_ms"`
	LastRequestTime    time.Time `json:"last_request_time"`
	LastSuccessTime    time.Time `json:"last_success_time,omitzero"`
	LastFailureTime    time.Time `json:"last_failure_time,omitzero"`
}

// ErrorCount groups failures for one backend by error tag.
type ErrorCount struct {
	Tag        string  `json:"tag"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Bucket is one timeline interval for a backend.
type Bucket struct {
	Start    time.Time `json:"start"`
	Requests int       `json:"requests"`
	Failures int       `json:"failures"`
}

// BackendMetrics derives the summary for one backend over entries at or after
// since. The zero Summary (TotalRequests == 0) means no traffic.
func (l *Log) BackendMetrics(backend string, since time.Time) Summary {
	return summarize(backend, l.Snapshot(since))
}

func summarize(backend string, entries []Entry) Summary {
	s := Summary{Backend: backend}
	for _, e := range entries {
		if e.Backend != backend {
			continue
		}
		s.TotalRequests++
		if s.TotalRequests == 1 || e.LatencyMs < s.MinLatencyMs {
			s.MinLatencyMs = e.LatencyMs
		}
		if e.LatencyMs > s.MaxLatencyMs {
			s.MaxLatencyMs = e.LatencyMs
		}
		s.AvgLatencyMs += e.LatencyMs
		s.LastRequestTime = e.Timestamp
		if e.Success {
			s.SuccessfulRequests++
			s.LastSuccessTime = e.Timestamp
		} else {
			s.FailedRequests++
			s.LastFailureTime = e.Timestamp
		}
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
		s.AvgLatencyMs /= float64(s.TotalRequests)
	}
	return s
}

// AllMetrics derives summaries for every backend seen in the retained window.
func (l *Log) AllMetrics(since time.Time) map[string]Summary {
	entries := l.Snapshot(since)
	backends := make(map[string]bool)
	for _, e := range entries {
		backends[e.Backend] = true
	}
	out := make(map[string]Summary, len(backends))
	for id := range backends {
		out[id] = summarize(id, entries)
	}
	return out
}

// TopBySuccessRate returns up to n backends ordered by success rate descending.
func (l *Log) TopBySuccessRate(n int) []Summary {
	all := l.AllMetrics(time.Time{})
	out := make([]Summary, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].Backend < out[j].Backend
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FastestByAvgLatency returns the backend with the lowest average latency
// among those with at least one request. ok is false with no traffic at all.
func (l *Log) FastestByAvgLatency() (Summary, bool) {
	return l.extremeByLatency(func(candidate, best float64) bool { return candidate < best })
}

// SlowestByAvgLatency is the counterpart to FastestByAvgLatency.
func (l *Log) SlowestByAvgLatency() (Summary, bool) {
	return l.extremeByLatency(func(candidate, best float64) bool { return candidate > best })
}

func (l *Log) extremeByLatency(better func(candidate, best float64) bool) (Summary, bool) {
	all := l.AllMetrics(time.Time{})
	var best Summary
	found := false
	for _, s := range all {
		if s.TotalRequests == 0 {
			continue
		}
		if !found || better(s.AvgLatencyMs, best.AvgLatencyMs) {
			best = s
			found = true
		}
	}
	return best, found
}

// ErrorBreakdown groups one backend's failures by error tag with counts and
// percentages of that backend's failures.
func (l *Log) ErrorBreakdown(backend string) []ErrorCount {
	entries := l.Snapshot(time.Time{})
	counts := make(map[string]int)
	total := 0
	for _, e := range entries {
		if e.Backend != backend || e.Success {
			continue
		}
		counts[e.ErrorTag]++
		total++
	}
	out := make([]ErrorCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, ErrorCount{
			Tag:        tag,
			Count:      count,
			Percentage: float64(count) / float64(total) * 100,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// Timeline buckets one backend's entries by floor division of the timestamp.
func (l *Log) Timeline(backend string, interval time.Duration) []Bucket {
	if interval <= 0 {
		return nil
	}
	entries := l.Snapshot(time.Time{})
	buckets := make(map[int64]*Bucket)
	for _, e := range entries {
		if e.Backend != backend {
			continue
		}
		start := e.Timestamp.UnixMilli() / interval.Milliseconds() * interval.Milliseconds()
		b, ok := buckets[start]
		if !ok {
			b = &Bucket{Start: time.UnixMilli(start).UTC()}
			buckets[start] = b
		}
		b.Requests++
		if !e.Success {
			b.Failures++
		}
	}
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// AvgLatency reports the average latency for one backend, for selection's
// performance strategy. ok is false with no traffic for that backend.
func (l *Log) AvgLatency(backend string) (float64, bool) {
	s := l.BackendMetrics(backend, time.Time{})
	if s.TotalRequests == 0 {
		return 0, false
	}
	return s.AvgLatencyMs, true
}
