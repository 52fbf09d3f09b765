package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Current    int
	Limit      int
	RetryAfter time.Duration
}

// Status is a read-only snapshot of one backend's window.
type Status struct {
	Backend    string        `json:"backend"`
	Current    int           `json:"current"`
	Limit      int           `json:"limit"`
	Blocked    bool          `json:"blocked"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type window struct {
	timestamps   []time.Time
	blockedUntil time.Time
	limit        int
	size         time.Duration
}

// Limiter performs per-backend sliding-window admission control. Windows are
// created lazily on first check. Once a blocked window's blockedUntil passes,
// the window is reset entirely rather than trimmed; the package tests pin that
// boundary behavior.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check performs an admission check for one backend and, when allowed,
// records the request in the window. A non-positive limit always allows.
func (l *Limiter) Check(backend string, limit int, size time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[backend]
	if !ok {
		w = &window{}
		l.windows[backend] = w
	}
	w.limit = limit
	w.size = size

	if !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			return Decision{
				Allowed:    false,
				Current:    len(w.timestamps),
				Limit:      limit,
				RetryAfter: ceilSeconds(w.blockedUntil.Sub(now)),
			}
		}
		// Unblocked: the window resets
		w.blockedUntil = time.Time{}
		w.timestamps = w.timestamps[:0]
	}

	// Drop timestamps that have slid out of the window
	cutoff := now.Add(-size)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) < limit {
		w.timestamps = append(w.timestamps, now)
		return Decision{Allowed: true, Current: len(w.timestamps), Limit: limit}
	}

	retryAfter := ceilSeconds(w.timestamps[0].Add(size).Sub(now))
	w.blockedUntil = now.Add(retryAfter)
	return Decision{
		Allowed:    false,
		Current:    len(w.timestamps),
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// ceilSeconds rounds d up to a whole second, minimum one second.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}

// Reset clears the window for one backend.
func (l *Limiter) Reset(backend string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, backend)
}

// ResetAll clears every window.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}

// Status returns a snapshot for one backend without mutating any state.
func (l *Limiter) Status(backend string) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[backend]
	if !ok {
		return Status{}, false
	}
	return l.statusLocked(backend, w), true
}

// StatusAll returns snapshots for every backend with window state.
func (l *Limiter) StatusAll() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Status, 0, len(l.windows))
	for id, w := range l.windows {
		out = append(out, l.statusLocked(id, w))
	}
	return out
}

func (l *Limiter) statusLocked(backend string, w *window) Status {
	now := l.now()
	count := 0
	cutoff := now.Add(-w.size)
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	s := Status{
		Backend: backend,
		Current: count,
		Limit:   w.limit,
	}
	if !w.blockedUntil.IsZero() && now.Before(w.blockedUntil) {
		s.Blocked = true
		s.RetryAfter = ceilSeconds(w.blockedUntil.Sub(now))
	}
	return s
}
