package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/af-corp/refinery/internal/registry"
	"github.com/af-corp/refinery/internal/types"
)

type fakeAdapter struct {
	id    string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Refine(ctx context.Context, req *types.RefineRequest) (*types.RefineResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.RefineResult{
		Schema:      json.RawMessage(`{"type":"object"}`),
		OutputUnits: req.EstimatedOutputUnits,
		Improvements: []types.Improvement{
			{Path: "$.name", Kind: "add_constraint", Description: "added minLength"},
		},
	}, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return f.err == nil }

func testMeta(id string, priority int) registry.Metadata {
	return registry.Metadata{
		ID:                id,
		Priority:          priority,
		Weight:            0.5,
		Enabled:           true,
		CostPerInputUnit:  0.5,
		CostPerOutputUnit: 1.0,
	}
}

func newTestOrchestrator(t *testing.T, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RequestTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

func testRequest(id string) *types.RefineRequest {
	return &types.RefineRequest{
		Schema:               json.RawMessage(fmt.Sprintf(`{"title":%q}`, id)),
		EstimatedInputUnits:  1000,
		EstimatedOutputUnits: 2000,
		RequestID:            id,
	}
}

func TestRefineSuccess(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	a := &fakeAdapter{id: "alpha"}
	o.RegisterBackend(a, testMeta("alpha", 50))

	res, err := o.Refine(context.Background(), testRequest("r1"))
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Backend != "alpha" {
		t.Errorf("Backend = %q, want alpha", res.Backend)
	}
	if res.FromCache {
		t.Error("first call should not be served from cache")
	}
	if res.RequestID != "r1" {
		t.Errorf("RequestID = %q, want r1", res.RequestID)
	}
	// 1000 input units at 0.5/1K plus 2000 output units at 1.0/1K.
	if res.CostUSD != 2.5 {
		t.Errorf("CostUSD = %v, want 2.5", res.CostUSD)
	}
}

func TestRefineNoBackends(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	_, err := o.Refine(context.Background(), testRequest("r1"))
	if !errors.Is(err, ErrNoBackends) {
		t.Fatalf("err = %v, want ErrNoBackends", err)
	}
}

func TestRefineFallbackChain(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	first := &fakeAdapter{id: "first", err: errors.New("boom")}
	second := &fakeAdapter{id: "second", err: errors.New("boom")}
	third := &fakeAdapter{id: "third"}
	o.RegisterBackend(first, testMeta("first", 90))
	o.RegisterBackend(second, testMeta("second", 60))
	o.RegisterBackend(third, testMeta("third", 30))

	res, err := o.Refine(context.Background(), testRequest("r1"))
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Backend != "third" {
		t.Errorf("Backend = %q, want third", res.Backend)
	}
	for _, a := range []*fakeAdapter{first, second, third} {
		if a.calls.Load() != 1 {
			t.Errorf("backend %s called %d times, want 1", a.id, a.calls.Load())
		}
	}

	// Only the succeeding backend is credited.
	summary := o.CostSummary(time.Time{})
	if summary.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", summary.TotalRequests)
	}
	if _, ok := summary.PerBackend["third"]; !ok {
		t.Error("cost not credited to third")
	}
}

func TestRefineFallbackDisabled(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *Config) { cfg.FallbackEnabled = false })
	o.RegisterBackend(&fakeAdapter{id: "first", err: errors.New("boom")}, testMeta("first", 90))
	healthy := &fakeAdapter{id: "second"}
	o.RegisterBackend(healthy, testMeta("second", 60))

	_, err := o.Refine(context.Background(), testRequest("r1"))
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 || exhausted.Attempts[0].Backend != "first" {
		t.Errorf("attempts = %+v, want single attempt on first", exhausted.Attempts)
	}
	if healthy.calls.Load() != 0 {
		t.Error("fallback invoked with fallback disabled")
	}
}

func TestRefineMaxFallbackAttempts(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *Config) { cfg.MaxFallbackAttempts = 1 })
	for i, id := range []string{"a", "b", "c"} {
		o.RegisterBackend(&fakeAdapter{id: id, err: errors.New("boom")}, testMeta(id, 90-i*10))
	}

	_, err := o.Refine(context.Background(), testRequest("r1"))
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2 (primary plus one fallback)", len(exhausted.Attempts))
	}
}

func TestRefineZeroFallbackAttempts(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *Config) { cfg.MaxFallbackAttempts = 0 })
	primary := &fakeAdapter{id: "primary", err: errors.New("boom")}
	second := &fakeAdapter{id: "second", err: errors.New("boom")}
	healthy := &fakeAdapter{id: "healthy"}
	o.RegisterBackend(primary, testMeta("primary", 90))
	o.RegisterBackend(second, testMeta("second", 60))
	o.RegisterBackend(healthy, testMeta("healthy", 30))

	_, err := o.Refine(context.Background(), testRequest("r1"))
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 || exhausted.Attempts[0].Backend != "primary" {
		t.Errorf("attempts = %+v, want single attempt on primary", exhausted.Attempts)
	}
	if second.calls.Load() != 0 || healthy.calls.Load() != 0 {
		t.Error("fallback candidates invoked with zero fallback attempts")
	}
}

func TestRefineOpenCircuitPreservesAdmissionWindow(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	flaky := &fakeAdapter{id: "flaky", err: errors.New("boom")}
	backup := &fakeAdapter{id: "backup"}
	meta := testMeta("flaky", 90)
	meta.MaxRequestsPerMinute = 100
	o.RegisterBackend(flaky, meta)
	o.RegisterBackend(backup, testMeta("backup", 10))

	req := testRequest("r1")
	req.SkipCache = true

	// Default breaker threshold is five consecutive failures.
	for i := 0; i < 5; i++ {
		if _, err := o.Refine(context.Background(), req); err != nil {
			t.Fatalf("Refine %d: %v", i, err)
		}
	}
	if flaky.calls.Load() != 5 {
		t.Fatalf("flaky called %d times, want 5", flaky.calls.Load())
	}

	// The breaker is now open: flaky is skipped without being invoked and
	// without consuming a slot in its rate-limit window.
	for i := 0; i < 3; i++ {
		if _, err := o.Refine(context.Background(), req); err != nil {
			t.Fatalf("Refine with open breaker: %v", err)
		}
	}
	if flaky.calls.Load() != 5 {
		t.Errorf("flaky called %d times after breaker opened, want 5", flaky.calls.Load())
	}

	for _, st := range o.RateLimitStatuses() {
		if st.Backend == "flaky" && st.Current != 5 {
			t.Errorf("flaky window current = %d, want 5 (skips must not consume slots)", st.Current)
		}
	}
}

func TestRefineCacheHit(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	a := &fakeAdapter{id: "alpha"}
	o.RegisterBackend(a, testMeta("alpha", 50))

	req := testRequest("r1")
	if _, err := o.Refine(context.Background(), req); err != nil {
		t.Fatalf("first Refine: %v", err)
	}

	again := testRequest("r2")
	again.Schema = req.Schema
	res, err := o.Refine(context.Background(), again)
	if err != nil {
		t.Fatalf("second Refine: %v", err)
	}
	if !res.FromCache {
		t.Error("second identical request should hit the cache")
	}
	if res.RequestID != "r2" {
		t.Errorf("cached result RequestID = %q, want caller's r2", res.RequestID)
	}
	if a.calls.Load() != 1 {
		t.Errorf("backend called %d times, want 1", a.calls.Load())
	}

	// SkipCache bypasses the lookup.
	skip := testRequest("r3")
	skip.Schema = req.Schema
	skip.SkipCache = true
	res, err = o.Refine(context.Background(), skip)
	if err != nil {
		t.Fatalf("skip-cache Refine: %v", err)
	}
	if res.FromCache {
		t.Error("SkipCache request served from cache")
	}
	if a.calls.Load() != 2 {
		t.Errorf("backend called %d times after skip-cache, want 2", a.calls.Load())
	}
}

func TestRefinePinnedBackend(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	low := &fakeAdapter{id: "low"}
	o.RegisterBackend(&fakeAdapter{id: "high"}, testMeta("high", 90))
	o.RegisterBackend(low, testMeta("low", 10))

	req := testRequest("r1")
	req.Backend = "low"
	res, err := o.Refine(context.Background(), req)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Backend != "low" {
		t.Errorf("Backend = %q, want pinned low", res.Backend)
	}

	req = testRequest("r2")
	req.Backend = "ghost"
	if _, err := o.Refine(context.Background(), req); !errors.Is(err, ErrNoBackends) {
		t.Errorf("pinned unknown backend: err = %v, want ErrNoBackends", err)
	}
}

func TestRefinePinnedBackendFallsBack(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.RegisterBackend(&fakeAdapter{id: "pinned", err: errors.New("boom")}, testMeta("pinned", 10))
	o.RegisterBackend(&fakeAdapter{id: "other"}, testMeta("other", 90))

	req := testRequest("r1")
	req.Backend = "pinned"
	res, err := o.Refine(context.Background(), req)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Backend != "other" {
		t.Errorf("Backend = %q, want fallback other", res.Backend)
	}
}

func TestRefineRateLimited(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	meta := testMeta("alpha", 50)
	meta.MaxRequestsPerMinute = 1
	o.RegisterBackend(&fakeAdapter{id: "alpha"}, meta)

	req := testRequest("r1")
	req.SkipCache = true
	if _, err := o.Refine(context.Background(), req); err != nil {
		t.Fatalf("first Refine: %v", err)
	}

	_, err := o.Refine(context.Background(), req)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want *RateLimitedError", err)
	}
	if limited.Backend != "alpha" || limited.RetryAfter <= 0 {
		t.Errorf("unexpected rate limit details: %+v", limited)
	}
}

func TestRefineTimeoutCountsAsFailure(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *Config) {
		cfg.RequestTimeout = 20 * time.Millisecond
		cfg.FallbackEnabled = false
	})
	o.RegisterBackend(&fakeAdapter{id: "slow", delay: time.Second}, testMeta("slow", 50))

	start := time.Now()
	_, err := o.Refine(context.Background(), testRequest("r1"))
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Refine took %s, timeout not enforced", elapsed)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 {
		t.Fatalf("attempts = %+v, want 1", exhausted.Attempts)
	}
	breakdown := o.MetricsLog().ErrorBreakdown("slow")
	if len(breakdown) != 1 || breakdown[0].Tag != "timeout" {
		t.Errorf("error breakdown = %+v, want single timeout entry", breakdown)
	}
}

func TestRefineCapacityFilter(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	meta := testMeta("small", 50)
	meta.MaxUnitsPerRequest = 100
	o.RegisterBackend(&fakeAdapter{id: "small"}, meta)

	_, err := o.Refine(context.Background(), testRequest("r1"))
	if !errors.Is(err, ErrNoBackends) {
		t.Fatalf("err = %v, want ErrNoBackends for oversized request", err)
	}
}

func TestRefineSkipsDisabledBackend(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	disabled := &fakeAdapter{id: "off"}
	o.RegisterBackend(disabled, testMeta("off", 90))
	o.RegisterBackend(&fakeAdapter{id: "on"}, testMeta("on", 10))
	o.Registry().SetEnabled("off", false)

	res, err := o.Refine(context.Background(), testRequest("r1"))
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if res.Backend != "on" {
		t.Errorf("Backend = %q, want on", res.Backend)
	}
	if disabled.calls.Load() != 0 {
		t.Error("disabled backend was invoked")
	}
}

func TestSetStrategy(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	if err := o.SetStrategy("cost"); err != nil {
		t.Fatalf("SetStrategy(cost): %v", err)
	}
	if got := o.GetConfig().Strategy; string(got) != "cost" {
		t.Errorf("Strategy = %q, want cost", got)
	}
	if err := o.SetStrategy("psychic"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestCheckAllBackendsHealth(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.RegisterBackend(&fakeAdapter{id: "up"}, testMeta("up", 50))
	o.RegisterBackend(&fakeAdapter{id: "down", err: errors.New("unreachable")}, testMeta("down", 40))

	results := o.CheckAllBackendsHealth(context.Background())
	if !results["up"] || results["down"] {
		t.Errorf("results = %v, want up=true down=false", results)
	}

	entry, ok := o.Registry().Get("down")
	if !ok || !entry.HealthKnown || entry.Healthy {
		t.Errorf("registry entry for down = %+v, want known unhealthy", entry)
	}
}

func TestUnregisterBackendClearsState(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	meta := testMeta("alpha", 50)
	meta.MaxRequestsPerMinute = 1
	o.RegisterBackend(&fakeAdapter{id: "alpha"}, meta)

	req := testRequest("r1")
	req.SkipCache = true
	if _, err := o.Refine(context.Background(), req); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	if !o.UnregisterBackend("alpha") {
		t.Fatal("UnregisterBackend returned false")
	}
	if o.UnregisterBackend("alpha") {
		t.Fatal("second UnregisterBackend should return false")
	}

	// Re-registering starts with a clean admission window.
	o.RegisterBackend(&fakeAdapter{id: "alpha"}, meta)
	if _, err := o.Refine(context.Background(), req); err != nil {
		t.Errorf("Refine after re-register: %v", err)
	}
}
