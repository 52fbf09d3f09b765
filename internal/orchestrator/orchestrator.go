package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/refinery/internal/backend"
	"github.com/af-corp/refinery/internal/cache"
	"github.com/af-corp/refinery/internal/cost"
	"github.com/af-corp/refinery/internal/metrics"
	"github.com/af-corp/refinery/internal/ratelimit"
	"github.com/af-corp/refinery/internal/registry"
	"github.com/af-corp/refinery/internal/selection"
	"github.com/af-corp/refinery/internal/telemetry"
	"github.com/af-corp/refinery/internal/types"
)

// Options tunes the components an Orchestrator constructs for itself.
// Zero values fall back to sensible defaults.
type Options struct {
	Logger          *slog.Logger
	Telemetry       *telemetry.Metrics
	Spend           *cost.SpendTracker
	CacheCapacity   int
	MetricsCapacity int
	CostCapacity    int

	BreakerFailureThreshold int
	BreakerProbeInterval    time.Duration
}

// Orchestrator composes the registry, admission controller, cache, selection
// policy and accounting into the single Refine entry point. Each instance
// owns its components; nothing is shared globally.
type Orchestrator struct {
	config   *ConfigStore
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	metrics  *metrics.Log
	costs    *cost.Tracker
	spend    *cost.SpendTracker
	health   *HealthTracker
	tel      *telemetry.Metrics
	logger   *slog.Logger

	rrCursor     atomic.Uint64
	perfDegraded atomic.Bool
	random       func() float64

	stopPrune chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, opts Options) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store, err := NewConfigStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	spend := opts.Spend
	if spend == nil {
		spend = cost.NewSpendTracker(nil)
	}
	cacheCap := opts.CacheCapacity
	if cacheCap <= 0 {
		cacheCap = 1000
	}

	return &Orchestrator{
		config:    store,
		registry:  registry.New(logger),
		limiter:   ratelimit.NewLimiter(),
		cache:     cache.New(cacheCap, cfg.CacheTTL),
		metrics:   metrics.NewLog(opts.MetricsCapacity),
		costs:     cost.NewTracker(opts.CostCapacity),
		spend:     spend,
		health:    NewHealthTracker(opts.BreakerFailureThreshold, opts.BreakerProbeInterval),
		tel:       opts.Telemetry,
		logger:    logger,
		random:    rand.Float64,
		stopPrune: make(chan struct{}),
	}, nil
}

// Start launches the periodic cache pruning loop.
func (o *Orchestrator) Start(pruneInterval time.Duration) {
	if pruneInterval <= 0 {
		pruneInterval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := o.cache.Prune(); removed > 0 {
					o.logger.Debug("pruned expired cache entries", "removed", removed)
				}
			case <-o.stopPrune:
				return
			}
		}
	}()
}

// Close stops background work. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.stopPrune) })
}

// Refine runs one request through cache lookup, backend selection, admission
// control, invocation and fallback. Every call ends in exactly one terminal
// outcome: a result, or one typed error from the taxonomy in errors.go.
func (o *Orchestrator) Refine(ctx context.Context, req *types.RefineRequest) (*types.RefineResult, error) {
	cfg := o.config.Get()

	if cfg.CacheEnabled && !req.SkipCache {
		if cached, ok := o.cache.Get(req); ok {
			if o.tel != nil {
				o.tel.ObserveCache(true)
			}
			hit := *cached
			hit.FromCache = true
			hit.RequestID = req.RequestID
			return &hit, nil
		}
		if o.tel != nil {
			o.tel.ObserveCache(false)
		}
	}

	chain, err := o.buildChain(req, cfg)
	if err != nil {
		return nil, err
	}

	var attempts []Attempt
	invoked := false
	denials := 0
	minRetry := time.Duration(0)
	lastDenied := ""

	for i, id := range chain {
		entry, ok := o.registry.Get(id)
		if !ok || !entry.Metadata.Enabled {
			continue
		}

		// Skip open-circuit backends while alternatives remain; the last
		// candidate is always tried so a recovered backend gets its probe.
		// This runs before admission so a skipped candidate never consumes
		// a slot in its rate-limit window.
		if !o.health.Available(id) && i < len(chain)-1 {
			o.logger.Debug("circuit open, skipping backend", "request_id", req.RequestID, "backend", id)
			attempts = append(attempts, Attempt{Backend: id, Reason: "circuit open"})
			continue
		}

		if cfg.RateLimitingEnabled {
			d := o.limiter.Check(id, entry.Metadata.MaxRequestsPerMinute, time.Minute)
			if !d.Allowed {
				o.logger.Debug("admission denied, skipping backend",
					"request_id", req.RequestID, "backend", id, "retry_after", d.RetryAfter)
				if o.tel != nil {
					o.tel.AdmissionDeniedTotal.WithLabelValues(id).Inc()
				}
				attempts = append(attempts, Attempt{Backend: id, Reason: fmt.Sprintf("rate limited, retry after %s", d.RetryAfter)})
				denials++
				lastDenied = id
				if minRetry == 0 || d.RetryAfter < minRetry {
					minRetry = d.RetryAfter
				}
				continue
			}
		}

		if invoked {
			if o.tel != nil {
				o.tel.FallbackTotal.WithLabelValues(id).Inc()
			}
			o.logger.Info("falling back", "request_id", req.RequestID, "backend", id)
		}
		invoked = true

		result, invErr := o.invoke(ctx, entry, req, cfg)
		if invErr == nil {
			result.RequestID = req.RequestID
			if cfg.CacheEnabled {
				o.cache.Set(req, result, cfg.CacheTTL)
			}
			return result, nil
		}

		attempts = append(attempts, Attempt{Backend: id, Reason: invErr.Error()})
		if !cfg.FallbackEnabled {
			break
		}
	}

	if !invoked && denials > 0 {
		return nil, &RateLimitedError{Backend: lastDenied, RetryAfter: minRetry}
	}
	if len(attempts) == 0 {
		return nil, ErrNoBackends
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

// buildChain resolves the ordered candidate list: pinned backend, or the
// selection policy over enabled backends with capacity for the request.
func (o *Orchestrator) buildChain(req *types.RefineRequest, cfg Config) ([]string, error) {
	if req.Backend != "" {
		entry, ok := o.registry.Get(req.Backend)
		if !ok || !entry.Metadata.Enabled {
			return nil, fmt.Errorf("%w: pinned backend %q unknown or disabled", ErrNoBackends, req.Backend)
		}
		chain := []string{req.Backend}
		if cfg.FallbackEnabled {
			for _, e := range o.registry.ListEnabled() {
				if e.Metadata.ID != req.Backend {
					chain = append(chain, e.Metadata.ID)
				}
			}
			chain = truncate(chain, 1+cfg.MaxFallbackAttempts)
		}
		return chain, nil
	}

	enabled := o.registry.ListEnabled()
	if len(enabled) == 0 {
		return nil, ErrNoBackends
	}

	candidates := make([]selection.Candidate, 0, len(enabled))
	for _, e := range enabled {
		if e.Metadata.MaxUnitsPerRequest > 0 && req.EstimatedUnits() > e.Metadata.MaxUnitsPerRequest {
			continue
		}
		candidates = append(candidates, selection.Candidate{
			ID:                e.Metadata.ID,
			Priority:          e.Metadata.Priority,
			Weight:            e.Metadata.Weight,
			CostPerInputUnit:  e.Metadata.CostPerInputUnit,
			CostPerOutputUnit: e.Metadata.CostPerOutputUnit,
		})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no backend can handle %d estimated units", ErrNoBackends, req.EstimatedUnits())
	}

	in := selection.Input{
		Strategy:             cfg.Strategy,
		EstimatedInputUnits:  req.EstimatedInputUnits,
		EstimatedOutputUnits: req.EstimatedOutputUnits,
		PreferredIDs:         cfg.PreferredBackends,
		Rand:                 o.random,
		AvgLatency:           o.metrics.AvgLatency,
	}
	if len(req.PreferredBackends) > 0 {
		in.PreferredIDs = req.PreferredBackends
	}
	if cfg.Strategy == selection.StrategyRoundRobin {
		in.Cursor = o.rrCursor.Add(1) - 1
	}

	ids, degraded := selection.Select(candidates, in)
	if degraded && o.perfDegraded.CompareAndSwap(false, true) {
		o.logger.Warn("performance strategy has no latency data, degrading to priority order")
	}

	if !cfg.FallbackEnabled {
		return ids[:1], nil
	}
	return truncate(ids, 1+cfg.MaxFallbackAttempts), nil
}

func truncate(ids []string, max int) []string {
	if max < 1 {
		max = 1
	}
	if len(ids) > max {
		return ids[:max]
	}
	return ids
}

// invoke calls one backend under the configured timeout and settles all
// accounting for the attempt before returning.
func (o *Orchestrator) invoke(ctx context.Context, entry registry.Entry, req *types.RefineRequest, cfg Config) (*types.RefineResult, *InvocationError) {
	cctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	id := entry.Metadata.ID
	start := time.Now()
	result, err := entry.Adapter.Refine(cctx, req)
	latency := time.Since(start)

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded)
		tag := "backend_error"
		if timedOut {
			tag = "timeout"
		}
		if cfg.MetricsEnabled {
			o.metrics.Record(id, false, latency, tag)
		}
		if o.tel != nil {
			o.tel.ObserveAttempt(id, false, float64(latency.Milliseconds()), 0)
		}
		o.registry.RecordHealth(id, false)
		o.health.OnFailure(id)
		o.logger.Error("backend invocation failed",
			"request_id", req.RequestID, "backend", id, "error", err, "timed_out", timedOut)
		return nil, &InvocationError{Backend: id, TimedOut: timedOut, Err: err}
	}

	outputUnits := result.OutputUnits
	if outputUnits <= 0 {
		outputUnits = req.EstimatedOutputUnits
	}
	costUSD := selection.EstimateCost(selection.Candidate{
		CostPerInputUnit:  entry.Metadata.CostPerInputUnit,
		CostPerOutputUnit: entry.Metadata.CostPerOutputUnit,
	}, req.EstimatedInputUnits, outputUnits)

	if cfg.MetricsEnabled {
		o.metrics.Record(id, true, latency, "")
	}
	if cfg.CostTrackingEnabled {
		o.costs.Track(id, req.EstimatedInputUnits, outputUnits, costUSD)
		if err := o.spend.RecordSpend(ctx, costUSD); err != nil {
			o.logger.Warn("failed to persist daily spend", "error", err)
		}
		o.checkBudget(ctx, cfg, req.RequestID)
	}
	if o.tel != nil {
		o.tel.ObserveAttempt(id, true, float64(latency.Milliseconds()), costUSD)
	}
	o.registry.RecordHealth(id, true)
	o.health.OnSuccess(id)

	result.Backend = id
	result.FromCache = false
	result.CostUSD = costUSD
	return result, nil
}

// checkBudget is log-only: an exceeded daily budget never blocks requests.
func (o *Orchestrator) checkBudget(ctx context.Context, cfg Config, requestID string) {
	if cfg.DailyBudgetUSD <= 0 {
		return
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	exceeded := o.costs.OverBudget(cfg.DailyBudgetUSD, midnight)
	if !exceeded {
		exceeded = o.spend.DailySpend(ctx) > cfg.DailyBudgetUSD
	}
	if exceeded {
		if o.tel != nil {
			o.tel.BudgetExceededTotal.Inc()
		}
		o.logger.Warn("daily budget exceeded",
			"request_id", requestID, "limit_usd", cfg.DailyBudgetUSD)
	}
}

// --- administration and introspection ---

// RegisterBackend adds or replaces a backend.
func (o *Orchestrator) RegisterBackend(adapter backend.Adapter, meta registry.Metadata) {
	o.registry.Register(adapter, meta)
}

// UnregisterBackend removes a backend. Returns false if unknown.
func (o *Orchestrator) UnregisterBackend(id string) bool {
	o.limiter.Reset(id)
	o.health.Reset(id)
	return o.registry.Unregister(id)
}

// Registry exposes the backend registry for enable/priority/weight mutations.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// SetStrategy switches the selection strategy.
func (o *Orchestrator) SetStrategy(name string) error {
	strategy, err := selection.ParseStrategy(name)
	if err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	cfg := o.config.Get()
	cfg.Strategy = strategy
	return o.config.Update(cfg)
}

// GetConfig returns a snapshot of the current configuration.
func (o *Orchestrator) GetConfig() Config { return o.config.Get() }

// UpdateConfig applies a full replacement configuration.
func (o *Orchestrator) UpdateConfig(cfg Config) error { return o.config.Update(cfg) }

// OnConfigChange registers a synchronous config listener.
func (o *Orchestrator) OnConfigChange(fn func(Config)) { o.config.OnChange(fn) }

// ExportConfig serializes the current configuration as JSON.
func (o *Orchestrator) ExportConfig() ([]byte, error) { return o.config.Export() }

// ImportConfig replaces the configuration from a JSON snapshot.
func (o *Orchestrator) ImportConfig(data []byte) error { return o.config.Import(data) }

// CacheStats returns the cache counters.
func (o *Orchestrator) CacheStats() cache.Stats { return o.cache.Stats() }

// ClearCache drops every cached result.
func (o *Orchestrator) ClearCache() { o.cache.Clear() }

// RateLimitStatuses returns a snapshot of every backend's admission window.
func (o *Orchestrator) RateLimitStatuses() []ratelimit.Status { return o.limiter.StatusAll() }

// ResetRateLimits clears all admission windows.
func (o *Orchestrator) ResetRateLimits() { o.limiter.ResetAll() }

// CostSummary aggregates cost entries at or after since.
func (o *Orchestrator) CostSummary(since time.Time) cost.Summary { return o.costs.GetSummary(since) }

// DailySpend returns today's persisted spend in USD.
func (o *Orchestrator) DailySpend(ctx context.Context) float64 { return o.spend.DailySpend(ctx) }

// BackendMetrics derives the metrics summary for one backend.
func (o *Orchestrator) BackendMetrics(id string, since time.Time) metrics.Summary {
	return o.metrics.BackendMetrics(id, since)
}

// AllMetrics derives summaries for every backend with recorded traffic.
func (o *Orchestrator) AllMetrics(since time.Time) map[string]metrics.Summary {
	return o.metrics.AllMetrics(since)
}

// MetricsLog exposes the raw metrics log for derived views.
func (o *Orchestrator) MetricsLog() *metrics.Log { return o.metrics }

// CheckAllBackendsHealth probes every registered backend concurrently and
// records the results in the registry.
func (o *Orchestrator) CheckAllBackendsHealth(ctx context.Context) map[string]bool {
	entries := o.registry.ListAll()

	var mu sync.Mutex
	results := make(map[string]bool, len(entries))
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e registry.Entry) {
			defer wg.Done()
			healthy := e.Adapter.HealthCheck(ctx)
			o.registry.RecordHealth(e.Metadata.ID, healthy)
			mu.Lock()
			results[e.Metadata.ID] = healthy
			mu.Unlock()
		}(e)
	}
	wg.Wait()
	return results
}
