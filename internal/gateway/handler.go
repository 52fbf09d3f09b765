package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/refinery/internal/backend"
	"github.com/af-corp/refinery/internal/config"
	"github.com/af-corp/refinery/internal/httputil"
	"github.com/af-corp/refinery/internal/orchestrator"
	"github.com/af-corp/refinery/internal/registry"
	"github.com/af-corp/refinery/internal/types"
)

// Handler holds dependencies for the refinery HTTP handlers.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, logger: logger}
}

// Routes builds the full HTTP surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)

	r.Get("/refinery/v1/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/refine", h.Refine)

		r.Route("/backends", func(r chi.Router) {
			r.Get("/", h.ListBackends)
			r.Post("/", h.RegisterBackend)
			r.Delete("/{id}", h.UnregisterBackend)
			r.Patch("/{id}", h.UpdateBackend)
			r.Post("/health-check", h.HealthCheckBackends)
		})

		r.Get("/config", h.ExportConfig)
		r.Put("/config", h.ImportConfig)
		r.Put("/strategy", h.SetStrategy)

		r.Get("/cache", h.CacheStats)
		r.Delete("/cache", h.ClearCache)

		r.Get("/ratelimits", h.RateLimits)
		r.Delete("/ratelimits", h.ResetRateLimits)

		r.Get("/costs", h.Costs)
		r.Get("/metrics", h.Metrics)
		r.Get("/metrics/{id}", h.BackendMetrics)
	})

	return r
}

// Refine handles POST /v1/refine.
func (h *Handler) Refine(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	receivedAt := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var req types.RefineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if len(req.Schema) == 0 {
		httputil.WriteBadRequestError(w, reqID, "schema is required")
		return
	}
	req.RequestID = reqID
	req.ReceivedAt = receivedAt

	result, err := h.orch.Refine(r.Context(), &req)
	if err != nil {
		h.writeRefineError(w, reqID, err)
		return
	}

	h.logger.Info("refine completed",
		"request_id", reqID,
		"backend", result.Backend,
		"from_cache", result.FromCache,
		"output_units", result.OutputUnits,
		"estimated_cost_usd", result.CostUSD,
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) writeRefineError(w http.ResponseWriter, reqID string, err error) {
	var limited *orchestrator.RateLimitedError
	var exhausted *orchestrator.ExhaustedError

	switch {
	case errors.Is(err, orchestrator.ErrNoBackends):
		httputil.WriteServiceUnavailableError(w, reqID, err.Error())
	case errors.As(err, &limited):
		httputil.WriteRateLimitError(w, reqID, limited.Error(), limited.RetryAfter)
	case errors.As(err, &exhausted):
		h.logger.Error("all backends exhausted", "request_id", reqID, "attempts", exhausted.Attempts)
		httputil.WriteBadGatewayError(w, reqID, exhausted.Error())
	default:
		h.logger.Error("refine failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Internal error")
	}
}

// backendView is the read representation of a registered backend.
type backendView struct {
	registry.Metadata
	HealthKnown     bool       `json:"health_known"`
	Healthy         bool       `json:"healthy"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
}

// ListBackends handles GET /v1/backends. The optional feature parameter
// restricts the list to enabled backends advertising that feature.
func (h *Handler) ListBackends(w http.ResponseWriter, r *http.Request) {
	entries := h.orch.Registry().ListAll()
	if feature := r.URL.Query().Get("feature"); feature != "" {
		matching := h.orch.Registry().ListByFeature(feature)
		keep := make(map[string]bool, len(matching))
		for _, id := range matching {
			keep[id] = true
		}
		filtered := entries[:0]
		for _, e := range entries {
			if keep[e.Metadata.ID] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	views := make([]backendView, 0, len(entries))
	for _, e := range entries {
		v := backendView{Metadata: e.Metadata, HealthKnown: e.HealthKnown, Healthy: e.Healthy}
		if !e.LastHealthCheck.IsZero() {
			t := e.LastHealthCheck
			v.LastHealthCheck = &t
		}
		views = append(views, v)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"backends": views})
}

// registerBackendRequest mirrors the backends file entry, as JSON.
type registerBackendRequest struct {
	ID                   string            `json:"id"`
	Type                 string            `json:"type"`
	BaseURL              string            `json:"base_url"`
	APIKey               string            `json:"api_key"`
	Model                string            `json:"model"`
	Headers              map[string]string `json:"headers,omitempty"`
	CostPerInputUnit     float64           `json:"cost_per_input_unit"`
	CostPerOutputUnit    float64           `json:"cost_per_output_unit"`
	MaxRequestsPerMinute int               `json:"max_requests_per_minute"`
	MaxUnitsPerRequest   int               `json:"max_units_per_request"`
	Features             []string          `json:"features,omitempty"`
	Priority             int               `json:"priority"`
	Weight               float64           `json:"weight"`
	Enabled              *bool             `json:"enabled"`
}

// RegisterBackend handles POST /v1/backends.
func (h *Handler) RegisterBackend(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req registerBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if req.ID == "" {
		httputil.WriteBadRequestError(w, reqID, "id is required")
		return
	}

	adapter, err := backend.New(req.ID, config.BackendConfig{
		Type:    req.Type,
		BaseURL: req.BaseURL,
		APIKey:  req.APIKey,
		Model:   req.Model,
		Headers: req.Headers,
	}, nil)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	h.orch.RegisterBackend(adapter, registry.Metadata{
		ID:                   req.ID,
		CostPerInputUnit:     req.CostPerInputUnit,
		CostPerOutputUnit:    req.CostPerOutputUnit,
		MaxRequestsPerMinute: req.MaxRequestsPerMinute,
		MaxUnitsPerRequest:   req.MaxUnitsPerRequest,
		Features:             req.Features,
		Priority:             req.Priority,
		Weight:               req.Weight,
		Enabled:              enabled,
	})
	h.logger.Info("backend registered", "request_id", reqID, "backend", req.ID, "type", req.Type)
	w.WriteHeader(http.StatusCreated)
}

// UnregisterBackend handles DELETE /v1/backends/{id}.
func (h *Handler) UnregisterBackend(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if !h.orch.UnregisterBackend(id) {
		httputil.WriteNotFoundError(w, reqID, "unknown backend "+id)
		return
	}
	h.logger.Info("backend unregistered", "request_id", reqID, "backend", id)
	w.WriteHeader(http.StatusNoContent)
}

// updateBackendRequest carries partial mutations; absent fields are left
// unchanged.
type updateBackendRequest struct {
	Enabled  *bool    `json:"enabled"`
	Priority *int     `json:"priority"`
	Weight   *float64 `json:"weight"`
}

// UpdateBackend handles PATCH /v1/backends/{id}.
func (h *Handler) UpdateBackend(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req updateBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	reg := h.orch.Registry()
	ok := true
	if req.Enabled != nil {
		ok = reg.SetEnabled(id, *req.Enabled) && ok
	}
	if req.Priority != nil {
		ok = reg.SetPriority(id, *req.Priority) && ok
	}
	if req.Weight != nil {
		ok = reg.SetWeight(id, *req.Weight) && ok
	}
	if !ok {
		httputil.WriteNotFoundError(w, reqID, "unknown backend "+id)
		return
	}

	entry, _ := reg.Get(id)
	httputil.WriteJSON(w, http.StatusOK, entry.Metadata)
}

// HealthCheckBackends handles POST /v1/backends/health-check.
func (h *Handler) HealthCheckBackends(w http.ResponseWriter, r *http.Request) {
	results := h.orch.CheckAllBackendsHealth(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ExportConfig handles GET /v1/config.
func (h *Handler) ExportConfig(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	data, err := h.orch.ExportConfig()
	if err != nil {
		httputil.WriteInternalError(w, reqID, "Failed to export configuration")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// ImportConfig handles PUT /v1/config.
func (h *Handler) ImportConfig(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	if err := h.orch.ImportConfig(data); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}
	h.logger.Info("configuration imported", "request_id", reqID)
	httputil.WriteJSON(w, http.StatusOK, h.orch.GetConfig())
}

// SetStrategy handles PUT /v1/strategy.
func (h *Handler) SetStrategy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if err := h.orch.SetStrategy(req.Strategy); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}
	h.logger.Info("strategy changed", "request_id", reqID, "strategy", req.Strategy)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"strategy": req.Strategy})
}

// CacheStats handles GET /v1/cache.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.orch.CacheStats())
}

// ClearCache handles DELETE /v1/cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.orch.ClearCache()
	h.logger.Info("cache cleared", "request_id", RequestIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// RateLimits handles GET /v1/ratelimits.
func (h *Handler) RateLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"backends": h.orch.RateLimitStatuses()})
}

// ResetRateLimits handles DELETE /v1/ratelimits.
func (h *Handler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	h.orch.ResetRateLimits()
	h.logger.Info("rate limit windows reset", "request_id", RequestIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Costs handles GET /v1/costs. The optional since parameter is RFC 3339.
func (h *Handler) Costs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	since, ok := parseSince(r)
	if !ok {
		httputil.WriteBadRequestError(w, reqID, "since must be RFC 3339")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"summary":         h.orch.CostSummary(since),
		"daily_spend_usd": h.orch.DailySpend(r.Context()),
	})
}

// Metrics handles GET /v1/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	since, ok := parseSince(r)
	if !ok {
		httputil.WriteBadRequestError(w, reqID, "since must be RFC 3339")
		return
	}

	log := h.orch.MetricsLog()
	body := map[string]any{
		"backends": h.orch.AllMetrics(since),
		"top":      log.TopBySuccessRate(5),
	}
	if fastest, ok := log.FastestByAvgLatency(); ok {
		body["fastest"] = fastest
	}
	if slowest, ok := log.SlowestByAvgLatency(); ok {
		body["slowest"] = slowest
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// BackendMetrics handles GET /v1/metrics/{id}. The optional interval
// parameter (Go duration) adds a success/failure timeline.
func (h *Handler) BackendMetrics(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	since, ok := parseSince(r)
	if !ok {
		httputil.WriteBadRequestError(w, reqID, "since must be RFC 3339")
		return
	}

	body := map[string]any{
		"summary": h.orch.BackendMetrics(id, since),
		"errors":  h.orch.MetricsLog().ErrorBreakdown(id),
	}
	if raw := r.URL.Query().Get("interval"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			httputil.WriteBadRequestError(w, reqID, "interval must be a positive duration")
			return
		}
		body["timeline"] = h.orch.MetricsLog().Timeline(id, interval)
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// Health handles GET /refinery/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"backends": h.orch.Registry().Len(),
	})
}

func parseSince(r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
