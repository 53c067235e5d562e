// Package http provides HTTP handlers for the admission gateway.
package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/tollgate/app"
	"github.com/artpar/tollgate/domain/pipeline"
)

// ErrorResponseBody is the JSON error envelope returned on every rejection.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuggestRequest is the body of POST /v1/suggest.
type SuggestRequest struct {
	Text string `json:"reminder_text"`
}

// SuggestResponse is the success body of POST /v1/suggest.
type SuggestResponse struct {
	RequestID     string `json:"request_id"`
	SuggestedText string `json:"suggested_text"`
	Priority      string `json:"priority,omitempty"`
	DueHint       string `json:"due_time_suggestion,omitempty"`
	InputUnits    int64  `json:"input_tokens"`
	OutputUnits   int64  `json:"output_tokens"`
	Cost          int64  `json:"cost_cents"`
	Remaining     int64  `json:"quota_remaining"`
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	CallerID  string `json:"caller_id"`
	Tier      string `json:"tier"`
	Period    string `json:"period"`
	Consumed  int64  `json:"consumed"`
	Ceiling   int64  `json:"ceiling"`
	Remaining int64  `json:"remaining"`
	Calls     int64  `json:"calls"`
	CostTotal int64  `json:"cost_cents_total"`
}

// GatewayHandler wraps the pipeline and stats services for HTTP handling.
type GatewayHandler struct {
	pipe   *app.PipelineService
	stats  *app.StatsService
	logger zerolog.Logger
}

// NewGatewayHandler creates a new HTTP gateway handler.
func NewGatewayHandler(pipe *app.PipelineService, stats *app.StatsService, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{pipe: pipe, stats: stats, logger: logger}
}

// Suggest handles the metered completion endpoint.
func (h *GatewayHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Failed to read request body")
		return
	}

	var in SuggestRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Request body must be JSON")
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "reminder_text is required")
		return
	}

	result := h.pipe.Handle(r.Context(), app.Request{
		Token:     extractToken(r),
		Text:      in.Text,
		RequestID: middleware.GetReqID(r.Context()),
	})

	w.Header().Set("X-Request-ID", result.RequestID)
	if result.RateInfo.Limit > 0 {
		setRateHeaders(w, result.RateInfo.Limit, result.RateInfo.Remaining, result.RateInfo.ResetAt)
	}

	if result.Rejected() {
		rej := result.Rejection
		if rej.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(rej.RetryAfter))
		}
		writeError(w, pipeline.Status(rej.Reason), rej.Reason, rej.Message)
		return
	}

	resp := SuggestResponse{
		RequestID:     result.RequestID,
		SuggestedText: result.Completion.SuggestedText,
		Priority:      result.Completion.Priority,
		DueHint:       result.Completion.DueHint,
		InputUnits:    result.Completion.Volume.InputUnits,
		OutputUnits:   result.Completion.Volume.OutputUnits,
		Cost:          result.Cost,
		Remaining:     result.Quota.Remaining(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Usage handles the per-caller usage reporting endpoint.
func (h *GatewayHandler) Usage(w http.ResponseWriter, r *http.Request) {
	usage, rej, err := h.stats.Usage(r.Context(), extractToken(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("usage lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Usage lookup failed")
		return
	}
	if rej != nil {
		writeError(w, pipeline.Status(rej.Reason), rej.Reason, rej.Message)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		CallerID:  usage.CallerID,
		Tier:      usage.Tier,
		Period:    usage.PeriodStart,
		Consumed:  usage.Consumed,
		Ceiling:   usage.Ceiling,
		Remaining: usage.Remaining,
		Calls:     usage.Summary.Calls,
		CostTotal: usage.Summary.CostTotal,
	})
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	ready func() error
}

// NewHealthHandler creates a health handler. ready reports storage readiness
// and may be nil.
func NewHealthHandler(ready func() error) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks if the service is ready to handle traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterConfig carries optional router wiring.
type RouterConfig struct {
	Throttle       *Throttle
	MetricsEnabled bool
	MetricsPath    string
}

// NewRouter creates the main HTTP router.
func NewRouter(gateway *GatewayHandler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health endpoints (no auth, no throttle)
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.Throttle != nil {
			r.Use(cfg.Throttle.Middleware)
		}
		r.Post("/v1/suggest", gateway.Suggest)
		r.Get("/v1/usage", gateway.Usage)
	})

	return r
}

// NewLoggingMiddleware logs each request after it completes.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// extractToken pulls the license token from the request.
func extractToken(r *http.Request) string {
	// Try Authorization header first (Bearer token)
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	// Try X-License-Token header
	if tok := r.Header.Get("X-License-Token"); tok != "" {
		return tok
	}

	return ""
}

// extractIP returns the client source address for throttling.
func extractIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func setRateHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponseBody{Error: ErrorDetail{Code: code, Message: message}})
}
