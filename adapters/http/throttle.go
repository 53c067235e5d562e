package http

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/artpar/tollgate/adapters/metrics"
	"github.com/artpar/tollgate/domain/pipeline"
	"github.com/artpar/tollgate/domain/ratelimit"
	"github.com/artpar/tollgate/ports"
)

// Throttle applies a fixed-window limit per source address before any
// authentication runs. It shields the token lookup path from anonymous
// floods; the per-caller plan limit is enforced later in the pipeline.
type Throttle struct {
	store   ports.RateLimitStore
	clock   ports.Clock
	cfg     func() ratelimit.Config
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewThrottle creates the per-address throttle. cfg supplies the current
// limit so hot reloads apply without restart.
func NewThrottle(store ports.RateLimitStore, clock ports.Clock, cfg func() ratelimit.Config, collector *metrics.Collector, logger zerolog.Logger) *Throttle {
	return &Throttle{
		store:   store,
		clock:   clock,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With().Str("component", "throttle").Logger(),
	}
}

// Middleware is the chi middleware form of the throttle.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := t.clock.Now()
		addr := extractIP(r)

		check, err := t.store.Check(r.Context(), ratelimit.AddressIdentity(addr), t.cfg(), now)
		if err != nil {
			// The throttle is protective, not billable. On store trouble
			// let the request through rather than fail closed.
			t.logger.Error().Err(err).Str("addr", addr).Msg("throttle check failed")
			next.ServeHTTP(w, r)
			return
		}

		setRateHeaders(w, check.Limit, check.Remaining, check.ResetAt)

		if !check.Allowed {
			if t.metrics != nil {
				t.metrics.RateLimitHits.WithLabelValues(string(ratelimit.KindAddress)).Inc()
			}
			retry := ratelimit.RetryAfter(check, now)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, pipeline.ReasonRateLimited,
				pipeline.Message(pipeline.ReasonRateLimited))
			return
		}

		next.ServeHTTP(w, r)
	})
}
