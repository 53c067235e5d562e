package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/tollgate/adapters/metrics"
	"github.com/artpar/tollgate/adapters/pool"
	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/domain/license"
	"github.com/artpar/tollgate/domain/pipeline"
	"github.com/artpar/tollgate/domain/plan"
	"github.com/artpar/tollgate/domain/quota"
	"github.com/artpar/tollgate/domain/ratelimit"
	"github.com/artpar/tollgate/ports"
)

// PipelineConfig is the hot-reloadable part of pipeline behavior.
type PipelineConfig struct {
	Plans           []plan.Plan
	RateWindow      time.Duration
	Rates           ledger.Rates
	SlowThreshold   time.Duration
	DispatchTimeout time.Duration
}

// Normalized returns a copy with zero fields replaced by working defaults.
func (c PipelineConfig) Normalized() PipelineConfig {
	if len(c.Plans) == 0 {
		c.Plans = plan.Defaults()
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.Rates == (ledger.Rates{}) {
		c.Rates = ledger.Rates{InputPerK: 15, OutputPerK: 60}
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 5 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 30 * time.Second
	}
	return c
}

// Request is one inbound metered request.
type Request struct {
	Token     string
	Text      string
	RequestID string // adopted if the caller supplied one
}

// Result is the terminal outcome of a pipeline run.
type Result struct {
	RequestID  string
	State      pipeline.State
	Rejection  *pipeline.Rejection
	Completion *ports.CompletionResult
	Cost       int64
	Caller     license.Caller
	RateInfo   ratelimit.CheckResult
	Quota      quota.State
}

// Rejected reports whether the run ended in a rejection.
func (r Result) Rejected() bool {
	return r.State == pipeline.StateRejected
}

// PipelineService walks every metered request through the admission stages
// in fixed order: authenticate, rate check, quota reserve, dispatch, ledger.
// Stages only advance; a failed stage rejects and later stages never run.
type PipelineService struct {
	auth       *Authenticator
	rateLimits ports.RateLimitStore
	quotas     ports.QuotaStore
	recorder   ports.LedgerRecorder
	downstream ports.Completer
	clock      ports.Clock
	idGen      ports.IDGenerator
	metrics    *metrics.Collector
	logger     zerolog.Logger

	cfg atomic.Pointer[PipelineConfig]
}

// NewPipelineService creates the coordinator.
func NewPipelineService(
	auth *Authenticator,
	rateLimits ports.RateLimitStore,
	quotas ports.QuotaStore,
	recorder ports.LedgerRecorder,
	downstream ports.Completer,
	clock ports.Clock,
	idGen ports.IDGenerator,
	collector *metrics.Collector,
	logger zerolog.Logger,
	cfg PipelineConfig,
) *PipelineService {
	s := &PipelineService{
		auth:       auth,
		rateLimits: rateLimits,
		quotas:     quotas,
		recorder:   recorder,
		downstream: downstream,
		clock:      clock,
		idGen:      idGen,
		metrics:    collector,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
	s.SetConfig(cfg)
	return s
}

// SetConfig swaps the hot-reloadable configuration. In-flight requests keep
// the snapshot they started with.
func (s *PipelineService) SetConfig(cfg PipelineConfig) {
	n := cfg.Normalized()
	s.cfg.Store(&n)
}

// Config returns the current configuration snapshot.
func (s *PipelineService) Config() PipelineConfig {
	return *s.cfg.Load()
}

// run tracks one request's walk through the state machine.
type run struct {
	state pipeline.State
	log   zerolog.Logger
}

func (r *run) advance(to pipeline.State) {
	if !pipeline.CanAdvance(r.state, to) {
		r.log.Error().
			Str("from", r.state.String()).
			Str("to", to.String()).
			Msg("illegal pipeline transition")
		return
	}
	r.state = to
}

// Handle runs one request through the full pipeline and returns its terminal
// result. Client disconnects cancel ctx for the admission stages only; once
// the downstream call begins the measured cost must be accounted, so dispatch
// and ledgering run on a detached context.
func (s *PipelineService) Handle(ctx context.Context, req Request) Result {
	cfg := s.Config()
	start := s.clock.Now()

	reqID := req.RequestID
	if reqID == "" {
		reqID = s.idGen.New()
	}

	r := &run{
		state: pipeline.StateNew,
		log:   s.logger.With().Str("request_id", reqID).Logger(),
	}
	res := Result{RequestID: reqID}

	if s.metrics != nil {
		s.metrics.RequestsInFlight.Inc()
	}
	defer func() {
		s.finish(r, &res, start, cfg)
	}()

	// Stage 1: authenticate.
	caller, rej := s.auth.Authenticate(ctx, req.Token)
	if rej != nil {
		r.log.Debug().
			Str("token", license.Mask(req.Token)).
			Str("reason", rej.Reason).
			Msg("authentication rejected")
		s.rejectRun(r, &res, rej)
		return res
	}
	res.Caller = caller
	r.log = r.log.With().Str("caller_id", caller.ID).Str("tier", caller.Tier.String()).Logger()
	r.advance(pipeline.StateAuthenticated)

	callerPlan := plan.Find(cfg.Plans, caller.Tier)

	// Stage 2: per-caller rate check.
	rateCfg := ratelimit.Config{Limit: callerPlan.RateLimitPerMin, Window: cfg.RateWindow}
	check, err := s.rateLimits.Check(ctx, ratelimit.CallerIdentity(caller.ID), rateCfg, s.clock.Now())
	if err != nil {
		s.rejectRun(r, &res, s.storageRejection(r, "rate limit check failed", err))
		return res
	}
	res.RateInfo = check
	if !check.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimitHits.WithLabelValues(string(ratelimit.KindCaller)).Inc()
		}
		rej := reject(pipeline.ReasonRateLimited)
		rej.RetryAfter = ratelimit.RetryAfter(check, s.clock.Now())
		s.rejectRun(r, &res, rej)
		return res
	}
	r.advance(pipeline.StateRateChecked)

	// Stage 3: quota reserve (atomic compare-and-increment in the store).
	periodStart := quota.PeriodStart(s.clock.Now())
	decision, err := s.quotas.Reserve(ctx, caller.ID, periodStart, 1, callerPlan.CallsPerMonth)
	if err != nil {
		s.rejectRun(r, &res, s.storageRejection(r, "quota reservation failed", err))
		return res
	}
	res.Quota = decision.State
	if !decision.Reserved {
		s.rejectRun(r, &res, reject(pipeline.ReasonQuotaExceeded))
		return res
	}
	r.advance(pipeline.StateQuotaReserved)

	// Stage 4: dispatch. Detached from the client's cancellation; a caller
	// that disconnects after this point is still billed for the work done.
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.DispatchTimeout)
	defer cancel()

	dispatchStart := s.clock.Now()
	completion, dispatchErr := s.downstream.Complete(dispatchCtx, ports.CompletionRequest{
		CallerID:  caller.ID,
		RequestID: reqID,
		Text:      req.Text,
	})
	dispatchLatency := s.clock.Now().Sub(dispatchStart)
	if s.metrics != nil {
		s.metrics.DownstreamDuration.Observe(dispatchLatency.Seconds())
	}
	r.advance(pipeline.StateDispatched)

	incurred := completion.Volume.InputUnits > 0 || completion.Volume.OutputUnits > 0

	if dispatchErr != nil {
		if s.metrics != nil {
			s.metrics.DownstreamErrors.Inc()
		}
		r.log.Error().Err(dispatchErr).Dur("latency", dispatchLatency).Msg("downstream call failed")

		if !incurred {
			// Nothing was measured, so the reserved unit is handed back.
			if relErr := s.quotas.Release(dispatchCtx, caller.ID, periodStart, 1); relErr != nil {
				r.log.Error().Err(relErr).Msg("quota release failed; unit stays consumed until reconciliation")
			}
			s.rejectRun(r, &res, reject(pipeline.ReasonDownstreamFailure))
			return res
		}

		// Partial failure with measured volume: chargeable. The entry is
		// written with a failure outcome and the reservation stands.
		entry := s.ledgerEntry(reqID, caller.ID, completion.Volume, ledger.OutcomeFailure, dispatchLatency, cfg)
		s.record(r, &res, entry)
		s.rejectRun(r, &res, reject(pipeline.ReasonDownstreamFailure))
		return res
	}

	res.Completion = &completion

	// Stage 5: ledger. The recorder never blocks the response path.
	entry := s.ledgerEntry(reqID, caller.ID, completion.Volume, ledger.OutcomeSuccess, dispatchLatency, cfg)
	s.record(r, &res, entry)
	r.advance(pipeline.StateLedgered)

	r.advance(pipeline.StateCompleted)
	res.State = r.state
	return res
}

func (s *PipelineService) ledgerEntry(reqID, callerID string, vol ledger.Volume, outcome ledger.Outcome, latency time.Duration, cfg PipelineConfig) ledger.Entry {
	return ledger.Entry{
		ID:        s.idGen.New(),
		CallerID:  callerID,
		RequestID: reqID,
		Volume:    vol,
		Cost:      ledger.Cost(vol, cfg.Rates),
		Outcome:   outcome,
		LatencyMs: latency.Milliseconds(),
		Timestamp: s.clock.Now(),
	}
}

func (s *PipelineService) record(r *run, res *Result, entry ledger.Entry) {
	s.recorder.Record(entry)
	res.Cost = entry.Cost
	if s.metrics != nil {
		s.metrics.LedgerEntries.Inc()
		s.metrics.CostTotal.Add(float64(entry.Cost))
	}
	r.log.Info().
		Str("entry_id", entry.ID).
		Int64("input_units", entry.Volume.InputUnits).
		Int64("output_units", entry.Volume.OutputUnits).
		Int64("cost", entry.Cost).
		Str("outcome", string(entry.Outcome)).
		Msg("usage recorded")
}

func (s *PipelineService) rejectRun(r *run, res *Result, rej *pipeline.Rejection) {
	r.advance(pipeline.StateRejected)
	res.State = r.state
	res.Rejection = rej
	if s.metrics != nil {
		s.metrics.Rejections.WithLabelValues(rej.Reason).Inc()
	}
}

// storageRejection maps an infrastructure error from a store into a
// caller-facing rejection. Pool exhaustion is the one operational failure
// with its own reason; anything else is logged in full and surfaced as an
// unspecific rejection.
func (s *PipelineService) storageRejection(r *run, msg string, err error) *pipeline.Rejection {
	r.log.Error().Err(err).Msg(msg)
	if errors.Is(err, pool.ErrExhausted) {
		return reject(pipeline.ReasonPoolExhausted)
	}
	return &pipeline.Rejection{Reason: "internal_error", Message: pipeline.Message("internal_error")}
}

func (s *PipelineService) finish(r *run, res *Result, start time.Time, cfg PipelineConfig) {
	elapsed := s.clock.Now().Sub(start)
	outcome := "completed"
	tier := "unknown"
	if res.Caller.ID != "" {
		tier = res.Caller.Tier.String()
	}
	if res.Rejection != nil {
		outcome = res.Rejection.Reason
	}

	if s.metrics != nil {
		s.metrics.RequestsInFlight.Dec()
		s.metrics.RequestsTotal.WithLabelValues(outcome, tier).Inc()
		s.metrics.RequestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}

	evt := r.log.Info()
	if elapsed > cfg.SlowThreshold {
		if s.metrics != nil {
			s.metrics.SlowRequests.Inc()
		}
		evt = r.log.Warn().Bool("slow", true)
	}
	evt.Str("state", r.state.String()).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("request finished")
}
