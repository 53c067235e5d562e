package app

import (
	"context"

	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/domain/pipeline"
	"github.com/artpar/tollgate/domain/plan"
	"github.com/artpar/tollgate/domain/quota"
	"github.com/artpar/tollgate/ports"
)

// Usage is a caller's view of their current billing period.
type Usage struct {
	CallerID    string
	Tier        string
	PeriodStart string
	Consumed    int64
	Ceiling     int64
	Remaining   int64
	Summary     ledger.Summary
}

// StatsService serves per-caller usage reporting. Reads only; it never
// touches the admission counters.
type StatsService struct {
	auth    *Authenticator
	quotas  ports.QuotaStore
	ledgers ports.LedgerStore
	clock   ports.Clock
	plans   func() []plan.Plan
}

// NewStatsService creates a stats service. plans supplies the current plan
// table so hot reloads are visible without restarting.
func NewStatsService(auth *Authenticator, quotas ports.QuotaStore, ledgers ports.LedgerStore, clock ports.Clock, plans func() []plan.Plan) *StatsService {
	return &StatsService{auth: auth, quotas: quotas, ledgers: ledgers, clock: clock, plans: plans}
}

// Usage authenticates the token and returns the caller's current-period
// usage, combining the live quota counter with the ledger aggregate.
func (s *StatsService) Usage(ctx context.Context, rawToken string) (Usage, *pipeline.Rejection, error) {
	caller, rej := s.auth.Authenticate(ctx, rawToken)
	if rej != nil {
		return Usage{}, rej, nil
	}

	now := s.clock.Now()
	periodStart, periodEnd := quota.PeriodBounds(now)

	state, err := s.quotas.Get(ctx, caller.ID, periodStart)
	if err != nil {
		return Usage{}, nil, err
	}

	callerPlan := plan.Find(s.plans(), caller.Tier)
	if state.Ceiling == 0 {
		// Unseen period: report the plan ceiling rather than zero.
		state.Ceiling = callerPlan.CallsPerMonth
	}

	summary, err := s.ledgers.Summarize(ctx, caller.ID, periodStart, periodEnd)
	if err != nil {
		return Usage{}, nil, err
	}

	return Usage{
		CallerID:    caller.ID,
		Tier:        caller.Tier.String(),
		PeriodStart: quota.PeriodKey(periodStart),
		Consumed:    state.Consumed,
		Ceiling:     state.Ceiling,
		Remaining:   state.Remaining(),
		Summary:     summary,
	}, nil, nil
}
