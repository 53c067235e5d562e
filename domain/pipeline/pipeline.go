// Package pipeline provides the per-request state machine for the admission
// pipeline. States advance one-way; no state is re-entered.
package pipeline

// State is a stage of the request lifecycle.
type State int

const (
	StateNew State = iota
	StateAuthenticated
	StateRateChecked
	StateQuotaReserved
	StateDispatched
	StateLedgered
	StateCompleted
	StateRejected // terminal, reachable from any non-terminal state
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAuthenticated:
		return "authenticated"
	case StateRateChecked:
		return "rate_checked"
	case StateQuotaReserved:
		return "quota_reserved"
	case StateDispatched:
		return "dispatched"
	case StateLedgered:
		return "ledgered"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the request.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}

// CanAdvance reports whether moving from `from` to `to` is a legal
// transition: either the next stage in order, or Rejected from any
// non-terminal state. This is a PURE function.
func CanAdvance(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateRejected {
		return true
	}
	return to == from+1
}

// Reject reason kinds, one per distinguishable rejection.
const (
	ReasonMissingToken      = "missing_token"
	ReasonUnknownToken      = "unknown_token"
	ReasonTokenExpired      = "token_expired"
	ReasonCallerRevoked     = "caller_revoked"
	ReasonRateLimited       = "rate_limited"
	ReasonQuotaExceeded     = "quota_exceeded"
	ReasonPoolExhausted     = "pool_exhausted"
	ReasonDownstreamFailure = "downstream_failure"
)

// Rejection is a caller-facing terminal outcome (value type).
type Rejection struct {
	Reason     string
	Message    string
	RetryAfter int // seconds; only set for rate_limited
}

// Status maps a rejection reason to an HTTP status code.
// This is a PURE function.
func Status(reason string) int {
	switch reason {
	case ReasonMissingToken, ReasonUnknownToken, ReasonTokenExpired:
		return 401
	case ReasonCallerRevoked:
		return 403
	case ReasonRateLimited:
		return 429
	case ReasonQuotaExceeded:
		return 402
	case ReasonPoolExhausted:
		return 503
	case ReasonDownstreamFailure:
		return 502
	default:
		return 500
	}
}

// Message returns the default caller-facing message for a reason.
// This is a PURE function.
func Message(reason string) string {
	switch reason {
	case ReasonMissingToken:
		return "License token is required"
	case ReasonUnknownToken:
		return "License token is not recognized"
	case ReasonTokenExpired:
		return "License token has expired"
	case ReasonCallerRevoked:
		return "License has been revoked"
	case ReasonRateLimited:
		return "Too many requests. Please try again later."
	case ReasonQuotaExceeded:
		return "Monthly quota exhausted for this plan"
	case ReasonPoolExhausted:
		return "Service is overloaded. Please try again later."
	case ReasonDownstreamFailure:
		return "Completion service is unavailable"
	default:
		return "Request rejected"
	}
}
