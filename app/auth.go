// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"

	"github.com/artpar/tollgate/domain/license"
	"github.com/artpar/tollgate/domain/pipeline"
	"github.com/artpar/tollgate/ports"
)

// Authenticator resolves license tokens to callers. This stage is read-only:
// it never mutates the caller record.
type Authenticator struct {
	callers ports.CallerStore
	clock   ports.Clock
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(callers ports.CallerStore, clock ports.Clock) *Authenticator {
	return &Authenticator{callers: callers, clock: clock}
}

// Authenticate validates a raw token in order: presence, lookup, expiry,
// revocation. Each failure produces a distinct rejection reason so the
// caller-facing error is specific.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (license.Caller, *pipeline.Rejection) {
	if rawToken == "" {
		return license.Caller{}, reject(pipeline.ReasonMissingToken)
	}

	prefix, ok := license.ValidateFormat(rawToken)
	if !ok {
		return license.Caller{}, reject(pipeline.ReasonUnknownToken)
	}

	candidates, err := a.callers.GetByPrefix(ctx, prefix)
	if err != nil || len(candidates) == 0 {
		return license.Caller{}, reject(pipeline.ReasonUnknownToken)
	}

	var caller license.Caller
	found := false
	for _, c := range candidates {
		if license.Match(c, rawToken) {
			caller = c
			found = true
			break
		}
	}
	if !found {
		return license.Caller{}, reject(pipeline.ReasonUnknownToken)
	}

	validation := license.Validate(caller, a.clock.Now())
	if !validation.Valid {
		switch validation.Reason {
		case license.ReasonExpired:
			return license.Caller{}, reject(pipeline.ReasonTokenExpired)
		case license.ReasonRevoked:
			return license.Caller{}, reject(pipeline.ReasonCallerRevoked)
		default:
			return license.Caller{}, reject(pipeline.ReasonUnknownToken)
		}
	}

	return caller, nil
}

func reject(reason string) *pipeline.Rejection {
	return &pipeline.Rejection{
		Reason:  reason,
		Message: pipeline.Message(reason),
	}
}
