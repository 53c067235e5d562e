// Package license provides license token value types and pure validation
// functions. This package has NO dependencies on I/O.
package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/artpar/tollgate/domain/plan"
	"golang.org/x/crypto/bcrypt"
)

// TokenPrefix is the fixed prefix of every raw license token.
const TokenPrefix = "lk_"

// LookupPrefixLen is how many leading characters of the raw token are stored
// in clear for database lookup.
const LookupPrefixLen = 12

// maskLen is the fixed length of the masked form written to logs.
const maskLen = 8

// Caller is the identity resolved from a license token (immutable value type).
// Callers are never hard-deleted; revocation sets RevokedAt.
type Caller struct {
	ID        string
	Email     string
	Tier      plan.Tier
	TokenHash []byte     // bcrypt hash of the full raw token
	Prefix    string     // first LookupPrefixLen chars of the raw token
	ExpiresAt *time.Time // nil = never expires
	RevokedAt *time.Time // nil = active
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationResult is the outcome of validating a resolved caller (value type).
type ValidationResult struct {
	Valid  bool
	Reason string // populated only when Valid=false
}

// Reasons for authentication failure. Each maps to a distinct caller-facing error.
const (
	ReasonMissing = "missing_token"
	ReasonUnknown = "unknown_token"
	ReasonExpired = "token_expired"
	ReasonRevoked = "caller_revoked"
)

// Validate checks a resolved caller at the given time.
// Expiry is exclusive: a token expiring at T is invalid for any attempt at or
// after T. This is a PURE function.
func Validate(c Caller, now time.Time) ValidationResult {
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ValidationResult{Reason: ReasonExpired}
	}
	if c.RevokedAt != nil {
		return ValidationResult{Reason: ReasonRevoked}
	}
	return ValidationResult{Valid: true}
}

// ValidateFormat checks that a raw token is well formed and returns the
// lookup prefix. This is a PURE function.
func ValidateFormat(rawToken string) (prefix string, ok bool) {
	if len(rawToken) < len(TokenPrefix)+64 {
		return "", false
	}
	if rawToken[:len(TokenPrefix)] != TokenPrefix {
		return "", false
	}
	return rawToken[:LookupPrefixLen], true
}

// Match reports whether a raw token corresponds to the caller's stored hash.
func Match(c Caller, rawToken string) bool {
	return bcrypt.CompareHashAndPassword(c.TokenHash, []byte(rawToken)) == nil
}

// Mask returns a fixed-length masked form of a token, safe for logs.
// The full token value must never be written to diagnostic output.
// This is a PURE function.
func Mask(rawToken string) string {
	if len(rawToken) < maskLen {
		return "********"
	}
	return rawToken[:maskLen] + "..."
}

// Generate creates a new raw license token and its stored representation.
// Returns the raw token (shown to the holder exactly once) and the hash and
// lookup prefix to persist.
func Generate() (rawToken string, hash []byte, prefix string) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	rawToken = TokenPrefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawToken), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt failed: %v", err))
	}
	return rawToken, hash, rawToken[:LookupPrefixLen]
}

// WithTier returns a copy of the caller with the tier set.
func (c Caller) WithTier(t plan.Tier) Caller {
	c.Tier = t
	return c
}

// Revoked reports whether the caller has been soft-revoked.
func (c Caller) Revoked() bool {
	return c.RevokedAt != nil
}
