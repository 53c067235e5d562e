package license_test

import (
	"strings"
	"testing"
	"time"

	"github.com/artpar/tollgate/domain/license"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestValidate_ActiveCaller(t *testing.T) {
	c := license.Caller{ID: "c1"}

	result := license.Validate(c, now)

	if !result.Valid {
		t.Errorf("expected valid, got reason %q", result.Reason)
	}
}

func TestValidate_ExpiryIsExclusive(t *testing.T) {
	// A token expiring exactly at T is invalid at T.
	exp := now
	c := license.Caller{ID: "c1", ExpiresAt: &exp}

	result := license.Validate(c, now)

	if result.Valid {
		t.Error("expected token expiring at now to be invalid")
	}
	if result.Reason != license.ReasonExpired {
		t.Errorf("reason = %q, want %q", result.Reason, license.ReasonExpired)
	}
}

func TestValidate_BeforeExpiry(t *testing.T) {
	exp := now.Add(time.Second)
	c := license.Caller{ID: "c1", ExpiresAt: &exp}

	if result := license.Validate(c, now); !result.Valid {
		t.Errorf("expected valid before expiry, got %q", result.Reason)
	}
}

func TestValidate_Revoked(t *testing.T) {
	rev := now.Add(-time.Hour)
	c := license.Caller{ID: "c1", RevokedAt: &rev}

	result := license.Validate(c, now)

	if result.Valid {
		t.Error("expected revoked caller to be invalid")
	}
	if result.Reason != license.ReasonRevoked {
		t.Errorf("reason = %q, want %q", result.Reason, license.ReasonRevoked)
	}
}

func TestValidate_ExpiredBeatsRevoked(t *testing.T) {
	exp := now.Add(-time.Hour)
	rev := now.Add(-time.Minute)
	c := license.Caller{ID: "c1", ExpiresAt: &exp, RevokedAt: &rev}

	result := license.Validate(c, now)

	if result.Reason != license.ReasonExpired {
		t.Errorf("reason = %q, want %q", result.Reason, license.ReasonExpired)
	}
}

func TestGenerate_RoundTrip(t *testing.T) {
	rawToken, hash, prefix := license.Generate()

	if !strings.HasPrefix(rawToken, license.TokenPrefix) {
		t.Errorf("token %q missing prefix %q", rawToken, license.TokenPrefix)
	}
	if prefix != rawToken[:license.LookupPrefixLen] {
		t.Errorf("prefix = %q, want %q", prefix, rawToken[:license.LookupPrefixLen])
	}

	c := license.Caller{TokenHash: hash}
	if !license.Match(c, rawToken) {
		t.Error("generated token does not match its own hash")
	}
	if license.Match(c, rawToken+"x") {
		t.Error("tampered token matched the hash")
	}
}

func TestValidateFormat(t *testing.T) {
	rawToken, _, _ := license.Generate()

	prefix, ok := license.ValidateFormat(rawToken)
	if !ok {
		t.Fatal("expected generated token to be well formed")
	}
	if prefix != rawToken[:license.LookupPrefixLen] {
		t.Errorf("prefix = %q", prefix)
	}

	if _, ok := license.ValidateFormat("lk_short"); ok {
		t.Error("expected short token to be rejected")
	}
	if _, ok := license.ValidateFormat(strings.Repeat("x", 80)); ok {
		t.Error("expected token without prefix to be rejected")
	}
}

func TestMask_NeverRevealsToken(t *testing.T) {
	rawToken, _, _ := license.Generate()

	masked := license.Mask(rawToken)

	if len(masked) != 11 { // 8 chars + "..."
		t.Errorf("masked length = %d, want 11", len(masked))
	}
	if strings.Contains(masked, rawToken[12:]) {
		t.Error("mask leaked token material")
	}
}

func TestMask_ShortInput(t *testing.T) {
	if masked := license.Mask("ab"); masked != "********" {
		t.Errorf("masked = %q", masked)
	}
}
