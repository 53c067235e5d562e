// Package plan provides plan tier value types and pure lookup functions.
package plan

// Tier identifies a subscription plan. Tiers are ordered: Free < Indie < Pro < Team.
type Tier int

const (
	TierFree Tier = iota
	TierIndie
	TierPro
	TierTeam
)

// String returns the canonical lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierIndie:
		return "indie"
	case TierPro:
		return "pro"
	case TierTeam:
		return "team"
	default:
		return "unknown"
	}
}

// ParseTier converts a tier name to a Tier.
// This is a PURE function.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "free":
		return TierFree, true
	case "indie":
		return TierIndie, true
	case "pro":
		return TierPro, true
	case "team":
		return TierTeam, true
	}
	return TierFree, false
}

// AtLeast reports whether tier t is at or above the given tier.
// This is a PURE function.
func (t Tier) AtLeast(other Tier) bool {
	return t >= other
}

// Plan describes the limits attached to one tier (immutable value type).
type Plan struct {
	Tier             Tier
	Name             string
	CallsPerMonth    int64 // metered calls per billing period; -1 = unlimited
	RateLimitPerMin  int   // admission ceiling per 60s window
	PriceMonthly     int64 // cents
}

// Defaults returns the built-in plan table, ordered by tier.
// Values can be overridden from configuration at wiring time.
// This is a PURE function.
func Defaults() []Plan {
	return []Plan{
		{Tier: TierFree, Name: "Free", CallsPerMonth: 5, RateLimitPerMin: 10, PriceMonthly: 0},
		{Tier: TierIndie, Name: "Indie", CallsPerMonth: 100, RateLimitPerMin: 30, PriceMonthly: 500},
		{Tier: TierPro, Name: "Pro", CallsPerMonth: 1000, RateLimitPerMin: 60, PriceMonthly: 1500},
		{Tier: TierTeam, Name: "Team", CallsPerMonth: 5000, RateLimitPerMin: 120, PriceMonthly: 4900},
	}
}

// Find returns the plan for a tier from a plan list.
// Falls back to the Free defaults when the tier is absent.
// This is a PURE function.
func Find(plans []Plan, t Tier) Plan {
	for _, p := range plans {
		if p.Tier == t {
			return p
		}
	}
	return Defaults()[0]
}

// IsUnlimited reports whether the plan has no monthly ceiling.
// This is a PURE function.
func IsUnlimited(p Plan) bool {
	return p.CallsPerMonth < 0
}
