// Package plans is the single source of truth for subscription tiers and the
// check-scheduling policy derived from them. Every job that filters tenants
// by plan goes through Normalize and the IsDue helpers; nothing else may
// interpret plan strings.
package plans

import (
	"strings"
	"time"
)

// Tier is a canonical subscription tier.
type Tier string

const (
	TierFree     Tier = "free"
	TierScout    Tier = "scout"
	TierCommand  Tier = "command"
	TierDominate Tier = "dominate"
)

// legacyAliases maps grandfathered plan names onto canonical tiers.
var legacyAliases = map[string]Tier{
	"starter": TierScout,
	"growth":  TierCommand,
	"pro":     TierDominate,
	"agency":  TierDominate,
}

// Normalize maps a raw plan string to a canonical tier. Unknown plans map to
// free, which is never due — misconfigured tenants must not burn probe budget.
func Normalize(raw string) Tier {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch Tier(p) {
	case TierFree, TierScout, TierCommand, TierDominate:
		return Tier(p)
	}
	if t, ok := legacyAliases[p]; ok {
		return t
	}
	return TierFree
}

// IsPaid reports whether the tier is a paying one.
func IsPaid(t Tier) bool {
	return t == TierScout || t == TierCommand || t == TierDominate
}

// IsDueDaily reports whether a site on the given tier is due for a check on
// the given day. Scout checks on the weekly anchor day (Monday), command
// every third calendar day, dominate every day.
func IsDueDaily(t Tier, now time.Time) bool {
	switch t {
	case TierScout:
		return now.Weekday() == time.Monday
	case TierCommand:
		return now.YearDay()%3 == 0
	case TierDominate:
		return true
	default:
		return false
	}
}

// IsDueHourly reports whether the tier participates in the hourly cadence.
func IsDueHourly(t Tier) bool {
	return t == TierDominate
}
