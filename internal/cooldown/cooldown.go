// Package cooldown suppresses repeated notifications of the same alert tier.
package cooldown

import (
	"fmt"
	"time"

	"github.com/m2rcus/hypemonitoring/internal/classify"
)

// Gate tracks the last firing of each tier on an independent clock. The zero
// state (no tier ever fired) is what New returns; nothing needs tearing down.
// A Gate is not safe for concurrent use.
type Gate struct {
	cooldowns map[classify.Tier]time.Duration
	lastFired map[classify.Tier]time.Time
}

// New builds a gate with one cooldown per firing tier.
func New(cooldowns map[classify.Tier]time.Duration) (*Gate, error) {
	for _, tier := range []classify.Tier{classify.TierRegular, classify.TierCritical} {
		d, ok := cooldowns[tier]
		if !ok {
			return nil, fmt.Errorf("cooldown for tier %s not configured", tier)
		}
		if d <= 0 {
			return nil, fmt.Errorf("cooldown for tier %s must be positive, got %s", tier, d)
		}
	}

	g := &Gate{
		cooldowns: make(map[classify.Tier]time.Duration, len(cooldowns)),
		lastFired: make(map[classify.Tier]time.Time),
	}
	for tier, d := range cooldowns {
		g.cooldowns[tier] = d
	}
	return g, nil
}

// Admit reports whether tier may fire at now. TierNone is never gated. Other
// tiers are admitted when they never fired or their own cooldown has fully
// elapsed since their last firing; other tiers' firings are irrelevant.
func (g *Gate) Admit(tier classify.Tier, now time.Time) bool {
	return g.Remaining(tier, now) == 0
}

// RecordFired starts the cooldown of tier at now. TierNone is ignored.
func (g *Gate) RecordFired(tier classify.Tier, now time.Time) {
	if tier == classify.TierNone {
		return
	}
	g.lastFired[tier] = now
}

// Remaining is how long tier stays gated at now; zero means admitted.
func (g *Gate) Remaining(tier classify.Tier, now time.Time) time.Duration {
	if tier == classify.TierNone {
		return 0
	}
	last, ok := g.lastFired[tier]
	if !ok {
		return 0
	}
	left := g.cooldowns[tier] - now.Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// LastFired returns when tier last fired.
func (g *Gate) LastFired(tier classify.Tier) (time.Time, bool) {
	t, ok := g.lastFired[tier]
	return t, ok
}

// Restore loads a persisted firing time. A later in-memory firing wins.
func (g *Gate) Restore(tier classify.Tier, firedAt time.Time) {
	if tier == classify.TierNone || firedAt.IsZero() {
		return
	}
	if cur, ok := g.lastFired[tier]; ok && cur.After(firedAt) {
		return
	}
	g.lastFired[tier] = firedAt
}

// Cooldown returns the configured cooldown of tier.
func (g *Gate) Cooldown(tier classify.Tier) time.Duration {
	return g.cooldowns[tier]
}
