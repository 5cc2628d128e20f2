package engine

import (
	"time"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/stats"
)

// Status tells "not enough history" apart from "evaluated".
type Status int

const (
	StatusInsufficientData Status = iota
	StatusEvaluated
)

func (s Status) String() string {
	if s == StatusEvaluated {
		return "evaluated"
	}
	return "insufficient_data"
}

// MarshalText renders the status by name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Evidence is what a decision was derived from.
type Evidence struct {
	Price       float64        `json:"price"`
	ObservedAt  time.Time      `json:"observed_at"`
	Snapshot    stats.Snapshot `json:"snapshot"`
	Probability float64        `json:"probability"`
}

// Decision is the outcome of one evaluation. Tier and Reason are the
// classifier's verdict; Gated marks a verdict suppressed by its cooldown.
type Decision struct {
	Status    Status          `json:"status"`
	Tier      classify.Tier   `json:"tier"`
	Reason    classify.Reason `json:"reason"`
	Gated     bool            `json:"gated"`
	Evidence  Evidence        `json:"evidence"`
	DecidedAt time.Time       `json:"decided_at"`
}

// Fired reports whether the decision should be delivered to the notifier.
func (d Decision) Fired() bool {
	return d.Status == StatusEvaluated && d.Tier != classify.TierNone && !d.Gated
}

// CooldownState is the read-only view of one tier's cooldown clock.
type CooldownState struct {
	Tier      classify.Tier `json:"tier"`
	Cooldown  time.Duration `json:"cooldown"`
	Remaining time.Duration `json:"remaining"`
	LastFired *time.Time    `json:"last_fired,omitempty"`
}

// Report is the on-demand inspection result.
type Report struct {
	Status     Status              `json:"status"`
	Tier       classify.Tier       `json:"tier"`
	Reason     classify.Reason     `json:"reason"`
	Evidence   Evidence            `json:"evidence"`
	Samples    int                 `json:"samples"`
	Thresholds classify.Thresholds `json:"thresholds"`
	Cooldowns  []CooldownState     `json:"cooldowns"`
}

// Cooldown returns the state for tier.
func (r Report) Cooldown(tier classify.Tier) (CooldownState, bool) {
	for _, c := range r.Cooldowns {
		if c.Tier == tier {
			return c, true
		}
	}
	return CooldownState{}, false
}
