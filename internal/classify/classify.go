// Package classify maps the current price and window statistics to an alert
// tier using an ordered rule list.
package classify

import (
	"fmt"
	"math"
	"strings"

	"github.com/m2rcus/hypemonitoring/internal/stats"
)

// Tier is the severity of an alert. Higher values take precedence.
type Tier int

const (
	TierNone Tier = iota
	TierRegular
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierRegular:
		return "regular"
	case TierCritical:
		return "critical"
	default:
		return "none"
	}
}

// MarshalText renders the tier by name in JSON and YAML.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseTier is the inverse of Tier.String.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return TierNone, nil
	case "regular":
		return TierRegular, nil
	case "critical":
		return TierCritical, nil
	default:
		return TierNone, fmt.Errorf("unknown tier %q", s)
	}
}

// Reason explains which rule produced the tier.
type Reason string

const (
	ReasonNone                Reason = "none"
	ReasonBelowTarget         Reason = "below_target"
	ReasonNearStdDevBand      Reason = "near_stddev_band"
	ReasonHighDropProbability Reason = "high_drop_probability"
	ReasonStrongDowntrend     Reason = "strong_downtrend"
)

// Thresholds are the externally configured limits the rules compare against.
type Thresholds struct {
	TargetPrice        float64 `json:"target_price" yaml:"target_price"`
	StandardDeviations float64 `json:"standard_deviations" yaml:"standard_deviations"`
	AlertProbability   float64 `json:"alert_threshold" yaml:"alert_threshold"`
	CriticalPrice      float64 `json:"critical_price_threshold" yaml:"critical_price_threshold"`
	StrongDowntrend    float64 `json:"strong_downtrend_threshold" yaml:"strong_downtrend_threshold"`
}

// Validate rejects thresholds the rules cannot be evaluated against.
func (t Thresholds) Validate() error {
	if !finite(t.TargetPrice) || t.TargetPrice <= 0 {
		return fmt.Errorf("target price must be positive, got %v", t.TargetPrice)
	}
	if !finite(t.StandardDeviations) || t.StandardDeviations <= 0 {
		return fmt.Errorf("standard deviations must be positive, got %v", t.StandardDeviations)
	}
	if !finite(t.AlertProbability) || t.AlertProbability <= 0 || t.AlertProbability > 1 {
		return fmt.Errorf("alert threshold must be in (0, 1], got %v", t.AlertProbability)
	}
	if !finite(t.CriticalPrice) || t.CriticalPrice < 0 {
		return fmt.Errorf("critical price threshold cannot be negative, got %v", t.CriticalPrice)
	}
	if !finite(t.StrongDowntrend) || t.StrongDowntrend <= 0 || t.StrongDowntrend > 1 {
		return fmt.Errorf("strong downtrend threshold must be in (0, 1], got %v", t.StrongDowntrend)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Input is everything a rule may look at.
type Input struct {
	Price       float64
	Snapshot    stats.Snapshot
	Probability float64
	Thresholds  Thresholds
}

// Rule is one entry of the precedence list.
type Rule struct {
	Name   string
	Tier   Tier
	Reason Reason
	Match  func(Input) bool
}

// rules is evaluated top to bottom and the first match wins. The order is part
// of the contract: both CRITICAL rules precede every REGULAR rule, and the
// critical price check precedes the downtrend check.
var rules = []Rule{
	{
		Name:   "critical_price",
		Tier:   TierCritical,
		Reason: ReasonBelowTarget,
		Match: func(in Input) bool {
			return in.Price <= in.Thresholds.CriticalPrice
		},
	},
	{
		Name:   "strong_downtrend",
		Tier:   TierCritical,
		Reason: ReasonStrongDowntrend,
		Match: func(in Input) bool {
			return in.Snapshot.Trend == stats.TrendDown &&
				in.Snapshot.TrendStrength >= in.Thresholds.StrongDowntrend
		},
	},
	{
		Name:   "below_target",
		Tier:   TierRegular,
		Reason: ReasonBelowTarget,
		Match: func(in Input) bool {
			return in.Price <= in.Thresholds.TargetPrice
		},
	},
	{
		Name:   "near_stddev_band",
		Tier:   TierRegular,
		Reason: ReasonNearStdDevBand,
		Match: func(in Input) bool {
			return math.Abs(in.Price-in.Thresholds.TargetPrice) <=
				in.Thresholds.StandardDeviations*in.Snapshot.StdDev
		},
	},
	{
		Name:   "high_drop_probability",
		Tier:   TierRegular,
		Reason: ReasonHighDropProbability,
		Match: func(in Input) bool {
			return in.Probability >= in.Thresholds.AlertProbability
		},
	},
}

// Rules returns a copy of the rule list in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify returns the tier and reason of the first matching rule, or
// (TierNone, ReasonNone) when nothing matches. It is pure.
func Classify(price float64, snap stats.Snapshot, probability float64, th Thresholds) (Tier, Reason) {
	in := Input{Price: price, Snapshot: snap, Probability: probability, Thresholds: th}
	for _, r := range rules {
		if r.Match(in) {
			return r.Tier, r.Reason
		}
	}
	return TierNone, ReasonNone
}
