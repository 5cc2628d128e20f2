package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
)

// PriceSample is one persisted price observation.
type PriceSample struct {
	Asset      string
	ObservedAt time.Time
	Price      decimal.Decimal
	Source     string
}

// DecisionRecord is the audit row of an evaluation whose tier was not NONE.
type DecisionRecord struct {
	ID            string          `json:"id"`
	Asset         string          `json:"asset"`
	DecidedAt     time.Time       `json:"decided_at"`
	Tier          classify.Tier   `json:"tier"`
	Reason        classify.Reason `json:"reason"`
	Gated         bool            `json:"gated"`
	Notified      bool            `json:"notified"`
	Price         decimal.Decimal `json:"price"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	Probability   float64         `json:"probability"`
	Mean          float64         `json:"mean"`
	StdDev        float64         `json:"stddev"`
	Trend         string          `json:"trend"`
	TrendStrength float64         `json:"trend_strength"`
}

// NewDecisionRecord assigns a fresh id to d.
func NewDecisionRecord(asset string, d engine.Decision, th classify.Thresholds) DecisionRecord {
	snap := d.Evidence.Snapshot
	return DecisionRecord{
		ID:            uuid.NewString(),
		Asset:         asset,
		DecidedAt:     d.DecidedAt.UTC(),
		Tier:          d.Tier,
		Reason:        d.Reason,
		Gated:         d.Gated,
		Price:         decimal.NewFromFloat(d.Evidence.Price),
		TargetPrice:   decimal.NewFromFloat(th.TargetPrice),
		Probability:   d.Evidence.Probability,
		Mean:          snap.Mean,
		StdDev:        snap.StdDev,
		Trend:         snap.Trend.String(),
		TrendStrength: snap.TrendStrength,
	}
}

// CooldownRecord is the last firing time of one tier.
type CooldownRecord struct {
	Asset   string
	Tier    classify.Tier
	FiredAt time.Time
}

func (r *DecisionRecord) fill(tier, reason, price, target string) error {
	var err error
	if r.Tier, err = classify.ParseTier(tier); err != nil {
		return err
	}
	r.Reason = classify.Reason(reason)
	if r.Price, err = decimal.NewFromString(price); err != nil {
		return fmt.Errorf("parse decision price: %w", err)
	}
	if r.TargetPrice, err = decimal.NewFromString(target); err != nil {
		return fmt.Errorf("parse target price: %w", err)
	}
	return nil
}
