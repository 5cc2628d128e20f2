// Package engine composes the sample window, statistics, probability model,
// classifier and cooldown gate into a single per-observation decision.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/cooldown"
	"github.com/m2rcus/hypemonitoring/internal/stats"
	"github.com/m2rcus/hypemonitoring/internal/window"
)

// Config carries every tunable the decision depends on.
type Config struct {
	Thresholds       classify.Thresholds
	RegularCooldown  time.Duration
	CriticalCooldown time.Duration
	Window           window.Bound
	Trend            stats.TrendOptions
}

// Validate rejects configurations instead of clamping them.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.RegularCooldown <= 0 {
		return fmt.Errorf("regular cooldown must be positive, got %s", c.RegularCooldown)
	}
	if c.CriticalCooldown <= 0 {
		return fmt.Errorf("critical cooldown must be positive, got %s", c.CriticalCooldown)
	}
	if err := c.Window.Validate(); err != nil {
		return err
	}
	return c.Trend.Validate()
}

func (c Config) cooldowns() map[classify.Tier]time.Duration {
	return map[classify.Tier]time.Duration{
		classify.TierRegular:  c.RegularCooldown,
		classify.TierCritical: c.CriticalCooldown,
	}
}

// Engine owns the window and the cooldown state. Evaluate and Inspect are
// serialised by one mutex; nothing inside blocks.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	window *window.Window
	gate   *cooldown.Gate
}

// New validates cfg and returns an engine with an empty window and no tier fired.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	gate, err := cooldown.New(cfg.cooldowns())
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:    cfg,
		window: window.New(cfg.Window),
		gate:   gate,
	}, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate records price observed at now and decides on it.
func (e *Engine) Evaluate(price float64, now time.Time) (Decision, error) {
	return e.EvaluateSample(window.Sample{Timestamp: now, Price: price}, now)
}

// EvaluateSample records s, then computes statistics, probability, tier and
// cooldown admission. now is the clock reading used by the cooldown gate.
//
// A rejected sample returns a *window.InvalidSampleError and leaves all state
// unchanged. Fewer than two samples yield StatusInsufficientData with a nil
// error. A tier whose cooldown has not elapsed is reported with Gated set and
// is never demoted to a lower tier.
func (e *Engine) EvaluateSample(s window.Sample, now time.Time) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.window.Record(s); err != nil {
		return Decision{}, err
	}

	d := Decision{
		DecidedAt: now,
		Tier:      classify.TierNone,
		Reason:    classify.ReasonNone,
		Evidence:  Evidence{Price: s.Price, ObservedAt: s.Timestamp},
	}

	snap, err := stats.Compute(e.window.Snapshot(), e.cfg.Trend)
	if err != nil {
		if errors.Is(err, stats.ErrInsufficientData) {
			d.Status = StatusInsufficientData
			return d, nil
		}
		return Decision{}, err
	}

	d.Status = StatusEvaluated
	d.Evidence.Snapshot = snap
	d.Evidence.Probability = stats.ProbabilityBelow(e.cfg.Thresholds.TargetPrice, snap)
	d.Tier, d.Reason = classify.Classify(s.Price, snap, d.Evidence.Probability, e.cfg.Thresholds)

	if d.Tier == classify.TierNone {
		return d, nil
	}
	if e.gate.Admit(d.Tier, now) {
		e.gate.RecordFired(d.Tier, now)
	} else {
		d.Gated = true
	}
	return d, nil
}

// Inspect reports the current view of the window without recording a sample
// and without reading or writing cooldown admission.
func (e *Engine) Inspect(now time.Time) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := Report{
		Status:     StatusInsufficientData,
		Tier:       classify.TierNone,
		Reason:     classify.ReasonNone,
		Samples:    e.window.Len(),
		Thresholds: e.cfg.Thresholds,
		Cooldowns:  e.cooldownStates(now),
	}

	latest, ok := e.window.Latest()
	if !ok {
		return r
	}
	r.Evidence = Evidence{Price: latest.Price, ObservedAt: latest.Timestamp}

	snap, err := stats.Compute(e.window.Snapshot(), e.cfg.Trend)
	if err != nil {
		return r
	}

	r.Status = StatusEvaluated
	r.Evidence.Snapshot = snap
	r.Evidence.Probability = stats.ProbabilityBelow(e.cfg.Thresholds.TargetPrice, snap)
	r.Tier, r.Reason = classify.Classify(latest.Price, snap, r.Evidence.Probability, e.cfg.Thresholds)
	return r
}

func (e *Engine) cooldownStates(now time.Time) []CooldownState {
	tiers := []classify.Tier{classify.TierCritical, classify.TierRegular}
	out := make([]CooldownState, 0, len(tiers))
	for _, tier := range tiers {
		st := CooldownState{
			Tier:      tier,
			Cooldown:  e.gate.Cooldown(tier),
			Remaining: e.gate.Remaining(tier, now),
		}
		if last, ok := e.gate.LastFired(tier); ok {
			last := last
			st.LastFired = &last
		}
		out = append(out, st)
	}
	return out
}

// Seed loads historical samples, oldest first, without evaluating them. It
// stops at the first rejected sample and reports how many were loaded.
func (e *Engine) Seed(samples []window.Sample) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range samples {
		if err := e.window.Record(s); err != nil {
			return i, fmt.Errorf("seed sample %d: %w", i, err)
		}
	}
	return len(samples), nil
}

// RestoreCooldown loads a persisted firing time for tier.
func (e *Engine) RestoreCooldown(tier classify.Tier, firedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate.Restore(tier, firedAt)
}
