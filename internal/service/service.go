// Package service glues the price source, the decision engine, storage and
// the notifier into one poll cycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/m2rcus/hypemonitoring/internal/alerting"
	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/fetcher"
	"github.com/m2rcus/hypemonitoring/internal/scheduler"
	"github.com/m2rcus/hypemonitoring/internal/storage"
	"github.com/m2rcus/hypemonitoring/internal/window"
)

// ErrLockHeld marks a cycle skipped because another instance holds the lock.
var ErrLockHeld = errors.New("advisory lock held elsewhere")

// Options tune the poll cycle.
type Options struct {
	Asset          string
	AlertsEnabled  bool
	StatusUpdates  bool
	StatusInterval time.Duration
	LockKey        int64
	// Now overrides the wall clock. Sample timestamps come from it, not from
	// the source, so they stay monotonic.
	Now func() time.Time
}

// Outcome is what one cycle did.
type Outcome struct {
	Quote    fetcher.Quote
	Decision engine.Decision
	RecordID string
	Notified bool
}

// Service orchestrates fetching, evaluation, persistence, and alerting.
type Service struct {
	opts      Options
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	source    fetcher.PriceFetcher
	store     storage.Backend
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger

	failures   int
	lastStatus time.Time
}

// New constructs the monitoring service. store and notifier may be nil.
func New(opts Options, eng *engine.Engine, sched *scheduler.Scheduler, source fetcher.PriceFetcher, store storage.Backend, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:      opts,
		engine:    eng,
		scheduler: sched,
		source:    source,
		store:     store,
		notifier:  notifier,
		locker:    locker,
		logger:    logger.With().Str("component", "service").Str("asset", opts.Asset).Logger(),
	}
}

// Run warms the engine up from storage and begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := s.Warmup(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("warmup incomplete, starting with partial history")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// Status is the read-only inspection view. It never consumes cooldowns.
func (s *Service) Status(now time.Time) engine.Report {
	return s.engine.Inspect(now)
}

// Now is the clock samples and decisions are stamped with. The bot and the
// HTTP API read status through it too.
func (s *Service) Now() time.Time {
	return s.opts.Now()
}

// Asset returns the monitored asset symbol.
func (s *Service) Asset() string {
	return s.opts.Asset
}

// RecentDecisions lists persisted decisions, newest first.
func (s *Service) RecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error) {
	if s.store == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.store.ListRecentDecisions(ctx, s.opts.Asset, limit)
}

// Warmup seeds the window with the most recent stored samples and restores
// the cooldown clocks.
func (s *Service) Warmup(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	now := s.opts.Now()
	bound := s.engine.Config().Window

	recent, err := s.store.ListRecentSamples(ctx, s.opts.Asset, bound.MaxSamples)
	if err != nil {
		return fmt.Errorf("load recent samples: %w", err)
	}

	samples := make([]window.Sample, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		r := recent[i]
		if bound.MaxAge > 0 && now.Sub(r.ObservedAt) > bound.MaxAge {
			continue
		}
		samples = append(samples, window.Sample{Timestamp: r.ObservedAt, Price: r.Price.InexactFloat64()})
	}
	seeded, seedErr := s.engine.Seed(samples)
	if seedErr != nil {
		s.logger.Warn().Err(seedErr).Int("seeded", seeded).Msg("stopped seeding at rejected sample")
	}

	cooldowns, err := s.store.LoadCooldowns(ctx, s.opts.Asset)
	if err != nil {
		return fmt.Errorf("load cooldowns: %w", err)
	}
	for _, c := range cooldowns {
		s.engine.RestoreCooldown(c.Tier, c.FiredAt)
	}

	s.logger.Info().Int("samples", seeded).Int("cooldowns", len(cooldowns)).Msg("warmup complete")
	return nil
}

// ProcessTick runs one cycle for the scheduler.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	_, err := s.RunCycle(ctx)
	if errors.Is(err, ErrLockHeld) {
		s.logger.Debug().Time("at", at).Msg("skip poll because advisory lock held elsewhere")
		return nil
	}
	return err
}

// RunCycle fetches one price and takes it through the engine. It must not
// be called concurrently.
func (s *Service) RunCycle(ctx context.Context) (Outcome, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !proceed {
		return Outcome{}, ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}

	out, err := s.executeCycle(ctx)
	if err != nil {
		s.recordFailure(ctx, err)
		return out, err
	}
	s.recordSuccess(ctx)
	s.maybeSendStatus(ctx, out.Decision.DecidedAt)
	return out, nil
}

func (s *Service) executeCycle(ctx context.Context) (Outcome, error) {
	quote, err := s.source.FetchPrice(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch price: %w", err)
	}
	out := Outcome{Quote: quote}

	now := s.opts.Now()
	d, err := s.engine.EvaluateSample(window.Sample{Timestamp: now, Price: quote.Float()}, now)
	if err != nil {
		if errors.Is(err, window.ErrInvalidSample) {
			s.logger.Warn().Err(err).Str("price", quote.Price.String()).Msg("sample rejected, cycle skipped")
		}
		return out, fmt.Errorf("evaluate sample: %w", err)
	}
	out.Decision = d

	if s.store != nil {
		sample := storage.PriceSample{Asset: s.opts.Asset, ObservedAt: now, Price: quote.Price, Source: quote.Source}
		if err := s.store.InsertSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist sample")
		}
	}

	s.logDecision(d)
	if d.Status != engine.StatusEvaluated || d.Tier == classify.TierNone {
		return out, nil
	}

	th := s.engine.Config().Thresholds
	rec := storage.NewDecisionRecord(s.opts.Asset, d, th)
	out.RecordID = rec.ID
	if s.store != nil {
		if err := s.store.InsertDecision(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to persist decision")
		}
	}
	if !d.Fired() {
		return out, nil
	}

	if s.store != nil {
		cd := storage.CooldownRecord{Asset: s.opts.Asset, Tier: d.Tier, FiredAt: d.DecidedAt}
		if err := s.store.SaveCooldown(ctx, cd); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist cooldown")
		}
	}

	if !s.opts.AlertsEnabled || s.notifier == nil {
		return out, nil
	}
	note := alerting.FromDecision(rec.ID, s.opts.Asset, d, th)
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to dispatch alert")
		return out, nil
	}
	out.Notified = true

	if s.store != nil {
		if err := s.store.MarkNotified(ctx, rec.ID); err != nil {
			s.logger.Error().Err(err).Str("id", rec.ID).Msg("failed to mark decision notified")
		}
	}
	return out, nil
}

func (s *Service) logDecision(d engine.Decision) {
	event := s.logger.Info()
	if d.Fired() {
		event = s.logger.Warn()
	}
	snap := d.Evidence.Snapshot
	event.Str("status", d.Status.String()).
		Float64("price", d.Evidence.Price).
		Int("samples", snap.Count).
		Float64("mean", snap.Mean).
		Float64("stddev", snap.StdDev).
		Str("trend", snap.Trend.String()).
		Float64("trend_strength", snap.TrendStrength).
		Float64("probability", d.Evidence.Probability).
		Str("tier", d.Tier.String()).
		Str("reason", string(d.Reason)).
		Bool("gated", d.Gated).
		Msg("decision")
}

func (s *Service) failureReporter() alerting.FailureReporter {
	if !s.opts.AlertsEnabled {
		return nil
	}
	r, _ := s.notifier.(alerting.FailureReporter)
	return r
}

func (s *Service) recordFailure(ctx context.Context, cycleErr error) {
	s.failures++
	if s.failures != 1 {
		return
	}
	if r := s.failureReporter(); r != nil {
		if err := r.SendError(ctx, cycleErr); err != nil {
			s.logger.Error().Err(err).Msg("failed to report error")
		}
	}
}

func (s *Service) recordSuccess(ctx context.Context) {
	if s.failures == 0 {
		return
	}
	failures := s.failures
	s.failures = 0
	s.logger.Info().Int("failures", failures).Msg("polling recovered")
	if r := s.failureReporter(); r != nil {
		if err := r.SendRecovery(ctx, failures); err != nil {
			s.logger.Error().Err(err).Msg("failed to report recovery")
		}
	}
}

// Failures returns the length of the current failure streak.
func (s *Service) Failures() int {
	return s.failures
}

func (s *Service) maybeSendStatus(ctx context.Context, now time.Time) {
	if !s.opts.AlertsEnabled || !s.opts.StatusUpdates || s.opts.StatusInterval <= 0 {
		return
	}
	sn, ok := s.notifier.(alerting.StatusNotifier)
	if !ok {
		return
	}
	if s.lastStatus.IsZero() {
		s.lastStatus = now
		return
	}
	if now.Sub(s.lastStatus) < s.opts.StatusInterval {
		return
	}
	s.lastStatus = now
	if err := sn.NotifyStatus(ctx, s.engine.Inspect(now)); err != nil {
		s.logger.Error().Err(err).Msg("failed to send status update")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
