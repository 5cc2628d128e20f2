// Package alerting formats fired decisions and delivers them to the operator.
package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/stats"
)

// Notification is the alert context handed to a notifier.
type Notification struct {
	ID            string
	Asset         string
	Tier          classify.Tier
	Reason        classify.Reason
	Price         decimal.Decimal
	TargetPrice   decimal.Decimal
	CriticalPrice decimal.Decimal
	Probability   decimal.Decimal
	Mean          decimal.Decimal
	StdDev        decimal.Decimal
	Trend         stats.Trend
	TrendStrength decimal.Decimal
	DecidedAt     time.Time
}

// FromDecision builds the notification for a fired decision.
func FromDecision(id, asset string, d engine.Decision, th classify.Thresholds) Notification {
	snap := d.Evidence.Snapshot
	return Notification{
		ID:            id,
		Asset:         asset,
		Tier:          d.Tier,
		Reason:        d.Reason,
		Price:         decimal.NewFromFloat(d.Evidence.Price),
		TargetPrice:   decimal.NewFromFloat(th.TargetPrice),
		CriticalPrice: decimal.NewFromFloat(th.CriticalPrice),
		Probability:   decimal.NewFromFloat(d.Evidence.Probability),
		Mean:          decimal.NewFromFloat(snap.Mean),
		StdDev:        decimal.NewFromFloat(snap.StdDev),
		Trend:         snap.Trend,
		TrendStrength: decimal.NewFromFloat(snap.TrendStrength),
		DecidedAt:     d.DecidedAt,
	}
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// StatusNotifier delivers the periodic status update.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, report engine.Report) error
}

// FailureReporter is told about the first failure of a streak and the recovery.
type FailureReporter interface {
	SendError(ctx context.Context, cycleErr error) error
	SendRecovery(ctx context.Context, failures int) error
}

// LogNotifier writes notifications to the log. It stands in for Telegram when
// no transport is configured.
type LogNotifier struct {
	asset  string
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(asset string, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{asset: asset, logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert.
func (l *LogNotifier) Notify(_ context.Context, note Notification) error {
	event := l.logger.Warn()
	if note.Tier == classify.TierCritical {
		event = l.logger.Error()
	}
	event.Str("id", note.ID).
		Str("asset", note.Asset).
		Str("tier", note.Tier.String()).
		Str("reason", string(note.Reason)).
		Str("price", note.Price.StringFixed(4)).
		Str("target", note.TargetPrice.StringFixed(2)).
		Str("probability", note.Probability.StringFixed(4)).
		Str("trend", note.Trend.String()).
		Msg("price alert")
	return nil
}

// NotifyStatus logs the status report.
func (l *LogNotifier) NotifyStatus(_ context.Context, r engine.Report) error {
	l.logger.Info().
		Str("asset", l.asset).
		Str("status", r.Status.String()).
		Float64("price", r.Evidence.Price).
		Float64("probability", r.Evidence.Probability).
		Str("tier", r.Tier.String()).
		Int("samples", r.Samples).
		Msg("status update")
	return nil
}

// SendError logs the first failure of a streak.
func (l *LogNotifier) SendError(_ context.Context, cycleErr error) error {
	l.logger.Error().Err(cycleErr).Msg("monitoring error")
	return nil
}

// SendRecovery logs the end of a failure streak.
func (l *LogNotifier) SendRecovery(_ context.Context, failures int) error {
	l.logger.Info().Int("failures", failures).Msg("monitoring recovered")
	return nil
}

var (
	_ Notifier        = (*LogNotifier)(nil)
	_ StatusNotifier  = (*LogNotifier)(nil)
	_ FailureReporter = (*LogNotifier)(nil)
)
