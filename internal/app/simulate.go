package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/alerting"
	"github.com/m2rcus/hypemonitoring/internal/fetcher"
	"github.com/m2rcus/hypemonitoring/internal/service"
)

// SimulateAlert drives one service instance through a fixed price sequence,
// advancing a virtual clock by opts.Step per price. Nothing is persisted;
// alerts are delivered only with opts.Notify.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) ([]service.Outcome, error) {
	if len(opts.Prices) == 0 {
		return nil, errors.New("at least one price is required")
	}
	if opts.Step <= 0 {
		return nil, errors.New("step must be positive")
	}

	var notifier alerting.Notifier
	if opts.Notify {
		if !a.Config.Alerting.Enabled {
			return nil, errors.New("alerting is not enabled")
		}
		n, _, err := a.newNotifier()
		if err != nil {
			return nil, err
		}
		notifier = n
	}

	eng, err := a.newEngine()
	if err != nil {
		return nil, err
	}

	clock := time.Now().UTC()
	now := func() time.Time { return clock }

	prices := make([]decimal.Decimal, len(opts.Prices))
	for i, p := range opts.Prices {
		prices[i] = decimal.NewFromFloat(p)
	}
	src := fetcher.NewSequence(a.Config.Source.Asset, prices, now)

	svcOpts := a.serviceOptions()
	svcOpts.AlertsEnabled = opts.Notify
	svcOpts.StatusUpdates = false
	svcOpts.LockKey = 0
	svcOpts.Now = now
	svc := service.New(svcOpts, eng, nil, src, nil, notifier, a.Logger)

	outcomes := make([]service.Outcome, 0, len(prices))
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tPrice\tStatus\tTier\tReason\tProbability\tGated\tNotified")
	for i := range prices {
		out, err := svc.RunCycle(ctx)
		if err != nil {
			writer.Flush()
			return outcomes, fmt.Errorf("price %d: %w", i+1, err)
		}
		outcomes = append(outcomes, out)
		d := out.Decision
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%.4f\t%t\t%t\n",
			i+1, out.Quote.Price.String(), d.Status, d.Tier, d.Reason, d.Evidence.Probability, d.Gated, out.Notified)
		clock = clock.Add(opts.Step)
	}
	writer.Flush()
	return outcomes, nil
}
