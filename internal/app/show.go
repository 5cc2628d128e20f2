package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"
)

// Show prints recent samples and decisions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	defer store.Close()

	asset := a.Config.Source.Asset
	samples, err := store.ListRecentSamples(ctx, asset, opts.Limit)
	if err != nil {
		return err
	}
	decisions, err := store.ListRecentDecisions(ctx, asset, opts.Limit)
	if err != nil {
		return err
	}

	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no samples found")
	} else {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tPrice\tSource")
		for _, s := range samples {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", s.ObservedAt.UTC().Format(time.RFC3339), s.Price.StringFixed(4), s.Source)
		}
		writer.Flush()
	}

	fmt.Fprintln(a.Out)
	if len(decisions) == 0 {
		fmt.Fprintln(a.Out, "no decisions found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTier\tReason\tPrice\tProbability\tTrend\tGated\tNotified")
	for _, d := range decisions {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.4f\t%s\t%t\t%t\n",
			d.DecidedAt.UTC().Format(time.RFC3339),
			d.Tier,
			d.Reason,
			d.Price.StringFixed(4),
			d.Probability,
			d.Trend,
			d.Gated,
			d.Notified,
		)
	}
	writer.Flush()
	return nil
}
