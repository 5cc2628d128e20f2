package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/storage"
)

// exportRow is one sample joined with the decision taken on it, if any.
// The service stamps a sample and its decision with the same poll time.
type exportRow struct {
	sample   storage.PriceSample
	decision *storage.DecisionRecord
}

// Export renders stored samples as CSV and/or a PNG chart. Decisions taken
// inside the window are joined onto their samples and plotted as markers.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	maxPoints := a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(maxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer store.Close()

	asset := a.Config.Source.Asset
	samples, err := store.ListSamplesBetween(ctx, asset, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no samples found for export window")
		return nil
	}

	decisions, err := store.ListRecentDecisions(ctx, asset, maxPoints)
	if err != nil {
		return err
	}
	rows := joinDecisions(samples, decisions)

	kept := downsample(rows, maxPoints)
	a.Logger.Info().
		Int("total", len(rows)).
		Int("exported", len(kept)).
		Int("decisions", len(decisions)).
		Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeExportCSV(opts.CSVPath, kept); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		th := a.Config.Monitor.EngineConfig().Thresholds
		if err := writeExportPNG(opts.PNGPath, asset, kept, th); err != nil {
			return err
		}
	}
	return nil
}

func joinDecisions(samples []storage.PriceSample, decisions []storage.DecisionRecord) []exportRow {
	byTime := make(map[int64]*storage.DecisionRecord, len(decisions))
	for i := range decisions {
		byTime[decisions[i].DecidedAt.UnixNano()] = &decisions[i]
	}

	rows := make([]exportRow, len(samples))
	for i, s := range samples {
		rows[i] = exportRow{sample: s, decision: byTime[s.ObservedAt.UnixNano()]}
	}
	return rows
}

// downsample keeps max rows spread evenly over the input. Rows that carry a
// decision are always kept, even when that exceeds max.
func downsample(rows []exportRow, max int) []exportRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	keep := make([]bool, len(rows))
	if max == 1 {
		keep[len(rows)-1] = true
	} else {
		step := float64(len(rows)-1) / float64(max-1)
		for i := 0; i < max; i++ {
			keep[int(math.Round(step*float64(i)))] = true
		}
	}

	out := make([]exportRow, 0, max)
	for i, r := range rows {
		if keep[i] || r.decision != nil {
			out = append(out, r)
		}
	}
	return out
}

func writeExportCSV(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"observed_at", "asset", "price", "source", "tier", "reason", "gated", "notified"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			r.sample.ObservedAt.UTC().Format(time.RFC3339),
			r.sample.Asset,
			r.sample.Price.String(),
			r.sample.Source,
			"", "", "", "",
		}
		if d := r.decision; d != nil {
			record[4] = d.Tier.String()
			record[5] = string(d.Reason)
			record[6] = strconv.FormatBool(d.Gated)
			record[7] = strconv.FormatBool(d.Notified)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeExportPNG(path, asset string, rows []exportRow, th classify.Thresholds) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	price := make([]float64, len(rows))
	target := make([]float64, len(rows))
	critical := make([]float64, len(rows))
	var alertX []time.Time
	var alertY []float64

	for i, r := range rows {
		p := r.sample.Price.InexactFloat64()
		x[i] = r.sample.ObservedAt
		price[i] = p
		target[i] = th.TargetPrice
		critical[i] = th.CriticalPrice
		if r.decision != nil && !r.decision.Gated {
			alertX = append(alertX, r.sample.ObservedAt)
			alertY = append(alertY, p)
		}
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    asset,
			XValues: x,
			YValues: price,
		},
		thresholdLine("Target", x, target, chart.ColorOrange),
		thresholdLine("Critical", x, critical, chart.ColorRed),
	}
	if len(alertX) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Alerts",
			XValues: alertX,
			YValues: alertY,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    4,
				DotColor:    chart.ColorRed,
			},
		})
	}

	graph := chart.Chart{
		Title:  asset + " price",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func thresholdLine(name string, x []time.Time, y []float64, color drawing.Color) chart.TimeSeries {
	return chart.TimeSeries{
		Name:    name,
		XValues: x,
		YValues: y,
		Style: chart.Style{
			StrokeColor:     color,
			StrokeDashArray: []float64{5, 5},
		},
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
