// Package stats derives summary statistics from a sample window and turns them
// into a probability of the price sitting at or below a target.
package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/m2rcus/hypemonitoring/internal/window"
)

// MinSamples is the smallest window statistics are computed for.
const MinSamples = 2

// ErrInsufficientData is matched by every *InsufficientDataError.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError is returned while the window holds fewer than MinSamples.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d samples, need %d", e.Have, e.Need)
}

// Is lets errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Trend is the direction of the newer half of the window against the older half.
type Trend int

const (
	TrendFlat Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "up"
	case TrendDown:
		return "down"
	default:
		return "flat"
	}
}

// MarshalText renders the trend by name in JSON and YAML.
func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TrendOptions tune the half-window trend comparison.
//
// Epsilon is the dead band, as a fraction of the standard deviation, inside
// which the halves are considered equal. Scale is the number of standard
// deviations of separation that maps to full strength (1.0).
type TrendOptions struct {
	Epsilon float64
	Scale   float64
}

// DefaultTrendOptions returns the options used when none are configured.
func DefaultTrendOptions() TrendOptions {
	return TrendOptions{Epsilon: 0.1, Scale: 3.0}
}

// Validate rejects options that would divide by zero or invert the dead band.
func (o TrendOptions) Validate() error {
	if o.Epsilon < 0 || math.IsNaN(o.Epsilon) {
		return fmt.Errorf("trend epsilon cannot be negative, got %v", o.Epsilon)
	}
	if !(o.Scale > 0) || math.IsInf(o.Scale, 0) {
		return fmt.Errorf("trend scale must be positive, got %v", o.Scale)
	}
	return nil
}

// Snapshot is an immutable summary of the window at one point in time.
type Snapshot struct {
	Count         int     `json:"count" yaml:"count"`
	Mean          float64 `json:"mean" yaml:"mean"`
	StdDev        float64 `json:"stddev" yaml:"stddev"`
	Min           float64 `json:"min" yaml:"min"`
	Max           float64 `json:"max" yaml:"max"`
	Trend         Trend   `json:"trend" yaml:"trend"`
	TrendStrength float64 `json:"trend_strength" yaml:"trend_strength"`
}

// Compute summarises samples, which must be in chronological order.
//
// StdDev is the sample standard deviation (n-1 denominator). The trend splits
// the window at n/2 and compares the mean of the newer part with the older.
// Every field is finite for finite prices, however large.
func Compute(samples []window.Sample, opts TrendOptions) (Snapshot, error) {
	n := len(samples)
	if n < MinSamples {
		return Snapshot{}, &InsufficientDataError{Have: n, Need: MinSamples}
	}

	snap := Snapshot{
		Count: n,
		Min:   samples[0].Price,
		Max:   samples[0].Price,
	}
	for _, s := range samples {
		snap.Min = math.Min(snap.Min, s.Price)
		snap.Max = math.Max(snap.Max, s.Price)
	}

	// Above largePrice the sums are taken on prices divided by the largest
	// magnitude so neither the sum nor the squared deviations overflow.
	scale := 1.0
	if m := math.Max(math.Abs(snap.Min), math.Abs(snap.Max)); m > largePrice {
		scale = m
	}

	mean := meanPrice(samples, scale)
	var sq float64
	for _, s := range samples {
		d := s.Price/scale - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(n-1))

	snap.Mean = mean * scale
	snap.StdDev = stddev * scale
	snap.Trend, snap.TrendStrength = trend(samples, scale, stddev, opts)
	return snap, nil
}

// largePrice is where unscaled sums of squares start risking overflow.
const largePrice = 1e100

// trend works in the same scaled units as stddev.
func trend(samples []window.Sample, scale, stddev float64, opts TrendOptions) (Trend, float64) {
	if stddev == 0 {
		return TrendFlat, 0
	}

	mid := len(samples) / 2
	diff := meanPrice(samples[mid:], scale) - meanPrice(samples[:mid], scale)

	strength := math.Abs(diff) / (opts.Scale * stddev)
	strength = math.Max(0, math.Min(1, strength))

	band := opts.Epsilon * stddev
	switch {
	case diff > band:
		return TrendUp, strength
	case diff < -band:
		return TrendDown, strength
	default:
		return TrendFlat, strength
	}
}

func meanPrice(samples []window.Sample, scale float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Price / scale
	}
	return sum / float64(len(samples))
}
