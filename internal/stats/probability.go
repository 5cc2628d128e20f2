package stats

import "math"

// ProbabilityBelow returns the mass at or below target under a normal
// distribution with the snapshot's mean and standard deviation.
//
// This is an approximation: prices are treated as normally distributed around
// the window mean with no fitted parameters. It is internally consistent and
// monotonic in target, not a calibrated forecast.
func ProbabilityBelow(target float64, snap Snapshot) float64 {
	if snap.StdDev == 0 {
		if snap.Mean <= target {
			return 1.0
		}
		return 0.0
	}

	z := (target - snap.Mean) / snap.StdDev
	return clamp01(normalCDF(z))
}

func normalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
