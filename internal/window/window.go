// Package window keeps the bounded, time-ordered run of price observations the
// statistics are computed from.
package window

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample is matched by every *InvalidSampleError.
var ErrInvalidSample = errors.New("invalid sample")

// InvalidSampleError reports an observation that was rejected. The window is
// left untouched when it is returned.
type InvalidSampleError struct {
	Sample Sample
	Latest time.Time
	Reason string
}

func (e *InvalidSampleError) Error() string {
	if !e.Latest.IsZero() {
		return fmt.Sprintf("invalid sample at %s: %s (latest %s)",
			e.Sample.Timestamp.Format(time.RFC3339Nano), e.Reason, e.Latest.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("invalid sample at %s: %s", e.Sample.Timestamp.Format(time.RFC3339Nano), e.Reason)
}

// Is lets errors.Is(err, ErrInvalidSample) match.
func (e *InvalidSampleError) Is(target error) bool {
	return target == ErrInvalidSample
}

// Sample is one immutable price observation.
type Sample struct {
	Timestamp time.Time
	Price     float64
}

// Bound limits how many samples a window retains. MaxSamples is always enforced;
// MaxAge additionally drops samples older than MaxAge relative to the newest
// sample when it is positive. The newest sample is never evicted.
type Bound struct {
	MaxSamples int
	MaxAge     time.Duration
}

// Validate rejects bounds that cannot hold enough history for statistics.
func (b Bound) Validate() error {
	if b.MaxSamples < 2 {
		return fmt.Errorf("window max samples must be at least 2, got %d", b.MaxSamples)
	}
	if b.MaxAge < 0 {
		return fmt.Errorf("window max age cannot be negative, got %s", b.MaxAge)
	}
	return nil
}

// Window is a chronological sample buffer. It is not safe for concurrent use;
// the engine serialises access.
type Window struct {
	bound   Bound
	samples []Sample
}

// New creates an empty window. Callers validate the bound beforehand.
func New(bound Bound) *Window {
	return &Window{
		bound:   bound,
		samples: make([]Sample, 0, bound.MaxSamples+1),
	}
}

// Record appends s and evicts the oldest samples until the bound holds.
// Samples earlier than the latest stored one are rejected rather than reordered.
func (w *Window) Record(s Sample) error {
	if err := w.check(s); err != nil {
		return err
	}

	w.samples = append(w.samples, s)
	w.evict()
	return nil
}

func (w *Window) check(s Sample) error {
	switch {
	case s.Timestamp.IsZero():
		return &InvalidSampleError{Sample: s, Reason: "missing timestamp"}
	case math.IsNaN(s.Price) || math.IsInf(s.Price, 0):
		return &InvalidSampleError{Sample: s, Reason: "price is not a finite number"}
	case s.Price < 0:
		return &InvalidSampleError{Sample: s, Reason: "price is negative"}
	}

	if latest, ok := w.Latest(); ok && s.Timestamp.Before(latest.Timestamp) {
		return &InvalidSampleError{Sample: s, Latest: latest.Timestamp, Reason: "out of order"}
	}
	return nil
}

func (w *Window) evict() {
	drop := 0
	if over := len(w.samples) - w.bound.MaxSamples; over > 0 {
		drop = over
	}

	if w.bound.MaxAge > 0 {
		cutoff := w.samples[len(w.samples)-1].Timestamp.Add(-w.bound.MaxAge)
		for drop < len(w.samples)-1 && w.samples[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}

	if drop == 0 {
		return
	}
	// Copy down instead of reslicing so the backing array does not grow forever.
	n := copy(w.samples, w.samples[drop:])
	w.samples = w.samples[:n]
}

// Snapshot returns a copy of the stored samples, oldest first.
func (w *Window) Snapshot() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Prices returns the stored prices, oldest first.
func (w *Window) Prices() []float64 {
	out := make([]float64, len(w.samples))
	for i, s := range w.samples {
		out[i] = s.Price
	}
	return out
}

// Latest returns the newest sample.
func (w *Window) Latest() (Sample, bool) {
	if len(w.samples) == 0 {
		return Sample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// Len reports the number of stored samples.
func (w *Window) Len() int {
	return len(w.samples)
}

// Bound returns the eviction policy of the window.
func (w *Window) Bound() Bound {
	return w.bound
}
