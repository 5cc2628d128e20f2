// Package scheduler drives the polling loop at a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned by New for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler interval must be positive")

// TickFunc is invoked once per poll.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// AlignToStart snaps polls to wall-clock multiples of Interval.
	AlignToStart bool
	// RunOnStart polls once immediately instead of waiting a full interval.
	RunOnStart   bool
	StartupDelay time.Duration
}

// Scheduler runs a tick function on a steady cadence. A failing tick is
// logged and never stops the loop. Polls missed while a slow tick was running
// are skipped, not replayed.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Interval returns the configured poll interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking tick at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	if s.opts.RunOnStart {
		s.invoke(ctx, tick, s.now())
	}

	next := s.firstTick(s.now())
	for {
		var missed int
		next, missed = s.catchUp(next, s.now())
		if missed > 0 {
			s.logger.Warn().Int("missed", missed).Dur("interval", s.opts.Interval).Msg("poll overran its interval, skipping missed polls")
		}

		s.logger.Debug().Time("next_poll", next).Msg("waiting for next poll")
		if err := sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}

		s.invoke(ctx, tick, s.pollTime(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) invoke(ctx context.Context, tick TickFunc, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	started := s.now()
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("poll failed")
		return
	}
	s.logger.Debug().Time("at", at).Dur("took", s.now().Sub(started)).Msg("poll done")
}

// firstTick is the first scheduled poll after now.
func (s *Scheduler) firstTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	boundary := now.Truncate(s.opts.Interval)
	if !boundary.After(now) {
		boundary = boundary.Add(s.opts.Interval)
	}
	return boundary
}

// catchUp moves next forward past now in whole intervals and reports how
// many polls that dropped. The phase of next is preserved.
func (s *Scheduler) catchUp(next, now time.Time) (time.Time, int) {
	if !next.Before(now) {
		return next, 0
	}
	missed := int(now.Sub(next)/s.opts.Interval) + 1
	return next.Add(time.Duration(missed) * s.opts.Interval), missed
}

func (s *Scheduler) pollTime(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
