package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2rcus/hypemonitoring/internal/alerting"
	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/config"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/fetcher"
	"github.com/m2rcus/hypemonitoring/internal/stats"
	"github.com/m2rcus/hypemonitoring/internal/storage"
	"github.com/m2rcus/hypemonitoring/internal/window"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	alerts     []alerting.Notification
	statuses   []engine.Report
	errs       []error
	recoveries []int
	fail       error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	if r.fail != nil {
		return r.fail
	}
	r.alerts = append(r.alerts, n)
	return nil
}

func (r *recordingNotifier) NotifyStatus(_ context.Context, rep engine.Report) error {
	r.statuses = append(r.statuses, rep)
	return nil
}

func (r *recordingNotifier) SendError(_ context.Context, err error) error {
	r.errs = append(r.errs, err)
	return nil
}

func (r *recordingNotifier) SendRecovery(_ context.Context, failures int) error {
	r.recoveries = append(r.recoveries, failures)
	return nil
}

type scriptedFetcher struct {
	results []any
}

func (f *scriptedFetcher) FetchPrice(context.Context) (fetcher.Quote, error) {
	if len(f.results) == 0 {
		return fetcher.Quote{}, fetcher.ErrSequenceExhausted
	}
	next := f.results[0]
	f.results = f.results[1:]
	if err, ok := next.(error); ok {
		return fetcher.Quote{}, err
	}
	return fetcher.Quote{Asset: "HYPE", Price: decimal.NewFromFloat(next.(float64)), Source: "script"}, nil
}

type lockedStore struct {
	storage.Backend
	held bool
}

func (l *lockedStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func engineConfig() engine.Config {
	return engine.Config{
		Thresholds: classify.Thresholds{
			TargetPrice:        41.0,
			StandardDeviations: 2.0,
			AlertProbability:   0.7,
			CriticalPrice:      40.0,
			StrongDowntrend:    0.85,
		},
		RegularCooldown:  5 * time.Minute,
		CriticalCooldown: time.Minute,
		Window:           window.Bound{MaxSamples: 100},
		Trend:            stats.DefaultTrendOptions(),
	}
}

func openStore(t *testing.T) storage.Backend {
	t.Helper()
	b, err := storage.Open(context.Background(), config.DatabaseConfig{Driver: config.DriverSQLite, Path: storage.MemoryPath}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newService(t *testing.T, src fetcher.PriceFetcher, store storage.Backend, n alerting.Notifier, clk *clock, opts Options) *Service {
	t.Helper()
	eng, err := engine.New(engineConfig())
	require.NoError(t, err)
	opts.Asset = "HYPE"
	opts.Now = clk.Now
	return New(opts, eng, nil, src, store, n, zerolog.Nop())
}

func prices(ps ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(ps))
	for i, p := range ps {
		out[i] = decimal.NewFromFloat(p)
	}
	return out
}

func TestCycleFiresOnceThenGates(t *testing.T) {
	clk := &clock{now: t0}
	store := openStore(t)
	notes := &recordingNotifier{}
	src := fetcher.NewSequence("HYPE", prices(43, 43, 42, 41.5, 41.2), clk.Now)
	svc := newService(t, src, store, notes, clk, Options{AlertsEnabled: true})
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 5; i++ {
		out, err := svc.RunCycle(ctx)
		require.NoError(t, err)
		outcomes = append(outcomes, out)
		clk.Advance(time.Minute)
	}

	assert.Equal(t, engine.StatusInsufficientData, outcomes[0].Decision.Status)
	assert.Equal(t, classify.TierNone, outcomes[1].Decision.Tier)
	assert.True(t, outcomes[2].Decision.Fired())
	assert.True(t, outcomes[2].Notified)
	assert.True(t, outcomes[3].Decision.Gated)
	assert.True(t, outcomes[4].Decision.Gated)

	require.Len(t, notes.alerts, 1)
	assert.Equal(t, classify.TierRegular, notes.alerts[0].Tier)
	assert.Equal(t, outcomes[2].RecordID, notes.alerts[0].ID)

	count, err := store.CountSamples(ctx, "HYPE")
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	recs, err := svc.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].Gated)
	assert.True(t, recs[2].Notified)
	assert.False(t, recs[2].Gated)

	cds, err := store.LoadCooldowns(ctx, "HYPE")
	require.NoError(t, err)
	require.Len(t, cds, 1)
	assert.True(t, cds[0].FiredAt.Equal(t0.Add(2*time.Minute)))
}

func TestWarmupRestoresWindowAndCooldown(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	for i, p := range []string{"43", "43", "42", "41.5"} {
		require.NoError(t, store.InsertSample(ctx, storage.PriceSample{
			Asset:      "HYPE",
			ObservedAt: t0.Add(time.Duration(i-4) * time.Minute),
			Price:      decimal.RequireFromString(p),
		}))
	}
	require.NoError(t, store.SaveCooldown(ctx, storage.CooldownRecord{Asset: "HYPE", Tier: classify.TierRegular, FiredAt: t0.Add(-2 * time.Minute)}))

	clk := &clock{now: t0}
	notes := &recordingNotifier{}
	svc := newService(t, &scriptedFetcher{results: []any{41.2}}, store, notes, clk, Options{AlertsEnabled: true})
	require.NoError(t, svc.Warmup(ctx))
	assert.Equal(t, 4, svc.Status(t0).Samples)

	out, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, classify.TierRegular, out.Decision.Tier)
	assert.True(t, out.Decision.Gated, "restored cooldown must suppress the alert")
	assert.Empty(t, notes.alerts)
}

func TestFailureStreakReportedOnce(t *testing.T) {
	clk := &clock{now: t0}
	notes := &recordingNotifier{}
	down := errors.New("source down")
	src := &scriptedFetcher{results: []any{down, down, 43.0}}
	svc := newService(t, src, nil, notes, clk, Options{AlertsEnabled: true})
	ctx := context.Background()

	_, err := svc.RunCycle(ctx)
	require.ErrorIs(t, err, down)
	_, err = svc.RunCycle(ctx)
	require.ErrorIs(t, err, down)
	assert.Equal(t, 2, svc.Failures())
	require.Len(t, notes.errs, 1)

	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, svc.Failures())
	assert.Equal(t, []int{2}, notes.recoveries)
}

func TestRejectedSampleSkipsCycle(t *testing.T) {
	clk := &clock{now: t0}
	svc := newService(t, &scriptedFetcher{results: []any{43.0, 42.0}}, nil, nil, clk, Options{})
	ctx := context.Background()

	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)

	// Same poll time is fine, an earlier one is out of order.
	clk.Advance(-time.Minute)
	_, err = svc.RunCycle(ctx)
	require.ErrorIs(t, err, window.ErrInvalidSample)
	assert.Equal(t, 1, svc.Status(t0).Samples)
}

func TestAlertsDisabledStillPersists(t *testing.T) {
	clk := &clock{now: t0}
	store := openStore(t)
	notes := &recordingNotifier{}
	src := fetcher.NewSequence("HYPE", prices(43, 43, 42), clk.Now)
	svc := newService(t, src, store, notes, clk, Options{})

	var out Outcome
	for i := 0; i < 3; i++ {
		var err error
		out, err = svc.RunCycle(context.Background())
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	assert.True(t, out.Decision.Fired())
	assert.False(t, out.Notified)
	assert.Empty(t, notes.alerts)

	recs, err := svc.RecentDecisions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Notified)
}

func TestLockHeldSkipsCycle(t *testing.T) {
	clk := &clock{now: t0}
	store := &lockedStore{Backend: openStore(t), held: true}
	src := &scriptedFetcher{results: []any{43.0}}
	svc := newService(t, src, store, nil, clk, Options{LockKey: 42})

	_, err := svc.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, svc.ProcessTick(context.Background(), t0))
	assert.Len(t, src.results, 1, "price must not be fetched without the lock")

	store.held = false
	require.NoError(t, svc.ProcessTick(context.Background(), t0))
	assert.Empty(t, src.results)
}

func TestStatusUpdatesFollowInterval(t *testing.T) {
	clk := &clock{now: t0}
	notes := &recordingNotifier{}
	src := &scriptedFetcher{results: []any{50.0, 50.0, 50.0, 50.0}}
	svc := newService(t, src, nil, notes, clk, Options{AlertsEnabled: true, StatusUpdates: true, StatusInterval: 30 * time.Minute})
	ctx := context.Background()

	for _, step := range []time.Duration{0, 10 * time.Minute, 25 * time.Minute, 10 * time.Minute} {
		clk.Advance(step)
		_, err := svc.RunCycle(ctx)
		require.NoError(t, err)
	}
	require.Len(t, notes.statuses, 1)
	assert.Equal(t, 3, notes.statuses[0].Samples)
}

func TestRecentDecisionsWithoutStore(t *testing.T) {
	svc := newService(t, &scriptedFetcher{}, nil, nil, &clock{now: t0}, Options{})
	_, err := svc.RecentDecisions(context.Background(), 10)
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestNowIsTheStampingClock(t *testing.T) {
	clk := &clock{now: t0}
	svc := newService(t, &scriptedFetcher{results: []any{43.0}}, nil, nil, clk, Options{})
	assert.Equal(t, t0, svc.Now())

	clk.Advance(time.Minute)
	out, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, svc.Now(), out.Decision.DecidedAt)

	eng, err := engine.New(engineConfig())
	require.NoError(t, err)
	def := New(Options{Asset: "HYPE"}, eng, nil, &scriptedFetcher{}, nil, nil, zerolog.Nop())
	assert.Equal(t, time.UTC, def.Now().Location())
}
