package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/m2rcus/hypemonitoring/internal/classify"
)

//go:embed schema/postgres.sql
var postgresSchema string

const (
	pgInsertSampleSQL = `INSERT INTO price_samples (asset, observed_at, price, source)
    VALUES ($1, $2, $3::numeric, $4);`

	pgListSamplesBetweenSQL = `SELECT asset, observed_at, price::text, source
    FROM price_samples
    WHERE asset = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	pgListRecentSamplesSQL = `SELECT asset, observed_at, price::text, source
    FROM price_samples
    WHERE asset = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	pgCountSamplesSQL = `SELECT COUNT(*) FROM price_samples WHERE asset = $1;`

	pgInsertDecisionSQL = `INSERT INTO alert_decisions (
        id, asset, decided_at, tier, reason, gated, notified,
        price, target_price, probability, mean, stddev, trend, trend_strength
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10,$11,$12,$13,$14
    );`

	pgMarkNotifiedSQL = `UPDATE alert_decisions SET notified = true WHERE id = $1;`

	pgListRecentDecisionsSQL = `SELECT
        id::text, asset, decided_at, tier, reason, gated, notified,
        price::text, target_price::text, probability, mean, stddev, trend, trend_strength
    FROM alert_decisions
    WHERE asset = $1
    ORDER BY decided_at DESC
    LIMIT $2;`

	pgSaveCooldownSQL = `INSERT INTO cooldowns (asset, tier, fired_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (asset, tier) DO UPDATE SET fired_at = EXCLUDED.fired_at;`

	pgLoadCooldownsSQL = `SELECT asset, tier, fired_at FROM cooldowns WHERE asset = $1 ORDER BY tier;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres is the pgx-backed Backend.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ Backend        = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)

// NewPostgres wires a pgx pool into a Postgres backend.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range statements(postgresSchema) {
		if _, err := pool.Exec(ctx, stmt, pgx.QueryExecModeSimpleProtocol); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSample appends a price observation.
func (s *Postgres) InsertSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgInsertSampleSQL,
		sample.Asset,
		sample.ObservedAt.UTC(),
		sample.Price.String(),
		sample.Source,
	); err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}
	return nil
}

// ListSamplesBetween lists samples in [from, to), oldest first.
func (s *Postgres) ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgListSamplesBetweenSQL, asset, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	defer rows.Close()
	return collectPgSamples(rows)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Postgres) ListRecentSamples(ctx context.Context, asset string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgListRecentSamplesSQL, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()
	return collectPgSamples(rows)
}

func collectPgSamples(rows pgx.Rows) ([]PriceSample, error) {
	samples := make([]PriceSample, 0)
	for rows.Next() {
		var (
			sample   PriceSample
			priceStr string
		)
		if err := rows.Scan(&sample.Asset, &sample.ObservedAt, &priceStr, &sample.Source); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		sample.Price = price
		sample.ObservedAt = sample.ObservedAt.UTC()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// CountSamples counts stored samples for asset.
func (s *Postgres) CountSamples(ctx context.Context, asset string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, pgCountSamplesSQL, asset).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// InsertDecision persists an audit row.
func (s *Postgres) InsertDecision(ctx context.Context, rec DecisionRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgInsertDecisionSQL,
		rec.ID,
		rec.Asset,
		rec.DecidedAt.UTC(),
		rec.Tier.String(),
		string(rec.Reason),
		rec.Gated,
		rec.Notified,
		rec.Price.String(),
		rec.TargetPrice.String(),
		rec.Probability,
		rec.Mean,
		rec.StdDev,
		rec.Trend,
		rec.TrendStrength,
	); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// MarkNotified flags a decision as delivered.
func (s *Postgres) MarkNotified(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, pgMarkNotifiedSQL, id)
	if err != nil {
		return fmt.Errorf("mark decision notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecentDecisions lists audit rows, newest first.
func (s *Postgres) ListRecentDecisions(ctx context.Context, asset string, limit int) ([]DecisionRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgListRecentDecisionsSQL, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	defer rows.Close()

	out := make([]DecisionRecord, 0, limit)
	for rows.Next() {
		var (
			rec                 DecisionRecord
			tier, reason        string
			priceStr, targetStr string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Asset, &rec.DecidedAt, &tier, &reason, &rec.Gated, &rec.Notified,
			&priceStr, &targetStr, &rec.Probability, &rec.Mean, &rec.StdDev, &rec.Trend, &rec.TrendStrength,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := rec.fill(tier, reason, priceStr, targetStr); err != nil {
			return nil, err
		}
		rec.DecidedAt = rec.DecidedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCooldown upserts the last firing time of a tier.
func (s *Postgres) SaveCooldown(ctx context.Context, rec CooldownRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSaveCooldownSQL, rec.Asset, rec.Tier.String(), rec.FiredAt.UTC()); err != nil {
		return fmt.Errorf("save cooldown: %w", err)
	}
	return nil
}

// LoadCooldowns returns every persisted firing time for asset.
func (s *Postgres) LoadCooldowns(ctx context.Context, asset string) ([]CooldownRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgLoadCooldownsSQL, asset)
	if err != nil {
		return nil, fmt.Errorf("load cooldowns: %w", err)
	}
	defer rows.Close()

	out := make([]CooldownRecord, 0, 2)
	for rows.Next() {
		var (
			rec  CooldownRecord
			tier string
		)
		if err := rows.Scan(&rec.Asset, &tier, &rec.FiredAt); err != nil {
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		if rec.Tier, err = classify.ParseTier(tier); err != nil {
			return nil, err
		}
		rec.FiredAt = rec.FiredAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
