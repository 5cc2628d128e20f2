package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/m2rcus/hypemonitoring/internal/classify"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLite is the single-file Backend. Timestamps are stored as unix
// nanoseconds and decimals as text.
type SQLite struct {
	db *sql.DB
}

var _ Backend = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

// Migrate applies the embedded schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	for _, stmt := range statements(sqliteSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLite) InsertSample(ctx context.Context, sample PriceSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_samples (asset, observed_at, price, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		sample.Asset, nanos(sample.ObservedAt), sample.Price.String(), sample.Source, nanos(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}
	return nil
}

func (s *SQLite) ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset, observed_at, price, source FROM price_samples
		 WHERE asset = ? AND observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at, id`,
		asset, nanos(from), nanos(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	defer rows.Close()
	return collectSQLiteSamples(rows)
}

func (s *SQLite) ListRecentSamples(ctx context.Context, asset string, limit int) ([]PriceSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset, observed_at, price, source FROM price_samples
		 WHERE asset = ?
		 ORDER BY observed_at DESC, id DESC
		 LIMIT ?`,
		asset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()
	return collectSQLiteSamples(rows)
}

func collectSQLiteSamples(rows *sql.Rows) ([]PriceSample, error) {
	samples := make([]PriceSample, 0)
	for rows.Next() {
		var (
			sample   PriceSample
			observed int64
			priceStr string
		)
		if err := rows.Scan(&sample.Asset, &observed, &priceStr, &sample.Source); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		sample.ObservedAt = fromNanos(observed)
		sample.Price = price
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (s *SQLite) CountSamples(ctx context.Context, asset string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_samples WHERE asset = ?`, asset).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

func (s *SQLite) InsertDecision(ctx context.Context, rec DecisionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_decisions (
			id, asset, decided_at, tier, reason, gated, notified,
			price, target_price, probability, mean, stddev, trend, trend_strength, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Asset, nanos(rec.DecidedAt), rec.Tier.String(), string(rec.Reason),
		boolInt(rec.Gated), boolInt(rec.Notified),
		rec.Price.String(), rec.TargetPrice.String(),
		rec.Probability, rec.Mean, rec.StdDev, rec.Trend, rec.TrendStrength,
		nanos(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *SQLite) MarkNotified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alert_decisions SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark decision notified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListRecentDecisions(ctx context.Context, asset string, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset, decided_at, tier, reason, gated, notified,
			price, target_price, probability, mean, stddev, trend, trend_strength
		 FROM alert_decisions
		 WHERE asset = ?
		 ORDER BY decided_at DESC
		 LIMIT ?`,
		asset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	defer rows.Close()

	out := make([]DecisionRecord, 0, limit)
	for rows.Next() {
		var (
			rec                 DecisionRecord
			decided             int64
			gated, notified     int
			tier, reason        string
			priceStr, targetStr string
		)
		if err := rows.Scan(
			&rec.ID, &rec.Asset, &decided, &tier, &reason, &gated, &notified,
			&priceStr, &targetStr, &rec.Probability, &rec.Mean, &rec.StdDev, &rec.Trend, &rec.TrendStrength,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := rec.fill(tier, reason, priceStr, targetStr); err != nil {
			return nil, err
		}
		rec.DecidedAt = fromNanos(decided)
		rec.Gated = gated != 0
		rec.Notified = notified != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveCooldown(ctx context.Context, rec CooldownRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cooldowns (asset, tier, fired_at) VALUES (?, ?, ?)
		 ON CONFLICT (asset, tier) DO UPDATE SET fired_at = excluded.fired_at`,
		rec.Asset, rec.Tier.String(), nanos(rec.FiredAt),
	)
	if err != nil {
		return fmt.Errorf("save cooldown: %w", err)
	}
	return nil
}

func (s *SQLite) LoadCooldowns(ctx context.Context, asset string) ([]CooldownRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT asset, tier, fired_at FROM cooldowns WHERE asset = ? ORDER BY tier`, asset)
	if err != nil {
		return nil, fmt.Errorf("load cooldowns: %w", err)
	}
	defer rows.Close()

	out := make([]CooldownRecord, 0, 2)
	for rows.Next() {
		var (
			rec   CooldownRecord
			tier  string
			fired int64
		)
		if err := rows.Scan(&rec.Asset, &tier, &fired); err != nil {
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		if rec.Tier, err = classify.ParseTier(tier); err != nil {
			return nil, err
		}
		rec.FiredAt = fromNanos(fired)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
