// Package storage persists price samples, alert decisions and cooldown state.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/m2rcus/hypemonitoring/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrNotFound is returned when an update matched no row.
	ErrNotFound = errors.New("storage: record not found")
)

// SampleStore defines operations for price sample persistence.
type SampleStore interface {
	InsertSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, asset string, limit int) ([]PriceSample, error)
	CountSamples(ctx context.Context, asset string) (int64, error)
}

// DecisionStore defines operations for decision auditing.
type DecisionStore interface {
	InsertDecision(ctx context.Context, rec DecisionRecord) error
	MarkNotified(ctx context.Context, id string) error
	ListRecentDecisions(ctx context.Context, asset string, limit int) ([]DecisionRecord, error)
}

// CooldownStore keeps the last firing time per tier across restarts.
type CooldownStore interface {
	SaveCooldown(ctx context.Context, rec CooldownRecord) error
	LoadCooldowns(ctx context.Context, asset string) ([]CooldownRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything a persistence driver provides.
type Backend interface {
	SampleStore
	DecisionStore
	CooldownStore
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the configured backend and applies the schema. It returns
// (nil, nil) when no driver is configured.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Backend, error) {
	var (
		backend Backend
		err     error
	)

	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = NewPostgres(pool)
	case config.DriverSQLite:
		backend, err = OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	if err := backend.Migrate(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info().Str("component", "storage").Str("driver", strings.ToLower(cfg.Driver)).Msg("storage ready")
	return backend, nil
}

// statements splits an embedded DDL file into single statements.
func statements(ddl string) []string {
	parts := strings.Split(ddl, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
