package fetcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.FetchPrice(context.Background()); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := c.FetchPrice(context.Background()); err == nil {
		t.Fatal("missing feed address should fail")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost", FeedAddress: "not-an-address"}, noopLogger())
	if _, err := c.FetchPrice(context.Background()); err == nil {
		t.Fatal("malformed feed address should fail")
	}
}

func packRound(t *testing.T, answer int64, updatedAt time.Time) []byte {
	t.Helper()
	res, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(7), big.NewInt(answer), big.NewInt(updatedAt.Unix()), big.NewInt(updatedAt.Unix()), big.NewInt(7),
	)
	if err != nil {
		t.Fatalf("pack round: %v", err)
	}
	return res
}

func TestParseRound(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	q, err := parseRound(packRound(t, 4_120_000_000, now.Add(-time.Minute)), 8, now, time.Hour)
	if err != nil {
		t.Fatalf("parseRound: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("41.2")) {
		t.Fatalf("expected 41.2, got %s", q.Price)
	}
	if !q.ObservedAt.Equal(now.Add(-time.Minute)) {
		t.Fatalf("unexpected round time %s", q.ObservedAt)
	}

	if _, err := parseRound(packRound(t, 4_120_000_000, now.Add(-2*time.Hour)), 8, now, time.Hour); err == nil {
		t.Fatal("stale round should fail")
	}
	if _, err := parseRound(packRound(t, 4_120_000_000, now.Add(-2*time.Hour)), 8, now, 0); err != nil {
		t.Fatalf("staleness check disabled: %v", err)
	}
	if _, err := parseRound(packRound(t, -1, now), 8, now, time.Hour); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("negative answer should be ErrInvalidPrice, got %v", err)
	}
}
