package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSequenceExhausted is returned once every configured price was served.
var ErrSequenceExhausted = errors.New("price sequence exhausted")

// Sequence replays a fixed list of prices, one per call. It backs the
// simulate-alert command.
type Sequence struct {
	mu     sync.Mutex
	asset  string
	prices []decimal.Decimal
	next   int
	now    func() time.Time
}

// NewSequence returns a fetcher serving prices in order. now stamps each quote.
func NewSequence(asset string, prices []decimal.Decimal, now func() time.Time) *Sequence {
	if now == nil {
		now = time.Now
	}
	return &Sequence{asset: asset, prices: prices, now: now}
}

// FetchPrice returns the next price of the sequence.
func (s *Sequence) FetchPrice(ctx context.Context) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.prices) {
		return Quote{}, ErrSequenceExhausted
	}
	price := s.prices[s.next]
	s.next++

	if err := checkPrice("sequence", price); err != nil {
		return Quote{}, err
	}
	return Quote{Asset: s.asset, Price: price, ObservedAt: s.now().UTC(), Source: "sequence"}, nil
}

// Remaining reports how many prices are left.
func (s *Sequence) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prices) - s.next
}

var _ PriceFetcher = (*Sequence)(nil)
