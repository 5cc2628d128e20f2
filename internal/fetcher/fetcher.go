// Package fetcher retrieves the current HYPE price from a market data source.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when a source reports a price that cannot be
// recorded (zero, negative or unparsable).
var ErrInvalidPrice = errors.New("invalid price")

// Quote is one price observation as reported by a source.
type Quote struct {
	Asset      string
	Price      decimal.Decimal
	ObservedAt time.Time
	Source     string
	Raw        json.RawMessage
}

// Float returns the price as a float64 for the statistics engine.
func (q Quote) Float() float64 {
	return q.Price.InexactFloat64()
}

// PriceFetcher retrieves the latest price of the monitored asset.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (Quote, error)
}

func checkPrice(source string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%s returned %s: %w", source, price.String(), ErrInvalidPrice)
	}
	return nil
}
