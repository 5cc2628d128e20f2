package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	hyperliquidInfoPath    = "/info"
	defaultHyperliquidURL  = "https://api.hyperliquid.xyz"
	defaultHyperliquidCoin = "HYPE"
	sourceHyperliquid      = "hyperliquid"
)

var decTwo = decimal.NewFromInt(2)

// HyperliquidOptions parameterise the order book fetcher.
type HyperliquidOptions struct {
	BaseURL   string
	Asset     string
	Timeout   time.Duration
	UserAgent string
}

// Hyperliquid reads the mid price of the best bid and ask from the l2Book endpoint.
type Hyperliquid struct {
	opts    HyperliquidOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewHyperliquid constructs a Hyperliquid fetcher.
func NewHyperliquid(opts HyperliquidOptions, logger zerolog.Logger) *Hyperliquid {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultHyperliquidURL
	}
	if strings.TrimSpace(opts.Asset) == "" {
		opts.Asset = defaultHyperliquidCoin
	}

	return &Hyperliquid{
		opts:    opts,
		logger:  logger.With().Str("component", "hyperliquid_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchPrice posts an l2Book request and returns the mid price.
func (h *Hyperliquid) FetchPrice(ctx context.Context) (Quote, error) {
	body, err := json.Marshal(l2BookRequest{Type: "l2Book", Coin: h.opts.Asset})
	if err != nil {
		return Quote{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+hyperliquidInfoPath, bytes.NewReader(body))
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "hypemonitor/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseHTTPError(resp.StatusCode, payload)
	}

	var book l2BookResponse
	if err := json.Unmarshal(payload, &book); err != nil {
		return Quote{}, fmt.Errorf("decode l2Book: %w", err)
	}

	mid, err := book.mid()
	if err != nil {
		return Quote{}, err
	}
	if err := checkPrice(sourceHyperliquid, mid); err != nil {
		return Quote{}, err
	}

	observed := h.now().UTC()
	if book.Time > 0 {
		observed = time.UnixMilli(book.Time).UTC()
	}

	h.logger.Debug().Str("asset", h.opts.Asset).Str("mid", mid.String()).Msg("order book mid price")

	return Quote{
		Asset:      h.opts.Asset,
		Price:      mid,
		ObservedAt: observed,
		Source:     sourceHyperliquid,
		Raw:        json.RawMessage(payload),
	}, nil
}

type l2BookRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type l2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2BookResponse struct {
	Coin   string      `json:"coin"`
	Time   int64       `json:"time"`
	Levels [][]l2Level `json:"levels"`
}

// mid averages the best bid (levels[0][0]) and best ask (levels[1][0]).
func (b l2BookResponse) mid() (decimal.Decimal, error) {
	if len(b.Levels) < 2 || len(b.Levels[0]) == 0 || len(b.Levels[1]) == 0 {
		return decimal.Decimal{}, errors.New("order book has no bid or ask")
	}

	bid, err := decimal.NewFromString(b.Levels[0][0].Px)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse best bid: %w", err)
	}
	ask, err := decimal.NewFromString(b.Levels[1][0].Px)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse best ask: %w", err)
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("bid %s ask %s: %w", bid, ask, ErrInvalidPrice)
	}

	return bid.Add(ask).Div(decTwo), nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("hyperliquid api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("hyperliquid api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("hyperliquid api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("hyperliquid api error (%d)", status)
}

var _ PriceFetcher = (*Hyperliquid)(nil)
