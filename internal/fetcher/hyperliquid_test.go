package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func bookServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/info" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req l2BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Type != "l2Book" || req.Coin != "HYPE" {
			t.Errorf("unexpected request body %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestHyperliquidFetchSuccess(t *testing.T) {
	srv := bookServer(t, http.StatusOK, map[string]any{
		"coin": "HYPE",
		"time": 1740830400000,
		"levels": [][]map[string]any{
			{{"px": "41.1", "sz": "12.5", "n": 3}, {"px": "41.0", "sz": "4", "n": 1}},
			{{"px": "41.3", "sz": "8", "n": 2}},
		},
	})
	defer srv.Close()

	h := NewHyperliquid(HyperliquidOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	q, err := h.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("FetchPrice: %v", err)
	}
	if !q.Price.Equal(decimal.RequireFromString("41.2")) {
		t.Fatalf("expected mid 41.2, got %s", q.Price)
	}
	if q.Asset != "HYPE" || q.Source != "hyperliquid" {
		t.Fatalf("unexpected quote metadata %+v", q)
	}
	if !q.ObservedAt.Equal(time.UnixMilli(1740830400000)) {
		t.Fatalf("observed time should come from the book, got %s", q.ObservedAt)
	}
	if q.Float() != 41.2 {
		t.Fatalf("float conversion: %v", q.Float())
	}
}

func TestHyperliquidFetchHTTPError(t *testing.T) {
	srv := bookServer(t, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
	defer srv.Close()

	h := NewHyperliquid(HyperliquidOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := h.FetchPrice(context.Background()); err == nil {
		t.Fatal("HTTP 429 should fail")
	}
}

func TestHyperliquidFetchEmptyBook(t *testing.T) {
	srv := bookServer(t, http.StatusOK, map[string]any{
		"coin":   "HYPE",
		"levels": [][]map[string]any{{}, {{"px": "41.3", "sz": "8", "n": 2}}},
	})
	defer srv.Close()

	h := NewHyperliquid(HyperliquidOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := h.FetchPrice(context.Background()); err == nil {
		t.Fatal("a book without bids should fail")
	}
}

func TestHyperliquidFetchRejectsNonPositivePrice(t *testing.T) {
	srv := bookServer(t, http.StatusOK, map[string]any{
		"coin": "HYPE",
		"levels": [][]map[string]any{
			{{"px": "0", "sz": "1", "n": 1}},
			{{"px": "41.3", "sz": "8", "n": 2}},
		},
	})
	defer srv.Close()

	h := NewHyperliquid(HyperliquidOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := h.FetchPrice(context.Background())
	if !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}
