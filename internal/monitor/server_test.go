package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"feedhandler/internal/book"
	"feedhandler/pkg/types"
)

func TestHandleHealth(t *testing.T) {
	store := book.NewMemory()
	s := NewServer(":0", store, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestHandleBooksReturnsStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	store := book.NewMemory()
	if err := store.Set(ctx, "BTC-USD", types.BID, mustDec(t, "100"), mustDec(t, "1")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	s := NewServer(":0", store, slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
	rec := httptest.NewRecorder()
	s.handleBooks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var books map[string]types.Book
	if err := json.Unmarshal(rec.Body.Bytes(), &books); err != nil {
		t.Fatalf("decode: %v", err)
	}
	bk, ok := books["BTC-USD"]
	if !ok || len(bk.Bids) != 1 {
		t.Fatalf("expected a BTC-USD book with one bid, got %+v", books)
	}
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
