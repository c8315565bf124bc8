package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/polysweep/sweepmon/internal/domain"
)

func TestGammaResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/slug/btc-15m-1700000000" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "1",
			"slug": "btc-15m-1700000000",
			"endDate": "2026-01-02T15:15:00Z",
			"markets": [{
				"clobTokenIds": "[\"tok-up\",\"tok-down\"]",
				"outcomes": "[\"Up\",\"Down\"]",
				"outcomePrices": "[\"0\",\"0\"]"
			}]
		}`))
	}))
	defer srv.Close()

	client := NewGammaClient(srv.URL)
	meta, err := client.Resolve(context.Background(), "btc-15m-1700000000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if meta.Slug != "btc-15m-1700000000" {
		t.Errorf("slug = %q", meta.Slug)
	}
	if len(meta.InstrumentIDs) != 2 {
		t.Fatalf("instrument ids = %v", meta.InstrumentIDs)
	}
	if meta.Ended {
		t.Error("expected Ended=false")
	}
}

func TestGammaResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"event not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewGammaClient(srv.URL)
	_, err := client.Resolve(context.Background(), "btc-15m-99")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGammaResolveNoMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","markets":[]}`))
	}))
	defer srv.Close()

	client := NewGammaClient(srv.URL)
	_, err := client.Resolve(context.Background(), "eth-15m-1700000000")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty markets, got %v", err)
	}
}
