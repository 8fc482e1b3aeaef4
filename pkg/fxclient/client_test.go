package fxclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvert_SameCurrencyShortCircuits(t *testing.T) {
	client := NewClient("http://127.0.0.1:1") // unreachable on purpose

	amount, err := client.Convert(context.Background(), 9900, "usd", "USD")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if amount != 9900 {
		t.Fatalf("expected amount unchanged, got %d", amount)
	}
}

func TestConvert_CallsService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount       int64  `json:"amount"`
			FromCurrency string `json:"from_currency"`
			ToCurrency   string `json:"to_currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request decode failed: %v", err)
		}
		if req.FromCurrency != "USD" || req.ToCurrency != "BRL" {
			t.Errorf("unexpected currencies %s -> %s", req.FromCurrency, req.ToCurrency)
		}
		json.NewEncoder(w).Encode(map[string]any{"amount": req.Amount * 5, "currency": req.ToCurrency})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	amount, err := client.Convert(context.Background(), 1000, "usd", "brl")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if amount != 5000 {
		t.Fatalf("expected converted amount 5000, got %d", amount)
	}
}

func TestConvert_ErrorStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.Convert(context.Background(), 1000, "USD", "EUR"); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestConvert_EmptyCurrencyRejected(t *testing.T) {
	client := NewClient("http://example.invalid")
	if _, err := client.Convert(context.Background(), 1000, "", "USD"); err == nil {
		t.Fatal("expected an error for an empty currency code")
	}
}
