package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const marketsFixture = `[
  {"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"https://img/btc.png","current_price":50000.5,"market_cap":980000000000,"market_cap_rank":1,"total_volume":25000000000,"price_change_percentage_24h":-1.25},
  {"id":"ethereum","symbol":"eth","name":"Ethereum","image":"https://img/eth.png","current_price":3000,"market_cap":360000000000,"market_cap_rank":2,"total_volume":12000000000,"price_change_percentage_24h":null}
]`

func TestCoinGeckoClient_FetchMarkets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("vs_currency") != "eur" || q.Get("order") != "market_cap_desc" ||
			q.Get("per_page") != "100" || q.Get("page") != "1" || q.Get("sparkline") != "false" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("x-cg-demo-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(marketsFixture))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "key", time.Second)
	quotes, err := client.FetchMarkets(context.Background(), "eur")
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}

	btc := quotes[0]
	if btc.ID != "bitcoin" || btc.Symbol != "btc" || btc.CurrentPrice != 50000.5 || btc.MarketCapRank != 1 {
		t.Fatalf("unexpected bitcoin quote %+v", btc)
	}
	if btc.PriceChangePercentage24h == nil || *btc.PriceChangePercentage24h != -1.25 {
		t.Fatalf("unexpected 24h change %v", btc.PriceChangePercentage24h)
	}
	if quotes[1].PriceChangePercentage24h != nil {
		t.Fatal("null 24h change must decode to nil")
	}
}

func TestCoinGeckoClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewCoinGeckoClient(server.URL, "", time.Second).FetchMarkets(context.Background(), "usd")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusTooManyRequests || upstream.Currency != "usd" {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestCoinGeckoClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":{"error_code":500}}`))
	}))
	defer server.Close()

	_, err := NewCoinGeckoClient(server.URL, "", time.Second).FetchMarkets(context.Background(), "usd")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestCoinGeckoClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	_, err := NewCoinGeckoClient(server.URL, "", 50*time.Millisecond).FetchMarkets(context.Background(), "usd")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected timeout to surface as ErrUpstreamUnavailable, got %v", err)
	}
}
