package models

import (
	"strings"
	"time"
)

// DefaultCurrency is the display currency of a freshly connected subscriber
const DefaultCurrency = "usd"

// CoinQuote is one entry of the CoinGecko /coins/markets response
type CoinQuote struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             float64  `json:"current_price"`
	MarketCap                float64  `json:"market_cap"`
	MarketCapRank            int      `json:"market_cap_rank"`
	TotalVolume              float64  `json:"total_volume"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

// PriceSnapshot is the immutable set of quotes fetched for one currency.
// Quotes keep the upstream ordering (market cap descending).
type PriceSnapshot struct {
	Currency  string      `json:"currency"`
	FetchedAt time.Time   `json:"fetched_at"`
	Quotes    []CoinQuote `json:"quotes"`

	index map[string]int
}

// NewPriceSnapshot builds a snapshot and its coin index
func NewPriceSnapshot(currency string, fetchedAt time.Time, quotes []CoinQuote) *PriceSnapshot {
	if quotes == nil {
		quotes = []CoinQuote{}
	}
	index := make(map[string]int, len(quotes))
	for i, q := range quotes {
		if _, exists := index[q.ID]; !exists {
			index[q.ID] = i
		}
	}
	return &PriceSnapshot{
		Currency:  NormalizeCurrency(currency),
		FetchedAt: fetchedAt,
		Quotes:    quotes,
		index:     index,
	}
}

// EmptySnapshot returns a snapshot without quotes
func EmptySnapshot(currency string) *PriceSnapshot {
	return NewPriceSnapshot(currency, time.Time{}, nil)
}

// Find looks up the quote of a coin
func (s *PriceSnapshot) Find(coinID string) (CoinQuote, bool) {
	if s == nil {
		return CoinQuote{}, false
	}
	if s.index == nil {
		for _, q := range s.Quotes {
			if q.ID == coinID {
				return q, true
			}
		}
		return CoinQuote{}, false
	}
	i, ok := s.index[coinID]
	if !ok {
		return CoinQuote{}, false
	}
	return s.Quotes[i], true
}

// Len returns the number of quotes
func (s *PriceSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Quotes)
}

// IsEmpty reports whether the snapshot carries no quotes
func (s *PriceSnapshot) IsEmpty() bool {
	return s.Len() == 0
}

// NormalizeCurrency lower-cases and trims a currency code
func NormalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}

// IsValidCurrency checks the shape of a vs_currency code (btc, usd, eur, bits, ...)
func IsValidCurrency(currency string) bool {
	if len(currency) < 3 || len(currency) > 5 {
		return false
	}
	for _, r := range currency {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
