package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"crypto_alert_backend/models"
)

// CoinGecko constants
const (
	DefaultCoinGeckoURL    = "https://api.coingecko.com/api/v3"
	MarketsPerPage         = 100
	DefaultUpstreamTimeout = 15 * time.Second
)

// PriceSource fetches the market snapshot of one currency
type PriceSource interface {
	FetchMarkets(ctx context.Context, currency string) ([]models.CoinQuote, error)
}

// CoinGeckoClient calls the CoinGecko /coins/markets endpoint
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinGeckoClient creates a new CoinGecko client
func NewCoinGeckoClient(baseURL, apiKey string, timeout time.Duration) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &CoinGeckoClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchMarkets returns the top coins by market cap priced in currency
func (c *CoinGeckoClient) FetchMarkets(ctx context.Context, currency string) ([]models.CoinQuote, error) {
	params := url.Values{}
	params.Set("vs_currency", currency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", fmt.Sprintf("%d", MarketsPerPage))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	endpoint := c.baseURL + "/coins/markets?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &UpstreamError{Currency: currency, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Currency: currency, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return nil, &UpstreamError{Currency: currency, StatusCode: resp.StatusCode}
	}

	var quotes []models.CoinQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, &UpstreamError{Currency: currency, Err: fmt.Errorf("failed to decode markets: %w", err)}
	}

	return quotes, nil
}
