package ratefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// DefaultCoinGeckoURL is the public API root.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CryptoCode is the catalogue code of the tracked stablecoin.
const CryptoCode = "USDT"

var tetherTargets = []string{"try", "usd", "eur"}

// CoinGeckoClient reads spot prices.
type CoinGeckoClient struct {
	baseURL string
	client  *http.Client
}

// NewCoinGeckoClient builds a client. Zero timeout means 30 seconds.
func NewCoinGeckoClient(baseURL string, timeout time.Duration) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CoinGeckoClient{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: timeout}}
}

// TetherPrices returns the USDT price keyed by upper-case fiat code.
func (c *CoinGeckoClient) TetherPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", "tether")
	q.Set("vs_currencies", strings.Join(tetherTargets, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: coingecko: %v", httpx.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: coingecko answered %d", httpx.ErrUnavailable, resp.StatusCode)
	}
	var payload map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: coingecko: decode: %v", httpx.ErrUnavailable, err)
	}
	prices := make(map[string]decimal.Decimal, len(tetherTargets))
	for code, price := range payload["tether"] {
		if price.IsPositive() {
			prices[strings.ToUpper(code)] = price
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: coingecko returned no tether prices", httpx.ErrUnavailable)
	}
	return prices, nil
}
