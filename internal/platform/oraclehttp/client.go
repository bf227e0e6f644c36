// Package oraclehttp reads USD prices from an HTTP price oracle gateway.
package oraclehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// APIPrice is the body returned by GET /v1/price/{asset}.
type APIPrice struct {
	Asset       string `json:"asset"`
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	PublishTime int64  `json:"publish_time"`
}

// Client fetches prices for one oracle provider.
type Client struct {
	provider   string
	source     domain.OracleSource
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. provider names the oracle network in returned
// prices, e.g. "pyth"; source tags how the price was obtained.
func NewClient(provider string, source domain.OracleSource, baseURL, apiKey string) *Client {
	return &Client{
		provider: provider,
		source:   source,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetPrice returns the latest price for asset. An unknown asset yields
// domain.ErrNotFound.
func (c *Client) GetPrice(ctx context.Context, asset string) (domain.OraclePriceData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/price/"+url.PathEscape(asset), nil)
	if err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: %s price %s: %w", c.provider, asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: %s price %s: %w", c.provider, asset, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: %s price %s (HTTP %d): %s", c.provider, asset, resp.StatusCode, string(body))
	}

	var p APIPrice
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: decode price: %w", err)
	}
	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return domain.OraclePriceData{}, fmt.Errorf("oraclehttp: parse price %q: %w", p.Price, err)
	}
	conf, _ := strconv.ParseFloat(p.Conf, 64)

	return domain.OraclePriceData{
		Asset:       asset,
		Price:       price,
		Confidence:  conf,
		PublishTime: time.Unix(p.PublishTime, 0).UTC(),
		Provider:    c.provider,
		Source:      c.source,
	}, nil
}
