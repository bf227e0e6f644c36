// Package venuehttp is a venue adapter for liquidity providers that expose a
// JSON quote endpoint.
package venuehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// Client fetches quotes from one venue's HTTP API.
type Client struct {
	name       string
	kind       domain.VenueKind
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	nowFunc    func() time.Time
}

// NewClient creates a Client for the venue name at baseURL, e.g.
// "https://quotes.venue.example". auth may be nil for public endpoints.
func NewClient(name string, kind domain.VenueKind, baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		name:    name,
		kind:    kind,
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		nowFunc: time.Now,
	}
}

// Name returns the venue name.
func (c *Client) Name() string { return c.name }

// FetchLiquidity implements domain.VenueLiquiditySource. A 404 or a quote
// marked unavailable means the venue has no liquidity for the pair.
func (c *Client) FetchLiquidity(ctx context.Context, inputAsset, outputAsset string, amount float64) (*domain.LiquiditySource, error) {
	params := url.Values{}
	params.Set("input", inputAsset)
	params.Set("output", outputAsset)
	params.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))

	body, status, err := c.doGet(ctx, "/v1/quote?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("venuehttp/%s: quote: %w: %w", c.name, domain.ErrVenueUnavailable, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("venuehttp/%s: quote: %w: HTTP %d: %s", c.name, domain.ErrVenueUnavailable, status, string(body))
	}

	var q APIQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("venuehttp/%s: decode quote: %w", c.name, err)
	}
	if !q.Available {
		return nil, nil
	}
	return q.ToDomainSource(c.name, c.kind, c.nowFunc().UTC()), nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.auth.Sign(req, nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
