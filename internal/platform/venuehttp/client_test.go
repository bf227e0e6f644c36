package venuehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
	"github.com/alanyoungcy/swaprouter/internal/domain"
)

func TestFetchLiquidity_Book(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "SOL", r.URL.Query().Get("input"))
		assert.Equal(t, "USDC", r.URL.Query().Get("output"))
		assert.Equal(t, "12.5", r.URL.Query().Get("amount"))
		assert.True(t, auth.Verify(r.Method, r.URL.RequestURI(), "", r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"available": true,
			"kind": "clob",
			"depth": "20",
			"effective_price": "99.5",
			"fee_amount": "0.6",
			"slippage_pct": 0.4,
			"timestamp_ms": 1767225600000,
			"book": {"bids": [{"price": "100", "size": "5"}, {"price": "99", "size": "15"}], "taker_fee_bps": 5}
		}`))
	}))
	defer srv.Close()

	c := NewClient("book-a", domain.VenueCLOB, srv.URL, auth)
	src, err := c.FetchLiquidity(context.Background(), "SOL", "USDC", 12.5)
	require.NoError(t, err)
	require.NotNil(t, src)

	assert.Equal(t, "book-a", src.Venue)
	assert.Equal(t, domain.VenueCLOB, src.Kind)
	assert.InDelta(t, 20.0, src.Depth, 1e-12)
	assert.InDelta(t, 99.5, src.EffectivePrice, 1e-12)
	assert.InDelta(t, 0.6, src.FeeAmount, 1e-12)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), src.Timestamp)
	require.NotNil(t, src.Orderbook)
	assert.Equal(t, domain.SellBase, src.Orderbook.Direction)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Size: 5}, {Price: 99, Size: 15}}, src.Orderbook.Bids)
	assert.NoError(t, src.Validate())
}

func TestFetchLiquidity_PoolDefaultsKindAndTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"available": true, "depth": "500", "effective_price": "0.98",
			"reserves": {"in": "10000", "out": "9900", "fee_bps": 30}}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	c := NewClient("pool-x", domain.VenueAMM, srv.URL, nil)
	c.nowFunc = func() time.Time { return now }

	src, err := c.FetchLiquidity(context.Background(), "USDC", "USDT", 100)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, domain.VenueAMM, src.Kind)
	assert.Equal(t, now, src.Timestamp)
	require.NotNil(t, src.Reserves)
	assert.Equal(t, domain.Reserves{In: 10000, Out: 9900, FeeBps: 30}, *src.Reserves)
}

func TestFetchLiquidity_Absent(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, _ *http.Request) { http.NotFound(w, nil) },
		"unavailable": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"available": false}`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			src, err := NewClient("v", domain.VenueRFQ, srv.URL, nil).FetchLiquidity(context.Background(), "A", "B", 1)
			require.NoError(t, err)
			assert.Nil(t, src)
		})
	}
}

func TestFetchLiquidity_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient("v", domain.VenueRFQ, srv.URL, nil).FetchLiquidity(context.Background(), "A", "B", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVenueUnavailable)
	assert.Contains(t, err.Error(), "503")
}

func TestFetchLiquidity_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient("v", domain.VenueRFQ, srv.URL, nil).FetchLiquidity(context.Background(), "A", "B", 1)
	assert.Error(t, err)
}
