package oraclehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/price/SOL":
			_, _ = w.Write([]byte(`{"asset":"SOL","price":"151.25","conf":"0.12","publish_time":1767225600}`))
		case "/v1/price/BAD":
			_, _ = w.Write([]byte(`{"asset":"BAD","price":"n/a"}`))
		case "/v1/price/DOWN":
			http.Error(w, "upstream", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient("pyth", domain.OracleOnChain, srv.URL+"/", "key-1")

	p, err := c.GetPrice(context.Background(), "SOL")
	require.NoError(t, err)
	assert.Equal(t, "SOL", p.Asset)
	assert.InDelta(t, 151.25, p.Price, 1e-12)
	assert.InDelta(t, 0.12, p.Confidence, 1e-12)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.PublishTime)
	assert.Equal(t, "pyth", p.Provider)
	assert.Equal(t, domain.OracleOnChain, p.Source)

	_, err = c.GetPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.GetPrice(context.Background(), "BAD")
	assert.Error(t, err)

	_, err = c.GetPrice(context.Background(), "DOWN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
