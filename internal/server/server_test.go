package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/swaprouter/internal/breaker"
	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/metrics"
	"github.com/alanyoungcy/swaprouter/internal/server/handler"
)

type fixedBreaker struct{}

func (fixedBreaker) Snapshot() breaker.Snapshot { return breaker.Snapshot{State: domain.BreakerClosed} }

type noVenues struct{}

func (noVenues) VenueHealth() []domain.VenueHealth { return nil }

func newTestServer(cfg Config) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	return NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler("server", nil, logger),
		Status:  handler.NewStatusHandler(fixedBreaker{}, noVenues{}),
		Metrics: m.Handler(),
	}, nil, logger).Handler()
}

func do(h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_PublicRoutesSkipAuth(t *testing.T) {
	h := newTestServer(Config{APIKey: "k"})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", nil).Code)
}

func TestServer_ProtectedRoutes(t *testing.T) {
	h := newTestServer(Config{APIKey: "k"})

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/breaker", nil).Code)
	rec := do(h, http.MethodGet, "/api/breaker", map[string]string{"X-API-Key": "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"CLOSED"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(h, http.MethodGet, "/api/venues/health", map[string]string{"Authorization": "Bearer k"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"venues":[],"healthy":0,"total":0}`, rec.Body.String())
}

func TestServer_UnregisteredHandlersAre404(t *testing.T) {
	h := newTestServer(Config{})
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/swaps", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodPost, "/api/breaker", nil).Code)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func TestServer_RateLimitAppliesToAPIOnly(t *testing.T) {
	h := newTestServer(Config{Limiter: denyAll{}, RateLimit: 10, RateWindow: time.Second})
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/breaker", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
}
