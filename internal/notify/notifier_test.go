package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"swap_failed", " breaker_open "}, discard())

	require.NoError(t, n.Notify(context.Background(), "swap_failed", "failed", "m"))
	require.NoError(t, n.Notify(context.Background(), "swap_filled", "filled", "m"))
	require.NoError(t, n.Notify(context.Background(), EventBreakerOpen, "open", "m"))
	require.NoError(t, n.NotifyAll(context.Background(), "all", "m"))

	assert.Equal(t, []string{"failed", "open", "all"}, s.sent())
}

func TestNotifier_EmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, s.sent(), 1)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled())
}

func TestNotifier_OneSenderFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.sent(), 1)
}

func TestNotifier_BreakerListener(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventBreakerOpen}, discard())
	fn := n.BreakerListener(context.Background())

	fn(domain.BreakerClosed, domain.BreakerOpen)
	fn(domain.BreakerOpen, domain.BreakerHalfOpen)
	fn(domain.BreakerHalfOpen, domain.BreakerClosed)

	assert.Equal(t, []string{"Circuit breaker open"}, s.sent())
}

func TestTelegramSender_PostsMarkdownMessage(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, ts.Send(context.Background(), "Swap failed", "all candidates reverted"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Swap failed*\nall candidates reverted", got["text"])
	assert.Equal(t, "telegram", ts.Name())
}

func TestTelegramSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("tok", "1").WithBaseURL(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDiscordSender_TruncatesLongMessages(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ds := NewDiscordSender(srv.URL)
	ds.client.Timeout = time.Second
	require.NoError(t, ds.Send(context.Background(), "t", strings.Repeat("x", 3000)))

	assert.Len(t, got["content"], discordMaxContent)
	assert.True(t, strings.HasSuffix(got["content"], "..."))
	assert.Equal(t, "swaprouter", got["username"])
}
