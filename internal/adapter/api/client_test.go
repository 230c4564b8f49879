package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/domain"
	"chatline/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

func newTestClient(t *testing.T, handler http.Handler, mutate ...func(*config.APIConfig)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Defaults().API
	cfg.BaseURL = srv.URL + "/api"
	cfg.Token = "tok"
	cfg.RequestsPerSecond = 0
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, newTestLogger())
	require.NoError(t, err)
	return c, srv
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	cfg := config.Defaults().API
	cfg.BaseURL = "/api"
	_, err := New(cfg, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListBots(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/bots", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"items":[{"id":"b1","display_name":"Helper","type":"personal"},{"id":"b2"}]}`)
	}))

	bots, err := c.ListBots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Bot{
		{ID: "b1", DisplayName: "Helper", Type: "personal"},
		{ID: "b2"},
	}, bots)
}

func TestListBotsEmptyItems(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	bots, err := c.ListBots(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, bots)
	assert.Empty(t, bots)
}

func TestListConversationsMapsAccessMode(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bots/b%2F1/chats", r.URL.EscapedPath())
		fmt.Fprint(w, `{"items":[
			{"id":"c1","bot_id":"b/1","kind":"direct","updated_at":"2026-01-02T03:04:05Z"},
			{"id":"c2","bot_id":"b/1","kind":"group","access_mode":"channel_identity_observed","participant_role":"viewer","last_observed_at":"bad"},
			{"id":"c3","bot_id":"b/1","kind":"direct","access_mode":"participant"}
		]}`)
	}))

	convs, err := c.ListConversations(context.Background(), "b/1")
	require.NoError(t, err)
	require.Len(t, convs, 3)

	assert.Equal(t, domain.AccessParticipant, convs[0].AccessMode)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), convs[0].UpdatedAt)
	assert.Equal(t, domain.AccessObserved, convs[1].AccessMode)
	assert.True(t, convs[1].ReadOnly())
	assert.Equal(t, "viewer", convs[1].ParticipantRole)
	assert.True(t, convs[1].LastObservedAt.IsZero())
	assert.Equal(t, domain.AccessParticipant, convs[2].AccessMode)
}

func TestCreateConversation(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/bots/b1/chats", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"kind": "direct"}, body)
		fmt.Fprint(w, `{"id":"c9","kind":"direct"}`)
	}))

	conv, err := c.CreateConversation(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)
	assert.Equal(t, "b1", conv.BotID)
	assert.Equal(t, domain.AccessParticipant, conv.AccessMode)
}

func TestDeleteConversation(t *testing.T) {
	var hit atomic.Bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit.Store(true)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/chats/c1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteConversation(context.Background(), "c1"))
	assert.True(t, hit.Load())
}

func TestListMessagesKeepsRawContent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/c1/messages", r.URL.Path)
		fmt.Fprint(w, `{"items":[{"id":"m1","chat_id":"c1","bot_id":"b1","role":"assistant","content":[{"type":"text","text":"hi"}],"created_at":"2026-01-01T00:00:00Z"}]}`)
	}))

	msgs, err := c.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "hi", domain.PersistedText(msgs[0].Content))
}

func TestDirectoryErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{"not found with text", http.StatusNotFound, "chat gone\n", domain.ErrNotFound, "chat gone"},
		{"unauthorized", http.StatusUnauthorized, "", domain.ErrAuthInvalid, "Request failed: 401"},
		{"rate limited", http.StatusTooManyRequests, "slow down", domain.ErrRateLimit, "slow down"},
		{"server error", http.StatusInternalServerError, "", domain.ErrUnavailable, "Request failed: 500"},
		{"bad request", http.StatusBadRequest, "bad", nil, "bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := c.ListBots(context.Background())
			require.Error(t, err)

			var te *domain.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.status, te.Status)
			assert.Equal(t, tt.message, domain.Reason(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestConnectionFailureIsTransportError(t *testing.T) {
	c, srv := newTestClient(t, http.NotFoundHandler())
	srv.Close()

	_, err := c.ListBots(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, domain.CodeUnavailable, domain.ErrorCodeOf(err))
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), func(cfg *config.APIConfig) { cfg.RequestTimeout = 50 * time.Millisecond })
	defer close(release)

	_, err := c.ListBots(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), func(cfg *config.APIConfig) { cfg.Breaker.MaxFailures = 2 })

	for i := 0; i < 2; i++ {
		_, err := c.ListBots(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.ListBots(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}), func(cfg *config.APIConfig) { cfg.Breaker.MaxFailures = 2 })

	for i := 0; i < 4; i++ {
		_, err := c.ListMessages(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
	assert.Equal(t, int32(4), hits.Load())
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}), func(cfg *config.APIConfig) {
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	})

	_, err := c.ListBots(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ListBots(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestMapHTTPError(t *testing.T) {
	te := mapHTTPError(http.StatusForbidden, []byte("  "), "Stream request failed: %d")
	assert.Equal(t, "Stream request failed: 403", te.Message)
	assert.ErrorIs(t, te, domain.ErrAuthInvalid)

	te = mapHTTPError(http.StatusTeapot, []byte("short and stout"), "x %d")
	assert.Equal(t, "short and stout", te.Error())
	assert.NoError(t, errors.Unwrap(te))
}
