package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/adapter/stream"
	"chatline/internal/domain"
	"chatline/internal/infra/config"
)

func TestOpenStreamRequestShape(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chats/c1/messages/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{
			"query":           "hello",
			"current_channel": "web",
			"channels":        []any{"web"},
		}, body)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: ok\n")
	}))

	body, err := c.OpenStream(context.Background(), "c1", "hello")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: ok\n", string(data))
}

func TestOpenStreamUsesConfiguredChannel(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body streamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cli", body.CurrentChannel)
		assert.Equal(t, []string{"cli"}, body.Channels)
		fmt.Fprint(w, "data: x\n")
	}), func(cfg *config.APIConfig) { cfg.Channel = "cli" })

	body, err := c.OpenStream(context.Background(), "c1", "q")
	require.NoError(t, err)
	require.NoError(t, body.Close())
}

func TestOpenStreamDecodesFlushedFrames(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		// Frames are split across flushes mid-line.
		parts := []string{
			`data: {"type":"text_delta","del`,
			"ta\":\"Hel\"}\ndata: {\"type\":\"text_delta\",\"delta\":\"lo\"}\n",
			`data: {"type":"agent_end","messages":[]}` + "\n",
			"data: [DONE]\n",
		}
		for _, p := range parts {
			fmt.Fprint(w, p)
			flusher.Flush()
		}
	}))

	body, err := c.OpenStream(context.Background(), "c1", "hi")
	require.NoError(t, err)
	defer body.Close()

	var events []domain.ChatEvent
	err = stream.Decode(context.Background(), body, func(ev domain.ChatEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.TextDelta{Delta: "Hel"}, events[0])
	assert.Equal(t, domain.TextDelta{Delta: "lo"}, events[1])
	assert.IsType(t, domain.AgentEnd{}, events[2])
}

func TestOpenStreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"status with text", http.StatusPaymentRequired, "quota exceeded", "quota exceeded"},
		{"status without text", http.StatusBadGateway, "", "Stream request failed: 502"},
		{"empty success body", http.StatusOK, "", "Stream request failed: 200 (empty body)"},
		{"no content", http.StatusNoContent, "", "Stream request failed: 204 (empty body)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", fmt.Sprint(len(tt.body)))
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			body, err := c.OpenStream(context.Background(), "c1", "hi")
			require.Error(t, err)
			assert.Nil(t, body)

			var te *domain.TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.status, te.Status)
			assert.Equal(t, tt.message, domain.Reason(err))
		})
	}
}

func TestOpenStreamCloseIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: a\n")
	}))

	body, err := c.OpenStream(context.Background(), "c1", "hi")
	require.NoError(t, err)
	_, _ = io.ReadAll(body)
	assert.NoError(t, body.Close())
	_ = body.Close()
}
