package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/internal/domain"
	"chatline/internal/infra/config"
)

type wireChat struct {
	ID         string `json:"id"`
	BotID      string `json:"bot_id"`
	Kind       string `json:"kind"`
	Title      string `json:"title,omitempty"`
	AccessMode string `json:"access_mode,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

type wireStreamRequest struct {
	Query          string   `json:"query"`
	CurrentChannel string   `json:"current_channel"`
	Channels       []string `json:"channels"`
}

// fakeServer is an in-memory chat server.
type fakeServer struct {
	mu       sync.Mutex
	bots     []domain.Bot
	chats    map[string][]wireChat
	messages map[string][]domain.PersistedMessage
	stream   string
	streams  []wireStreamRequest
	created  int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{
		bots: []domain.Bot{{ID: "b1", DisplayName: "Ada"}, {ID: "b2", DisplayName: "Grace"}},
		chats: map[string][]wireChat{
			"b1": {
				{ID: "c1", BotID: "b1", Kind: "direct", Title: "Planning", UpdatedAt: "2026-02-01T10:00:00Z"},
				{ID: "c2", BotID: "b1", Kind: "group", Title: "Team room", AccessMode: "channel_identity_observed"},
			},
			"b2": {{ID: "c3", BotID: "b2", Kind: "direct"}},
		},
		messages: map[string][]domain.PersistedMessage{
			"c1": {
				{ID: "m1", ChatID: "c1", Role: "user", Content: json.RawMessage(`"what's next?"`), CreatedAt: "2026-02-01T10:00:00Z"},
				{ID: "m2", ChatID: "c1", BotID: "b1", Role: "assistant", Content: json.RawMessage(`"ship it"`), CreatedAt: "2026-02-01T10:00:05Z"},
			},
		},
		stream: "data: {\"type\":\"text_delta\",\"delta\":\"Hel\"}\n" +
			"data: {\"type\":\"text_delta\",\"delta\":\"lo\"}\n" +
			"data: {\"type\":\"agent_end\",\"messages\":[]}\n",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/bots", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]any{"items": f.bots})
	})
	mux.HandleFunc("GET /api/bots/{id}/chats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]any{"items": f.chats[r.PathValue("id")]})
	})
	mux.HandleFunc("POST /api/bots/{id}/chats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		bot := r.PathValue("id")
		chat := wireChat{ID: fmt.Sprintf("new-%d", f.created), BotID: bot, Kind: "direct"}
		f.chats[bot] = append([]wireChat{chat}, f.chats[bot]...)
		writeJSON(w, chat)
	})
	mux.HandleFunc("DELETE /api/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		for bot, chats := range f.chats {
			f.chats[bot] = slices.DeleteFunc(chats, func(c wireChat) bool { return c.ID == id })
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]any{"items": f.messages[r.PathValue("id")]})
	})
	mux.HandleFunc("POST /api/chats/{id}/messages/stream", func(w http.ResponseWriter, r *http.Request) {
		var req wireStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.streams = append(f.streams, req)
		body := f.stream
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) streamRequests() []wireStreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.streams)
}

// writeTestConfig points the CLI at srv with state kept under t.TempDir().
func writeTestConfig(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`api:
  base_url: %q
  requests_per_second: 0
session:
  state_path: %q
logger:
  level: error
  output: %q
`, srv.URL+"/api", filepath.Join(dir, "state.db"), filepath.Join(dir, "chatline.log"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// lineWith returns the first output line containing substr.
func lineWith(out, substr string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, substr) {
			return line
		}
	}
	return ""
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"version flag", []string{"--version"}, "dev"},
		{"help flag", []string{"--help"}, "repl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestBotsCommand(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "bots")
	require.NoError(t, err)
	assert.Contains(t, out, "Bots (2)")
	assert.True(t, strings.HasPrefix(lineWith(out, "Ada"), "*"), "first bot is selected by default")
	assert.True(t, strings.HasPrefix(lineWith(out, "Grace"), " "))
}

func TestUseBotCommand(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "use-bot", "b2")
	require.NoError(t, err)
	assert.Contains(t, out, "c3")

	out, err = runCLI(t, cfgPath, "", "bots")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lineWith(out, "Grace"), "*"), "selection survives restarts")

	_, err = runCLI(t, cfgPath, "", "use-bot", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChatsCommand(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "chats")
	require.NoError(t, err)
	assert.Contains(t, out, "Chats (1)")
	assert.Contains(t, out, "Observed (1)")
	assert.True(t, strings.HasPrefix(lineWith(out, "Planning"), "*"))
	assert.Contains(t, lineWith(out, "Team room"), "read-only")
}

func TestUseAndHistoryCommands(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "what's next?")
	assert.Contains(t, lineWith(out, "Ada"), "Ada")
	assert.Contains(t, out, "ship it")

	out, err = runCLI(t, cfgPath, "", "use", "c2")
	require.NoError(t, err)
	assert.Contains(t, out, "No messages yet")

	_, err = runCLI(t, cfgPath, "", "use", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewAndRmCommands(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "new")
	require.NoError(t, err)
	assert.Contains(t, out, "Created chat new-1")

	out, err = runCLI(t, cfgPath, "", "chats")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lineWith(out, "new-1"), "*"), "the new chat is active")

	out, err = runCLI(t, cfgPath, "", "rm", "new-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted chat new-1")

	out, err = runCLI(t, cfgPath, "", "chats")
	require.NoError(t, err)
	assert.Empty(t, lineWith(out, "new-1"))
}

func TestSendCommandStreamsReply(t *testing.T) {
	f, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "send", "hello", "world")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada: Hello")

	reqs := f.streamRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, wireStreamRequest{Query: "hello world", CurrentChannel: "web", Channels: []string{"web"}}, reqs[0])
}

func TestSendCommandStreamError(t *testing.T) {
	f, srv := newFakeServer(t)
	f.stream = "data: {\"error\":\"rate limited\"}\n"
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "send", "hi")
	require.Error(t, err)
	var pe *domain.ProtocolError
	assert.ErrorAs(t, err, &pe)
	assert.Contains(t, out, "Failed to send message: rate limited")
}

func TestSendCommandReadOnlyChat(t *testing.T) {
	f, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	_, err := runCLI(t, cfgPath, "", "use", "c2")
	require.NoError(t, err)

	_, err = runCLI(t, cfgPath, "", "send", "hi")
	assert.ErrorIs(t, err, domain.ErrReadOnlyConversation)
	assert.Empty(t, f.streamRequests())
}

func TestReplCommand(t *testing.T) {
	f, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	stdin := strings.Join([]string{"/bots", "hello", "/bogus", "/quit", "never sent"}, "\n") + "\n"
	out, err := runCLI(t, cfgPath, stdin, "repl")
	require.NoError(t, err)

	assert.Contains(t, out, "Bots (2)")
	assert.Contains(t, out, "Ada: Hello")
	assert.Contains(t, out, "unknown command /bogus")
	require.Len(t, f.streamRequests(), 1)
	assert.Equal(t, "hello", f.streamRequests()[0].Query)
}

func TestReplEndsAtEOF(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "/chats\n", "repl")
	require.NoError(t, err)
	assert.Contains(t, out, "Planning")
}

func TestEncryptCommand(t *testing.T) {
	t.Setenv(config.KeyEnv, "correct horse")
	cfgPath := filepath.Join(t.TempDir(), "absent.yaml")

	out, err := runCLI(t, cfgPath, "", "encrypt", "s3cret")
	require.NoError(t, err)

	sealed := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(sealed, "enc:"))
	plain, err := config.DecryptValue(strings.TrimPrefix(sealed, "enc:"), "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}

func TestEncryptCommandNeedsKey(t *testing.T) {
	t.Setenv(config.KeyEnv, "")
	_, err := runCLI(t, filepath.Join(t.TempDir(), "absent.yaml"), "", "encrypt", "s3cret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.KeyEnv)
}

func TestDoctorCommand(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)

	out, err := runCLI(t, cfgPath, "", "doctor")
	require.NoError(t, err)
	assert.Contains(t, lineWith(out, "Config file"), "PASS")
	assert.Contains(t, lineWith(out, "API token"), "WARN")
	assert.Contains(t, lineWith(out, "API connectivity"), "2 bot(s)")
	assert.Contains(t, lineWith(out, "State store"), "PASS")
	assert.Contains(t, out, "0 failed")
}

func TestDoctorCommandUnreachableServer(t *testing.T) {
	_, srv := newFakeServer(t)
	cfgPath := writeTestConfig(t, srv)
	srv.Close()

	out, err := runCLI(t, cfgPath, "", "doctor")
	require.Error(t, err)
	assert.Contains(t, lineWith(out, "API connectivity"), "FAIL")
}
