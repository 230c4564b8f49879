package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"chatline/internal/adapter/prefs"
	"chatline/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

// fakeDirectory is an in-memory domain.Directory.
type fakeDirectory struct {
	mu        sync.Mutex
	bots      []domain.Bot
	botsErr   error
	botsGate  chan struct{} // when set, ListBots waits for it to close
	convs     map[string][]domain.Conversation
	history   map[string][]domain.PersistedMessage
	createErr error
	deleteErr error
	nextConv  int
	calls     map[string]int
}

func newFixtureDirectory() *fakeDirectory {
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	conv := func(id, bot string, mode domain.AccessMode) domain.Conversation {
		return domain.Conversation{ID: id, BotID: bot, Kind: "direct", AccessMode: mode, CreatedAt: past, UpdatedAt: past}
	}
	return &fakeDirectory{
		bots: []domain.Bot{
			{ID: "b1", DisplayName: "Ada"},
			{ID: "b2"},
		},
		convs: map[string][]domain.Conversation{
			"b1": {
				conv("c1", "b1", domain.AccessParticipant),
				conv("c2", "b1", domain.AccessObserved),
				conv("c3", "b1", domain.AccessParticipant),
			},
			"b2": {
				conv("c4", "b2", domain.AccessParticipant),
				conv("c5", "b2", domain.AccessParticipant),
			},
		},
		history: map[string][]domain.PersistedMessage{
			"c2": {userRow("h2", "c2", "watching")},
			"c3": {userRow("h3", "c3", "old")},
			"c5": {userRow("h5", "c5", "from b2")},
		},
		calls: make(map[string]int),
	}
}

func userRow(id, chatID, text string) domain.PersistedMessage {
	return domain.PersistedMessage{
		ID:        id,
		ChatID:    chatID,
		Role:      domain.RoleUser,
		Content:   []byte(fmt.Sprintf("%q", text)),
		CreatedAt: "2026-02-01T10:00:00Z",
	}
}

func (f *fakeDirectory) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeDirectory) ListBots(ctx context.Context) ([]domain.Bot, error) {
	f.mu.Lock()
	f.calls["ListBots"]++
	gate := f.botsGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.botsErr != nil {
		return nil, f.botsErr
	}
	return slices.Clone(f.bots), nil
}

func (f *fakeDirectory) ListConversations(_ context.Context, botID string) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListConversations"]++
	return slices.Clone(f.convs[botID]), nil
}

func (f *fakeDirectory) CreateConversation(_ context.Context, botID string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateConversation"]++
	if f.createErr != nil {
		return domain.Conversation{}, f.createErr
	}
	f.nextConv++
	conv := domain.Conversation{
		ID:         fmt.Sprintf("new-%d", f.nextConv),
		BotID:      botID,
		Kind:       "direct",
		AccessMode: domain.AccessParticipant,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	f.convs[botID] = append([]domain.Conversation{conv}, f.convs[botID]...)
	return conv, nil
}

func (f *fakeDirectory) DeleteConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteConversation"]++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for bot, convs := range f.convs {
		f.convs[bot] = slices.DeleteFunc(convs, func(c domain.Conversation) bool { return c.ID == conversationID })
	}
	return nil
}

func (f *fakeDirectory) ListMessages(_ context.Context, conversationID string) ([]domain.PersistedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListMessages"]++
	return slices.Clone(f.history[conversationID]), nil
}

type streamCall struct {
	conversationID string
	query          string
}

// fakeTransport serves a canned body, an error, or whatever open returns.
type fakeTransport struct {
	mu    sync.Mutex
	body  string
	err   error
	open  func() io.ReadCloser
	calls []streamCall
}

func (f *fakeTransport) OpenStream(_ context.Context, conversationID, query string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, streamCall{conversationID: conversationID, query: query})
	if f.err != nil {
		return nil, f.err
	}
	if f.open != nil {
		return f.open(), nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeTransport) Calls() []streamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// frames joins stream lines, each terminated by a newline.
func frames(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

type failingPrefs struct{}

func (failingPrefs) Load(context.Context) (domain.Selection, error) {
	return domain.Selection{}, domain.ErrPreferences
}

func (failingPrefs) Save(context.Context, domain.Selection) error {
	return domain.ErrPreferences
}

type testEnv struct {
	store     *Store
	dir       *fakeDirectory
	transport *fakeTransport
	prefs     *prefs.MemoryStore
}

func newTestEnv(t *testing.T, bus domain.EventBus) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:       newFixtureDirectory(),
		transport: &fakeTransport{},
		prefs:     prefs.NewMemoryStore(),
	}
	env.store = NewStore(StoreDeps{
		Directory:   env.dir,
		Transport:   env.transport,
		Preferences: env.prefs,
		Bus:         bus,
		Logger:      newTestLogger(),
		Now:         func() time.Time { return testNow },
	})
	return env
}

func (e *testEnv) savedSelection(t *testing.T) domain.Selection {
	t.Helper()
	sel, err := e.prefs.Load(context.Background())
	if err != nil {
		t.Fatalf("prefs.Load: %v", err)
	}
	return sel
}

func conversationIDs(convs []domain.Conversation) []string {
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids
}
