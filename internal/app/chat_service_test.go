package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkywardAI/kirin/internal/ai"
	"github.com/SkywardAI/kirin/internal/conversation"
	"github.com/SkywardAI/kirin/internal/model"
	"github.com/SkywardAI/kirin/internal/platform/rabbitmq"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessionStore) Create(session *model.Session) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.UUID == "" {
		session.UUID = "generated-uuid"
	}
	f.sessions[session.UUID] = session
	return session, nil
}

func (f *fakeSessionStore) GetByUUID(sessionUUID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionUUID], nil
}

func (f *fakeSessionStore) GetOrCreate(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionUUID != "" {
		if existing, ok := f.sessions[sessionUUID]; ok {
			return existing, nil
		}
	} else {
		sessionUUID = "generated-uuid"
	}
	session := &model.Session{UUID: sessionUUID, AccountID: accountID, Name: name, SessionType: kind}
	f.sessions[sessionUUID] = session
	return session, nil
}

func (f *fakeSessionStore) UpdateByUUID(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionUUID]
	if !ok {
		return nil, nil
	}
	if name != "" {
		session.Name = name
	}
	if kind != "" {
		session.SessionType = kind
	}
	return session, nil
}

func (f *fakeSessionStore) BindDataset(sessionUUID string, accountID *uint, datasetName string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionUUID]
	if !ok {
		return nil, nil
	}
	session.DatasetName = datasetName
	session.SessionType = model.SessionKindRAG
	return session, nil
}

func (f *fakeSessionStore) ListByAccountID(accountID uint) ([]model.Session, error) {
	return nil, nil
}

type fakeTurnStore struct {
	mu    sync.Mutex
	turns map[string][]model.ChatTurn
}

func newFakeTurnStore() *fakeTurnStore {
	return &fakeTurnStore{turns: make(map[string][]model.ChatTurn)}
}

func (f *fakeTurnStore) AppendBatch(sessionUUID string, turns []model.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[sessionUUID] = append(f.turns[sessionUUID], turns...)
	return nil
}

func (f *fakeTurnStore) ReadRecent(sessionUUID string, limit int) ([]model.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.turns[sessionUUID]
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	out := make([]model.ChatTurn, len(stored))
	copy(out, stored)
	return out, nil
}

type fakeCompleter struct {
	mu         sync.Mutex
	chunks     []string
	lastPrompt string
	embedding  []float32
	embedErr   error
}

func (f *fakeCompleter) CompleteStream(ctx context.Context, req ai.CompletionRequest, onChunk func(chunk string) error) error {
	f.mu.Lock()
	f.lastPrompt = req.Prompt
	chunks := f.chunks
	f.mu.Unlock()
	for _, chunk := range chunks {
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCompleter) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedding, nil
}

func (f *fakeCompleter) prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

type fakeSearcher struct {
	documents []string
	dimension int
}

func (f *fakeSearcher) Search(ctx context.Context, collection string, queryVector []float32, k int) []string {
	return f.documents
}

func (f *fakeSearcher) Dimension() int {
	if f.dimension <= 0 {
		return 3
	}
	return f.dimension
}

type fakePublisher struct {
	mu      sync.Mutex
	batches []rabbitmq.TurnBatch
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, batch rabbitmq.TurnBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func newTestChatService(sessions *fakeSessionStore, turns *fakeTurnStore, llm *fakeCompleter, searcher *fakeSearcher, publisher *fakePublisher) (*ChatService, *conversation.Cache) {
	cache := conversation.NewCache(turns, 10)
	svc := NewChatService(
		sessions,
		turns,
		cache,
		llm,
		searcher,
		publisher,
		nil,
		"",
		1,
		zerolog.Nop(),
	)
	return svc, cache
}

func TestStreamTurnForwardsChunksAndFillsBuffer(t *testing.T) {
	sessions := newFakeSessionStore()
	turns := newFakeTurnStore()
	llm := &fakeCompleter{chunks: []string{"Hi", " there"}}
	svc, convCache := newTestChatService(sessions, turns, llm, &fakeSearcher{}, &fakePublisher{})

	var streamed string
	err := svc.StreamTurn(context.Background(), StreamTurnInput{
		SessionUUID: "s1",
		Message:     "say hi",
	}, func(chunk string) error {
		streamed += chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", streamed)

	prompt := llm.prompt()
	assert.Contains(t, prompt, "### System: ")
	assert.Contains(t, prompt, "### Human: say hi")
	assert.True(t, strings.HasSuffix(prompt, "### Assistant:"))

	buf, err := convCache.GetOrCreate("s1")
	require.NoError(t, err)
	entries := buf.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.RoleUser, entries[0].Role)
	assert.Equal(t, "say hi", entries[0].Content)
	assert.Equal(t, model.RoleAssistant, entries[1].Role)
	assert.Equal(t, "Hi there", entries[1].Content, "the buffer mirrors what the caller saw")
}

func TestStreamTurnNamesNewSessionFromMessage(t *testing.T) {
	sessions := newFakeSessionStore()
	turns := newFakeTurnStore()
	llm := &fakeCompleter{chunks: []string{"ok"}}
	svc, _ := newTestChatService(sessions, turns, llm, &fakeSearcher{}, &fakePublisher{})

	err := svc.StreamTurn(context.Background(), StreamTurnInput{
		Message: "this message is much longer than twenty runes",
	}, func(chunk string) error { return nil })
	require.NoError(t, err)

	session, getErr := sessions.GetByUUID("generated-uuid")
	require.NoError(t, getErr)
	require.NotNil(t, session)
	assert.Equal(t, "this message is much", session.Name)
}

func TestStreamTurnRAGInjectsRetrievedContext(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.sessions["rag1"] = &model.Session{
		UUID:        "rag1",
		SessionType: model.SessionKindRAG,
		DatasetName: "docs",
	}
	turns := newFakeTurnStore()
	llm := &fakeCompleter{chunks: []string{"answer"}, embedding: []float32{1, 2, 3}}
	searcher := &fakeSearcher{documents: []string{"retrieved passage"}}
	svc, _ := newTestChatService(sessions, turns, llm, searcher, &fakePublisher{})

	err := svc.StreamTurn(context.Background(), StreamTurnInput{
		SessionUUID: "rag1",
		Message:     "what does the doc say?",
	}, func(chunk string) error { return nil })
	require.NoError(t, err)

	prompt := llm.prompt()
	assert.Contains(t, prompt, "Please answer the question based on answer retrieved passage")
	assert.Less(t, strings.Index(prompt, "retrieved passage"), strings.Index(prompt, "### Human:"),
		"context goes into the system block, before the user turn")
}

func TestStreamTurnRAGFallsBackWhenRetrievalFails(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.sessions["rag1"] = &model.Session{
		UUID:        "rag1",
		SessionType: model.SessionKindRAG,
		DatasetName: "docs",
	}
	turns := newFakeTurnStore()
	llm := &fakeCompleter{chunks: []string{"answer"}, embedErr: errors.New("embed down")}
	svc, _ := newTestChatService(sessions, turns, llm, &fakeSearcher{}, &fakePublisher{})

	err := svc.StreamTurn(context.Background(), StreamTurnInput{
		SessionUUID: "rag1",
		Message:     "question",
	}, func(chunk string) error { return nil })
	require.NoError(t, err, "retrieval failure never fails the turn")

	assert.Contains(t, llm.prompt(), defaultInstruction)
}

func TestStreamTurnCallbackErrorStopsStream(t *testing.T) {
	sessions := newFakeSessionStore()
	turns := newFakeTurnStore()
	llm := &fakeCompleter{chunks: []string{"one", "two", "three"}}
	svc, _ := newTestChatService(sessions, turns, llm, &fakeSearcher{}, &fakePublisher{})

	wantErr := errors.New("client disconnected")
	calls := 0
	err := svc.StreamTurn(context.Background(), StreamTurnInput{
		SessionUUID: "s1",
		Message:     "go",
	}, func(chunk string) error {
		calls++
		if calls == 2 {
			return wantErr
		}
		return nil
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, calls)
}

func TestGetHistoryReturnsPersistedTurns(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.sessions["s1"] = &model.Session{UUID: "s1"}
	turns := newFakeTurnStore()
	require.NoError(t, turns.AppendBatch("s1", []model.ChatTurn{
		{Role: model.RoleUser, Message: "q"},
		{Role: model.RoleAssistant, Message: "a"},
	}))
	svc, _ := newTestChatService(sessions, turns, &fakeCompleter{}, &fakeSearcher{}, &fakePublisher{})

	history, err := svc.GetHistory(context.Background(), "s1", nil, 50)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "q", history[0].Message)
	assert.Equal(t, "a", history[1].Message)
}

func TestGetHistoryRejectsForeignSession(t *testing.T) {
	owner := uint(7)
	stranger := uint(8)
	sessions := newFakeSessionStore()
	sessions.sessions["s1"] = &model.Session{UUID: "s1", AccountID: &owner}
	svc, _ := newTestChatService(sessions, newFakeTurnStore(), &fakeCompleter{}, &fakeSearcher{}, &fakePublisher{})

	_, err := svc.GetHistory(context.Background(), "s1", &stranger, 50)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.GetHistory(context.Background(), "s1", nil, 50)
	require.ErrorIs(t, err, ErrSessionNotFound, "anonymous caller cannot read an owned session")
}

func TestSaveHistoryPublishesBatch(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.sessions["s1"] = &model.Session{UUID: "s1"}
	publisher := &fakePublisher{}
	svc, _ := newTestChatService(sessions, newFakeTurnStore(), &fakeCompleter{}, &fakeSearcher{}, publisher)

	err := svc.SaveHistory(context.Background(), "s1", nil, []SavedTurn{
		{Role: "user", Message: "q"},
		{Role: "assistant", Message: "a"},
		{Role: "nonsense", Message: "x"},
	})
	require.NoError(t, err)

	require.Len(t, publisher.batches, 1)
	batch := publisher.batches[0]
	assert.Equal(t, "s1", batch.SessionUUID)
	require.Len(t, batch.Turns, 3)
	assert.Equal(t, model.RoleUser, batch.Turns[0].Role)
	assert.Equal(t, model.RoleAssistant, batch.Turns[1].Role)
	assert.Equal(t, model.RoleUser, batch.Turns[2].Role, "unknown roles default to user")
}

func TestSaveHistoryMapsPublishFailure(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.sessions["s1"] = &model.Session{UUID: "s1"}
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc, _ := newTestChatService(sessions, newFakeTurnStore(), &fakeCompleter{}, &fakeSearcher{}, publisher)

	err := svc.SaveHistory(context.Background(), "s1", nil, []SavedTurn{{Role: "user", Message: "q"}})
	require.ErrorIs(t, err, ErrMessageEnqueue)
}
