package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/SkywardAI/kirin/internal/ai"
	"github.com/SkywardAI/kirin/internal/conversation"
	"github.com/SkywardAI/kirin/internal/model"
	"github.com/SkywardAI/kirin/internal/platform/rabbitmq"
	"github.com/SkywardAI/kirin/internal/vector"
)

const (
	// stopSequence tells the engine where the turn ends, so the model
	// does not invent additional Human turns.
	stopSequence = "\n### Human:"

	defaultInstruction = "You are a concise and helpful AI assistant."
	sessionNameRunes   = 20
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageEnqueue  = errors.New("turn batch enqueue failed")
)

// SessionStore is the durable session collaborator.
type SessionStore interface {
	Create(session *model.Session) (*model.Session, error)
	GetByUUID(sessionUUID string) (*model.Session, error)
	GetOrCreate(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error)
	UpdateByUUID(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error)
	BindDataset(sessionUUID string, accountID *uint, datasetName string) (*model.Session, error)
	ListByAccountID(accountID uint) ([]model.Session, error)
}

// TurnStore is the durable chat turn collaborator.
type TurnStore interface {
	AppendBatch(sessionUUID string, turns []model.ChatTurn) error
	ReadRecent(sessionUUID string, limit int) ([]model.ChatTurn, error)
}

// Completer streams text completions and produces embeddings.
type Completer interface {
	CompleteStream(ctx context.Context, req ai.CompletionRequest, onChunk func(chunk string) error) error
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ContextSearcher retrieves relevant documents for a query embedding.
type ContextSearcher interface {
	Search(ctx context.Context, collection string, queryVector []float32, k int) []string
	Dimension() int
}

// TurnBatchPublisher enqueues explicit history saves for async persistence.
type TurnBatchPublisher interface {
	Publish(ctx context.Context, batch rabbitmq.TurnBatch) error
}

// HistoryCache is the read-side cache over persisted history.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionUUID string) ([]model.ChatTurn, bool, error)
	SetHistory(ctx context.Context, sessionUUID string, turns []model.ChatTurn) error
	DeleteHistory(ctx context.Context, sessionUUID string) error
	MarkDirty(ctx context.Context, sessionUUID string) error
	IsDirty(ctx context.Context, sessionUUID string) (bool, error)
}

// ChatService drives one chat turn end to end: resolve session, load the
// conversation buffer, optionally retrieve context, build the prompt,
// stream the completion, and keep the buffer in step with what the
// caller saw.
type ChatService struct {
	sessions     SessionStore
	turns        TurnStore
	cache        *conversation.Cache
	llm          Completer
	searcher     ContextSearcher
	publisher    TurnBatchPublisher
	historyCache HistoryCache
	instruction  string
	ragTopN      int
	logger       zerolog.Logger
}

func NewChatService(
	sessions SessionStore,
	turns TurnStore,
	cache *conversation.Cache,
	llm Completer,
	searcher ContextSearcher,
	publisher TurnBatchPublisher,
	historyCache HistoryCache,
	instruction string,
	ragTopN int,
	logger zerolog.Logger,
) *ChatService {
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultInstruction
	}
	if ragTopN <= 0 {
		ragTopN = 1
	}
	return &ChatService{
		sessions:     sessions,
		turns:        turns,
		cache:        cache,
		llm:          llm,
		searcher:     searcher,
		publisher:    publisher,
		historyCache: historyCache,
		instruction:  instruction,
		ragTopN:      ragTopN,
		logger:       logger,
	}
}

type CreateSessionInput struct {
	AccountID *uint
	Name      string
	Kind      model.SessionKind
}

func (s *ChatService) CreateSession(input CreateSessionInput) (*model.Session, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "new session"
	}
	return s.sessions.Create(&model.Session{
		AccountID:   input.AccountID,
		Name:        name,
		SessionType: input.Kind,
	})
}

func (s *ChatService) ListSessions(accountID uint) ([]model.Session, error) {
	if accountID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessions.ListByAccountID(accountID)
}

func (s *ChatService) UpdateSession(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error) {
	if sessionUUID == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessions.UpdateByUUID(sessionUUID, accountID, name, kind)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *ChatService) BindDataset(sessionUUID string, accountID *uint, datasetName string) (*model.Session, error) {
	if sessionUUID == "" || strings.TrimSpace(datasetName) == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessions.BindDataset(sessionUUID, accountID, datasetName)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// StreamTurnInput carries one user turn and its sampling parameters.
type StreamTurnInput struct {
	SessionUUID string
	AccountID   *uint
	Message     string
	Temperature float64
	TopK        int
	TopP        float64
	NPredict    int
}

// StreamTurn runs the per-turn state machine. Every chunk the upstream
// engine emits is handed to onChunk and appended to the buffer's
// trailing assistant entry, in arrival order, each exactly once. An
// empty user message is appended, not rejected; schema validation is the
// transport's concern.
func (s *ChatService) StreamTurn(ctx context.Context, input StreamTurnInput, onChunk func(chunk string) error) error {
	session, err := s.sessions.GetOrCreate(
		input.SessionUUID,
		input.AccountID,
		firstRunes(input.Message, sessionNameRunes),
		model.SessionKindChat,
	)
	if err != nil {
		return fmt.Errorf("resolve session failed: %w", err)
	}

	if _, err := s.cache.GetOrCreate(session.UUID); err != nil {
		return fmt.Errorf("load conversation buffer failed: %w", err)
	}

	contextBlock := s.instruction
	if session.SessionType == model.SessionKindRAG {
		contextBlock = s.retrieveContext(ctx, input.Message, session.DatasetName)
	}
	prompt := formatPrompt(input.Message, contextBlock)

	s.cache.AppendUserTurn(session.UUID, input.Message)
	s.cache.BeginAssistantTurn(session.UUID)

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, session.UUID)
		_ = s.historyCache.DeleteHistory(ctx, session.UUID)
	}

	return s.llm.CompleteStream(ctx, ai.CompletionRequest{
		Prompt:      prompt,
		Temperature: input.Temperature,
		TopK:        input.TopK,
		TopP:        input.TopP,
		NPredict:    input.NPredict,
		Stop:        []string{stopSequence},
	}, func(chunk string) error {
		if err := onChunk(chunk); err != nil {
			return err
		}
		s.cache.AppendToLast(session.UUID, chunk)
		return nil
	})
}

// retrieveContext embeds the user message and searches the session's
// bound dataset. Any failure along the way degrades to the default
// instruction; retrieval never fails a turn.
func (s *ChatService) retrieveContext(ctx context.Context, message, datasetName string) string {
	if datasetName == "" {
		return s.instruction
	}

	embedding, err := s.llm.Embed(ctx, message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("embed query failed, continuing without context")
		return s.instruction
	}
	embedding, ok := vector.FitDimension(embedding, s.searcher.Dimension())
	if !ok {
		s.logger.Warn().Str("dataset", datasetName).Msg("query embedding exceeds index dimension, continuing without context")
		return s.instruction
	}

	documents := s.searcher.Search(ctx, datasetName, embedding, s.ragTopN)
	if len(documents) == 0 {
		return s.instruction
	}
	return "Please answer the question based on answer " + strings.Join(documents, "\n")
}

// GetHistory returns up to limit persisted turns, oldest first, serving
// from the read cache when it is clean.
func (s *ChatService) GetHistory(ctx context.Context, sessionUUID string, accountID *uint, limit int) ([]model.ChatTurn, error) {
	session, err := s.resolveOwnedSession(sessionUUID, accountID)
	if err != nil {
		return nil, err
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, session.UUID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, session.UUID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	turns, err := s.turns.ReadRecent(session.UUID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, session.UUID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, session.UUID, turns)
		}
	}
	return turns, nil
}

// SavedTurn is one role/message pair submitted by an explicit save call.
type SavedTurn struct {
	Role    string
	Message string
}

// SaveHistory enqueues the submitted turns for async persistence via the
// turn persist worker.
func (s *ChatService) SaveHistory(ctx context.Context, sessionUUID string, accountID *uint, saved []SavedTurn) error {
	session, err := s.resolveOwnedSession(sessionUUID, accountID)
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		return ErrInvalidInput
	}
	if s.publisher == nil {
		return ErrMessageEnqueue
	}

	turns := make([]model.ChatTurn, len(saved))
	for i, turn := range saved {
		turns[i] = model.ChatTurn{
			Role:    model.ParseRole(turn.Role),
			Message: turn.Message,
		}
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, session.UUID)
		_ = s.historyCache.DeleteHistory(ctx, session.UUID)
	}
	if err := s.publisher.Publish(ctx, rabbitmq.TurnBatch{SessionUUID: session.UUID, Turns: turns}); err != nil {
		s.logger.Error().Err(err).Str("session_uuid", session.UUID).Msg("enqueue turn batch failed")
		return ErrMessageEnqueue
	}
	return nil
}

func (s *ChatService) resolveOwnedSession(sessionUUID string, accountID *uint) (*model.Session, error) {
	if sessionUUID == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessions.GetByUUID(sessionUUID)
	if err != nil {
		return nil, err
	}
	if session == nil || !ownedBy(session, accountID) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func ownedBy(session *model.Session, accountID *uint) bool {
	if session.AccountID == nil {
		return true
	}
	return accountID != nil && *accountID == *session.AccountID
}

func formatPrompt(message, contextBlock string) string {
	return "### System: " + contextBlock + "\n\n### Human: " + message + "\n### Assistant:"
}

func firstRunes(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}
