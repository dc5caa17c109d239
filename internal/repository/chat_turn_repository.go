package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SkywardAI/kirin/internal/model"
)

const maxHistoryWindow = 50

type ChatTurnRepository struct {
	db *gorm.DB
}

func NewChatTurnRepository(db *gorm.DB) *ChatTurnRepository {
	return &ChatTurnRepository{db: db}
}

// AppendBatch writes the turns for one session in the given order as a
// single insert. Writes are append-only; message text is truncated to the
// storage bound.
func (r *ChatTurnRepository) AppendBatch(sessionUUID string, turns []model.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]model.ChatTurn, len(turns))
	for i, turn := range turns {
		rows[i] = model.ChatTurn{
			SessionUUID: sessionUUID,
			Role:        model.ParseRole(string(turn.Role)),
			Message:     model.TruncateMessage(turn.Message),
			CreatedAt:   turn.CreatedAt,
		}
		if rows[i].CreatedAt.IsZero() {
			// Preserve relative order for rows created in the same batch.
			rows[i].CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
	}
	if err := r.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("append chat turns failed: %w", err)
	}
	return nil
}

// ReadRecent returns up to limit most recent turns for the session,
// ordered oldest first.
func (r *ChatTurnRepository) ReadRecent(sessionUUID string, limit int) ([]model.ChatTurn, error) {
	if limit <= 0 || limit > maxHistoryWindow {
		limit = maxHistoryWindow
	}

	var turns []model.ChatTurn
	if err := r.db.Where("session_uuid = ?", sessionUUID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("read chat turns failed: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
