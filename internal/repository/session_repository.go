package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SkywardAI/kirin/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.Session) (*model.Session, error) {
	if session.UUID == "" {
		session.UUID = uuid.NewString()
	}
	if session.SessionType == "" {
		session.SessionType = model.SessionKindChat
	}
	if err := r.db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) GetByUUID(sessionUUID string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("uuid = ?", sessionUUID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

// GetOrCreate returns the session with the given uuid owned by accountID,
// creating it when absent. The same identifier+owner pair is never
// duplicated: the lookup runs first, and a racing insert falls back to a
// second lookup on the unique-index violation.
func (r *SessionRepository) GetOrCreate(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error) {
	if sessionUUID != "" {
		session, err := r.getByUUIDAndAccount(sessionUUID, accountID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	if kind == "" {
		kind = model.SessionKindChat
	}
	session := &model.Session{
		UUID:        sessionUUID,
		AccountID:   accountID,
		Name:        name,
		SessionType: kind,
	}
	if session.UUID == "" {
		session.UUID = uuid.NewString()
	}
	if err := r.db.Create(session).Error; err != nil {
		if existing, lookupErr := r.getByUUIDAndAccount(session.UUID, accountID); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	return session, nil
}

// UpdateByUUID renames and/or retypes a session. Empty fields are left
// untouched.
func (r *SessionRepository) UpdateByUUID(sessionUUID string, accountID *uint, name string, kind model.SessionKind) (*model.Session, error) {
	session, err := r.getByUUIDAndAccount(sessionUUID, accountID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	updates := map[string]interface{}{}
	if name != "" {
		updates["name"] = name
	}
	if kind == model.SessionKindChat || kind == model.SessionKindRAG {
		updates["session_type"] = kind
	}
	if len(updates) == 0 {
		return session, nil
	}
	if err := r.db.Model(session).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update session failed: %w", err)
	}
	return session, nil
}

// BindDataset attaches a dataset name to the session so RAG turns know
// which collection to search.
func (r *SessionRepository) BindDataset(sessionUUID string, accountID *uint, datasetName string) (*model.Session, error) {
	session, err := r.getByUUIDAndAccount(sessionUUID, accountID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if err := r.db.Model(session).Update("dataset_name", datasetName).Error; err != nil {
		return nil, fmt.Errorf("bind dataset to session failed: %w", err)
	}
	session.DatasetName = datasetName
	return session, nil
}

func (r *SessionRepository) ListByAccountID(accountID uint) ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.Where("account_id = ?", accountID).Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) getByUUIDAndAccount(sessionUUID string, accountID *uint) (*model.Session, error) {
	q := r.db.Where("uuid = ?", sessionUUID)
	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	} else {
		q = q.Where("account_id IS NULL")
	}
	var session model.Session
	if err := q.First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}
