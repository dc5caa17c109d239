package model

import "time"

// SessionKind decides whether a chat turn runs the retrieval step.
type SessionKind string

const (
	SessionKindChat SessionKind = "chat"
	SessionKindRAG  SessionKind = "rag"
)

// ParseSessionKind maps raw input to a known kind, defaulting to chat.
func ParseSessionKind(raw string) SessionKind {
	if SessionKind(raw) == SessionKindRAG {
		return SessionKindRAG
	}
	return SessionKindChat
}

// Session is one conversation thread. AccountID is nullable because
// anonymous sessions exist.
type Session struct {
	ID          uint        `gorm:"primaryKey" json:"-"`
	UUID        string      `gorm:"size:36;not null;uniqueIndex" json:"session_uuid"`
	AccountID   *uint       `gorm:"index" json:"account_id,omitempty"`
	Name        string      `gorm:"size:128;not null" json:"name"`
	SessionType SessionKind `gorm:"size:16;not null;default:chat" json:"session_type"`
	DatasetName string      `gorm:"size:256" json:"dataset_name,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
