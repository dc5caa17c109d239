package model

import "time"

// Dataset is a registered document collection available for retrieval.
// Its sanitized name doubles as the vector store collection name.
type Dataset struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID *uint     `gorm:"index" json:"account_id,omitempty"`
	Name      string    `gorm:"size:256;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
