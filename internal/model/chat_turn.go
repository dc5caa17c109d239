package model

import "time"

// MaxTurnMessageLen bounds stored message text. Longer messages are
// truncated on write, never rejected.
const MaxTurnMessageLen = 4096

// ChatTurn is one immutable message belonging to a session. Turns are
// append-only; there are no in-place edits.
type ChatTurn struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionUUID string    `gorm:"size:36;not null;index" json:"session_uuid"`
	Role        Role      `gorm:"size:16;not null" json:"role"`
	Message     string    `gorm:"type:text;not null" json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// TruncateMessage applies the storage bound to message text.
func TruncateMessage(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTurnMessageLen {
		return text
	}
	return string(runes[:MaxTurnMessageLen])
}
