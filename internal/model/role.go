package model

// Role identifies which side of a conversation produced a turn.
// It is the single role representation used from the in-memory buffer
// down to the durable rows.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a raw string onto a known role, defaulting to user.
func ParseRole(raw string) Role {
	if Role(raw) == RoleAssistant {
		return RoleAssistant
	}
	return RoleUser
}
