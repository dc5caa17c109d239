package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateMessage(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, TruncateMessage(short))

	long := strings.Repeat("界", MaxTurnMessageLen+10)
	truncated := TruncateMessage(long)
	assert.Equal(t, MaxTurnMessageLen, len([]rune(truncated)))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleUser, ParseRole("user"))
	assert.Equal(t, RoleAssistant, ParseRole("assistant"))
	assert.Equal(t, RoleUser, ParseRole("something else"))
	assert.Equal(t, RoleUser, ParseRole(""))
}

func TestParseSessionKind(t *testing.T) {
	assert.Equal(t, SessionKindRAG, ParseSessionKind("rag"))
	assert.Equal(t, SessionKindChat, ParseSessionKind("chat"))
	assert.Equal(t, SessionKindChat, ParseSessionKind("unknown"))
}
