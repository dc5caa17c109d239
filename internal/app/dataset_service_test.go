package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextOverlaps(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := chunkText(text, 40, 10)

	require.Len(t, chunks, 4)
	assert.Equal(t, 40, len(chunks[0]))
	assert.Equal(t, 40, len(chunks[1]))
	// Step is size minus overlap, so the last chunk holds the remainder.
	assert.Equal(t, 10, len(chunks[3]))
}

func TestChunkTextShortInput(t *testing.T) {
	chunks := chunkText("tiny", 512, 64)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny", chunks[0])
}

func TestChunkTextGuardsBadOverlap(t *testing.T) {
	chunks := chunkText(strings.Repeat("b", 30), 10, 10)
	assert.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 10)
	}
}

func TestFirstRunes(t *testing.T) {
	assert.Equal(t, "short", firstRunes("short", 20))
	assert.Equal(t, "exactly twenty chars", firstRunes("exactly twenty chars and more", 20))
	assert.Equal(t, "你好世界", firstRunes("  你好世界  ", 20))
}

func TestFormatPrompt(t *testing.T) {
	prompt := formatPrompt("question", "instruction")
	assert.Equal(t, "### System: instruction\n\n### Human: question\n### Assistant:", prompt)
}
