package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkywardAI/kirin/internal/model"
)

type fakeHistoryWriter struct {
	mu      sync.Mutex
	batches map[string][]model.ChatTurn
	err     error
}

func newFakeHistoryWriter() *fakeHistoryWriter {
	return &fakeHistoryWriter{batches: make(map[string][]model.ChatTurn)}
}

func (f *fakeHistoryWriter) AppendBatch(sessionUUID string, turns []model.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches[sessionUUID] = append(f.batches[sessionUUID], turns...)
	return nil
}

func (f *fakeHistoryWriter) batch(sessionUUID string) []model.ChatTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[sessionUUID]
}

func TestReapOnceEvictsOnlyIdleSessions(t *testing.T) {
	cache := NewCache(nil, 10)
	writer := newFakeHistoryWriter()
	reaper := NewReaper(cache, writer, time.Minute, 5*time.Minute, zerolog.Nop())

	idle, err := cache.GetOrCreate("idle")
	require.NoError(t, err)
	cache.AppendUserTurn("idle", "old question")
	cache.BeginAssistantTurn("idle")
	cache.AppendToLast("idle", "old answer")

	_, err = cache.GetOrCreate("active")
	require.NoError(t, err)
	cache.AppendUserTurn("active", "fresh question")

	// Only "idle" crosses the threshold.
	idle.mu.Lock()
	idle.lastActive = time.Now().Add(-10 * time.Minute)
	idle.mu.Unlock()

	reaper.ReapOnce(time.Now())

	assert.Equal(t, 1, cache.Len())
	assert.Nil(t, cache.lookup("idle"))
	assert.NotNil(t, cache.lookup("active"))

	flushed := writer.batch("idle")
	require.Len(t, flushed, 2)
	assert.Equal(t, model.RoleUser, flushed[0].Role)
	assert.Equal(t, "old question", flushed[0].Message)
	assert.Equal(t, model.RoleAssistant, flushed[1].Role)
	assert.Equal(t, "old answer", flushed[1].Message)
}

func TestReapOnceSkipsEmptyBuffers(t *testing.T) {
	cache := NewCache(nil, 10)
	writer := newFakeHistoryWriter()
	reaper := NewReaper(cache, writer, time.Minute, time.Nanosecond, zerolog.Nop())

	_, err := cache.GetOrCreate("empty")
	require.NoError(t, err)

	reaper.ReapOnce(time.Now().Add(time.Hour))

	assert.Equal(t, 0, cache.Len(), "empty buffer is still evicted")
	assert.Empty(t, writer.batch("empty"), "but nothing is written")
}

func TestReapOnceDropsBufferWhenFlushFails(t *testing.T) {
	cache := NewCache(nil, 10)
	writer := newFakeHistoryWriter()
	writer.err = errors.New("db down")
	reaper := NewReaper(cache, writer, time.Minute, time.Nanosecond, zerolog.Nop())

	_, err := cache.GetOrCreate("doomed")
	require.NoError(t, err)
	cache.AppendUserTurn("doomed", "will be lost")

	reaper.ReapOnce(time.Now().Add(time.Hour))

	// One attempt, no retry, session gone either way.
	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, writer.batch("doomed"))
}

func TestCloseFlushesResidentSessions(t *testing.T) {
	cache := NewCache(nil, 10)
	writer := newFakeHistoryWriter()
	reaper := NewReaper(cache, writer, time.Minute, 5*time.Minute, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper.Start(ctx)

	_, err := cache.GetOrCreate("live")
	require.NoError(t, err)
	cache.AppendUserTurn("live", "still chatting")

	reaper.Close()

	assert.Equal(t, 0, cache.Len())
	flushed := writer.batch("live")
	require.Len(t, flushed, 1)
	assert.Equal(t, "still chatting", flushed[0].Message)
}
