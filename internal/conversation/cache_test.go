package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkywardAI/kirin/internal/model"
)

type fakeHistoryReader struct {
	mu    sync.Mutex
	reads int
	turns []model.ChatTurn
	err   error
}

func (f *fakeHistoryReader) ReadRecent(sessionUUID string, limit int) ([]model.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.turns, nil
}

func (f *fakeHistoryReader) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestCacheHydratesOncePerResidency(t *testing.T) {
	reader := &fakeHistoryReader{turns: []model.ChatTurn{
		{Role: model.RoleUser, Message: "hello"},
		{Role: model.RoleAssistant, Message: "hi there"},
	}}
	cache := NewCache(reader, 10)

	buf, err := cache.GetOrCreate("s1")
	require.NoError(t, err)
	require.Equal(t, 2, buf.len())

	entries := buf.Entries()
	assert.Equal(t, model.RoleUser, entries[0].Role)
	assert.Equal(t, "hello", entries[0].Content)
	assert.Equal(t, model.RoleAssistant, entries[1].Role)

	again, err := cache.GetOrCreate("s1")
	require.NoError(t, err)
	assert.Same(t, buf, again)
	assert.Equal(t, 1, reader.readCount(), "second lookup must not touch storage")
}

func TestCacheHydrationFailureDoesNotRegister(t *testing.T) {
	reader := &fakeHistoryReader{err: errors.New("db down")}
	cache := NewCache(reader, 10)

	_, err := cache.GetOrCreate("s1")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	// Recovery: next call hydrates again.
	reader.mu.Lock()
	reader.err = nil
	reader.mu.Unlock()

	buf, err := cache.GetOrCreate("s1")
	require.NoError(t, err)
	require.NotNil(t, buf)
	assert.Equal(t, 2, reader.readCount())
}

func TestCacheRehydratesAfterEviction(t *testing.T) {
	reader := &fakeHistoryReader{}
	cache := NewCache(reader, 10)

	_, err := cache.GetOrCreate("s1")
	require.NoError(t, err)
	require.NotNil(t, cache.Evict("s1"))

	_, err = cache.GetOrCreate("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, reader.readCount(), "a fresh residency hydrates again")
}

func TestCacheConcurrentGetOrCreateSharesOneBuffer(t *testing.T) {
	reader := &fakeHistoryReader{turns: []model.ChatTurn{{Role: model.RoleUser, Message: "x"}}}
	cache := NewCache(reader, 10)

	const goroutines = 16
	buffers := make([]*Buffer, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf, err := cache.GetOrCreate("s1")
			assert.NoError(t, err)
			buffers[i] = buf
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, buffers[0], buffers[i])
	}
	assert.Equal(t, 1, reader.readCount())
}

func TestBufferDropsOldestAtCap(t *testing.T) {
	cache := NewCache(nil, 3)
	buf, err := cache.GetOrCreate("s1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		cache.AppendUserTurn("s1", fmt.Sprintf("m%d", i))
	}

	entries := buf.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[0].Content)
	assert.Equal(t, "m4", entries[2].Content)
}

func TestAppendToLastFillsAssistantEntry(t *testing.T) {
	cache := NewCache(nil, 10)
	buf, err := cache.GetOrCreate("s1")
	require.NoError(t, err)

	cache.AppendUserTurn("s1", "question")
	cache.BeginAssistantTurn("s1")
	cache.AppendToLast("s1", "par")
	cache.AppendToLast("s1", "tial")

	entries := buf.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.RoleAssistant, entries[1].Role)
	assert.Equal(t, "partial", entries[1].Content)

	cache.SetLastContent("s1", "replaced")
	entries = buf.Entries()
	assert.Equal(t, "replaced", entries[1].Content)
}

func TestAppendToLastOnEmptyBufferCreatesEntry(t *testing.T) {
	cache := NewCache(nil, 10)
	buf, err := cache.GetOrCreate("s1")
	require.NoError(t, err)

	cache.AppendToLast("s1", "orphan chunk")

	entries := buf.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.RoleAssistant, entries[0].Role)
	assert.Equal(t, "orphan chunk", entries[0].Content)
}

func TestEvictIsAtomic(t *testing.T) {
	cache := NewCache(nil, 10)
	_, err := cache.GetOrCreate("s1")
	require.NoError(t, err)

	first := cache.Evict("s1")
	second := cache.Evict("s1")
	assert.NotNil(t, first)
	assert.Nil(t, second, "double eviction must return nil the second time")
	assert.Equal(t, 0, cache.Len())
}
