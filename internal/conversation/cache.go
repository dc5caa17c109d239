package conversation

import (
	"sync"

	"github.com/SkywardAI/kirin/internal/model"
)

// HistoryReader is the storage dependency used to hydrate a buffer on
// first touch.
type HistoryReader interface {
	ReadRecent(sessionUUID string, limit int) ([]model.ChatTurn, error)
}

// Cache maps a session uuid to its live Buffer. It is the only structure
// mutated by more than one concurrent actor (request handlers and the
// reaper); the registry map has its own mutex, while entry mutations go
// through each buffer's per-session lock so unrelated sessions never
// contend.
type Cache struct {
	mu         sync.RWMutex
	buffers    map[string]*Buffer
	history    HistoryReader
	maxEntries int
}

func NewCache(history HistoryReader, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		buffers:    make(map[string]*Buffer),
		history:    history,
		maxEntries: maxEntries,
	}
}

// GetOrCreate returns the registered buffer for the session, constructing
// and hydrating one from storage when absent. Hydration happens exactly
// once per residency: a second call for the same session returns the
// registered buffer without touching storage. Hydration read failures
// propagate; the buffer is not registered in that case.
func (c *Cache) GetOrCreate(sessionUUID string) (*Buffer, error) {
	c.mu.RLock()
	buf, ok := c.buffers[sessionUUID]
	c.mu.RUnlock()
	if ok {
		return buf, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.buffers[sessionUUID]; ok {
		return buf, nil
	}

	buf = newBuffer(c.maxEntries)
	if c.history != nil {
		turns, err := c.history.ReadRecent(sessionUUID, c.maxEntries)
		if err != nil {
			return nil, err
		}
		for _, turn := range turns {
			buf.entries = append(buf.entries, Entry{Role: turn.Role, Content: turn.Message})
		}
	}
	c.buffers[sessionUUID] = buf
	return buf, nil
}

// AppendUserTurn appends a user entry and stamps activity.
func (c *Cache) AppendUserTurn(sessionUUID, text string) {
	if buf := c.lookup(sessionUUID); buf != nil {
		buf.append(model.RoleUser, text)
	}
}

// BeginAssistantTurn appends an empty assistant entry that streamed
// chunks will fill incrementally.
func (c *Cache) BeginAssistantTurn(sessionUUID string) {
	if buf := c.lookup(sessionUUID); buf != nil {
		buf.append(model.RoleAssistant, "")
	}
}

// AppendToLast concatenates delta onto the trailing entry. Called once
// per streamed chunk, so an in-flight stream keeps the session from
// looking idle.
func (c *Cache) AppendToLast(sessionUUID, delta string) {
	if buf := c.lookup(sessionUUID); buf != nil {
		buf.appendToLast(delta)
	}
}

// SetLastContent overwrite-replaces the trailing entry's content.
func (c *Cache) SetLastContent(sessionUUID, content string) {
	if buf := c.lookup(sessionUUID); buf != nil {
		buf.setLastContent(content)
	}
}

// Evict atomically removes and returns the session's buffer, or nil when
// the session is not resident. A GetOrCreate racing after eviction starts
// a fresh buffer; re-reading turns that are mid-flush is acceptable
// because flush writes are append-only.
func (c *Cache) Evict(sessionUUID string) *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[sessionUUID]
	if !ok {
		return nil
	}
	delete(c.buffers, sessionUUID)
	return buf
}

// SessionIDs snapshots the identifiers of all resident buffers.
func (c *Cache) SessionIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.buffers))
	for id := range c.buffers {
		ids = append(ids, id)
	}
	return ids
}

// Len reports how many buffers are resident.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buffers)
}

func (c *Cache) lookup(sessionUUID string) *Buffer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buffers[sessionUUID]
}
