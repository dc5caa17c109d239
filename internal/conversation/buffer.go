package conversation

import (
	"sync"
	"time"

	"github.com/SkywardAI/kirin/internal/model"
)

// DefaultMaxEntries caps a buffer's length. Oldest entries are dropped
// silently when the cap is exceeded, trading long-term memory for a
// bounded prompt size.
const DefaultMaxEntries = 50

// Entry is one role/content pair in a live dialogue.
type Entry struct {
	Role    model.Role
	Content string
}

// Buffer holds the in-memory dialogue of one active session. It is owned
// by the Cache while registered; ownership moves to the reaper at evict
// time, after which the instance is discarded.
//
// A buffer has a single-writer discipline: every mutation takes the
// buffer's own mutex, so an in-flight stream append never interleaves
// with the reaper snapshotting the same session.
type Buffer struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
	lastActive time.Time
}

func newBuffer(maxEntries int) *Buffer {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Buffer{
		maxEntries: maxEntries,
		lastActive: time.Now(),
	}
}

func (b *Buffer) append(role model.Role, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, Entry{Role: role, Content: content})
	if len(b.entries) > b.maxEntries {
		b.entries = b.entries[len(b.entries)-b.maxEntries:]
	}
	b.lastActive = time.Now()
}

// appendToLast concatenates delta onto the most recent entry. A buffer
// that has no entries yet (eviction raced the stream start) gets a fresh
// assistant entry instead of panicking.
func (b *Buffer) appendToLast(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		b.entries = append(b.entries, Entry{Role: model.RoleAssistant})
	}
	b.entries[len(b.entries)-1].Content += delta
	b.lastActive = time.Now()
}

func (b *Buffer) setLastContent(content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		b.entries = append(b.entries, Entry{Role: model.RoleAssistant})
	}
	b.entries[len(b.entries)-1].Content = content
	b.lastActive = time.Now()
}

// Entries returns a copy of the buffer's contents in order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// LastActive reports when the buffer was last touched.
func (b *Buffer) LastActive() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActive
}

func (b *Buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
