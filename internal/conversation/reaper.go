package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SkywardAI/kirin/internal/model"
)

const (
	DefaultReapInterval  = 30 * time.Second
	DefaultIdleThreshold = 300 * time.Second
)

// HistoryWriter persists an evicted buffer's entries.
type HistoryWriter interface {
	AppendBatch(sessionUUID string, turns []model.ChatTurn) error
}

// Reaper is the single background loop that enforces the idle-eviction
// policy: on every tick it evicts buffers whose last activity is older
// than the threshold and flushes them to durable storage in one batch.
// A buffer that fails to persist is logged and dropped; there is no
// retry, accepting turn loss over retry-induced duplication.
type Reaper struct {
	cache    *Cache
	history  HistoryWriter
	interval time.Duration
	idle     time.Duration
	logger   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReaper(cache *Cache, history HistoryWriter, interval, idle time.Duration, logger zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}
	return &Reaper{
		cache:    cache,
		history:  history,
		interval: interval,
		idle:     idle,
		logger:   logger,
	}
}

// Start launches the ticking loop. Calling Start twice is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	reapCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-reapCtx.Done():
				return
			case <-ticker.C:
				r.ReapOnce(time.Now())
			}
		}
	}()
}

// Close stops the loop and flushes everything still resident, so a clean
// shutdown does not lose active conversations.
func (r *Reaper) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, id := range r.cache.SessionIDs() {
		r.flush(id)
	}
}

// ReapOnce runs a single sweep: every session idle longer than the
// threshold is evicted and flushed. No cache-wide lock is held during a
// flush; only the per-session removal is atomic with respect to
// concurrent GetOrCreate.
func (r *Reaper) ReapOnce(now time.Time) {
	for _, id := range r.cache.SessionIDs() {
		buf := r.cache.lookup(id)
		if buf == nil {
			continue
		}
		if now.Sub(buf.LastActive()) < r.idle {
			continue
		}
		r.flush(id)
	}
}

func (r *Reaper) flush(sessionUUID string) {
	buf := r.cache.Evict(sessionUUID)
	if buf == nil {
		return
	}
	entries := buf.Entries()
	if len(entries) == 0 {
		return
	}

	turns := make([]model.ChatTurn, len(entries))
	for i, entry := range entries {
		turns[i] = model.ChatTurn{Role: entry.Role, Message: entry.Content}
	}
	if err := r.history.AppendBatch(sessionUUID, turns); err != nil {
		r.logger.Error().Err(err).Str("session_uuid", sessionUUID).
			Int("turns", len(turns)).Msg("flush evicted conversation failed, dropping")
		return
	}
	r.logger.Debug().Str("session_uuid", sessionUUID).
		Int("turns", len(turns)).Msg("flushed idle conversation")
}
