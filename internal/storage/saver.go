package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sidenote-dev/sidenote/internal/feed"
)

// DefaultSaveDebounce is how long the saver waits after the last dirty
// signal before persisting.
const DefaultSaveDebounce = 750 * time.Millisecond

// Saver turns the feed engine's dirty signals into debounced writes. A
// burst of arrivals from one turn lands as a single ReplaceItems per
// session instead of a write per item. Losing the race between a flush
// and a fresh dirty signal only delays data, never drops it: the next
// flush reads a newer snapshot.
type Saver struct {
	store    *Store
	source   func() feed.State
	debounce time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewSaver creates a saver that snapshots through source. MarkDirty is
// safe to hand to feed.Options.OnDirty: it only arms a timer.
func NewSaver(store *Store, source func() feed.State, debounce time.Duration, log *zap.Logger) *Saver {
	if debounce <= 0 {
		debounce = DefaultSaveDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Saver{
		store:    store,
		source:   source,
		debounce: debounce,
		log:      log,
	}
}

// MarkDirty arms the debounce timer, or pushes it out if already armed.
// Never blocks; the engine calls this under its lock.
func (s *Saver) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.timer = nil
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if err := s.Flush(context.Background()); err != nil {
			s.log.Error("debounced feed flush failed", zap.Error(err))
		}
	})
}

// Flush persists the current snapshot immediately: items grouped by
// session, one ReplaceItems per group. The active session is always
// flushed even when it holds no items, so removing a session's last
// item persists as an empty feed rather than not at all.
func (s *Saver) Flush(ctx context.Context) error {
	st := s.source()

	groups := make(map[string][]feed.Item)
	var order []string
	if st.ActiveSessionID != "" {
		groups[st.ActiveSessionID] = nil
		order = append(order, st.ActiveSessionID)
	}
	for _, it := range st.Items {
		if _, ok := groups[it.SessionID]; !ok {
			order = append(order, it.SessionID)
		}
		groups[it.SessionID] = append(groups[it.SessionID], it)
	}

	for _, sessionID := range order {
		if err := s.store.ReplaceItems(ctx, sessionID, groups[sessionID]); err != nil {
			return err
		}
	}

	s.log.Debug("feed flushed",
		zap.Int("sessions", len(order)),
		zap.Int("items", len(st.Items)))
	return nil
}

// Close stops the debounce timer and flushes synchronously. Call before
// closing the store.
func (s *Saver) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Flush(context.Background())
}
