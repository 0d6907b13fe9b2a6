package feed

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an item id does not exist in the feed.
var ErrNotFound = errors.New("item not found")

// DefaultMinNoticeVisible is the floor below which an empty notice is
// never swept, no matter how much user interaction occurs.
const DefaultMinNoticeVisible = 4 * time.Second

// emptyMessages is the catalog of "nothing found" notice texts.
var emptyMessages = []string{
	"Nothing new worth flagging for that one.",
	"The evaluators came back empty-handed.",
	"No sidenotes this time.",
	"Quiet turn. Nothing surfaced.",
	"Dug around, found nothing worth your time.",
	"All lenses came up empty.",
}

// Options configures an Engine. The zero value is usable; defaults are
// applied for every unset field.
type Options struct {
	// OnDirty, if set, is invoked after each mutation that changes durable
	// content (item added, batch added, item removed). It runs with the
	// engine lock held and must not block or call back into the engine.
	OnDirty func()

	// MinNoticeVisible is the minimum time an empty notice stays visible
	// before SweepNotices may remove it. Default DefaultMinNoticeVisible.
	MinNoticeVisible time.Duration

	// Now supplies timestamps. Default time.Now. Injected for tests.
	Now func() time.Time

	// Intn supplies random indexes for notice message selection.
	// Default math/rand. Injected so tests can pin the choice.
	Intn func(n int) int

	// Logger receives debug diagnostics such as stale-write drops.
	// Never user-visible. Default zap.NewNop.
	Logger *zap.Logger
}

// Engine reconciles asynchronously produced discovery items into a single
// consistent per-session feed despite out-of-order completion, session
// switches, and empty results. Every mutation executes as one atomic
// critical section; the engine never blocks or performs I/O under its
// lock, so calls are cheap and safe from any goroutine.
//
// An Engine is an explicitly constructed, owned instance. There is no
// process-wide singleton: callers pass the engine by reference, and
// independent instances share nothing.
type Engine struct {
	mu sync.Mutex

	items   []Item
	pending []string // turn ids, FIFO by start order
	session string   // active session id, "" when none
	notices []EmptyNotice

	onDirty    func()
	minVisible time.Duration
	now        func() time.Time
	intn       func(n int) int
	log        *zap.Logger
}

// New creates an engine with the given options.
func New(opts Options) *Engine {
	e := &Engine{
		onDirty:    opts.OnDirty,
		minVisible: opts.MinNoticeVisible,
		now:        opts.Now,
		intn:       opts.Intn,
		log:        opts.Logger,
	}
	if e.minVisible <= 0 {
		e.minVisible = DefaultMinNoticeVisible
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.intn == nil {
		e.intn = rand.Intn
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// SetActiveSession switches the active session. Items belonging to other
// sessions stay in the feed (consumers filter at read time); pending
// turns and notices are cleared only by LoadItems or ClearAll.
func (e *Engine) SetActiveSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = sessionID
}

// ActiveSession returns the currently active session id.
func (e *Engine) ActiveSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Accepts reports whether results for sessionID are still relevant. The
// answer is authoritative only for the instant of the call: producing
// tasks must carry the session id they were started under and let each
// mutation re-check, rather than caching the answer at task start.
func (e *Engine) Accepts(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session == sessionID
}

// StartTurn registers turnID as pending and makes sessionID the active
// session. The pending list is FIFO by start order. Turn ids must be
// fresh per turn; reusing one is a caller error with undefined ordering.
func (e *Engine) StartTurn(turnID, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, turnID)
	e.session = sessionID
	e.log.Debug("turn started",
		zap.String("turn_id", turnID),
		zap.String("session_id", sessionID),
		zap.Int("pending", len(e.pending)))
}

// CompleteTurn removes turnID from the pending set. Turns run
// concurrently and finish at their own pace, so completions arrive in any
// order relative to starts. Unknown ids are ignored.
func (e *Engine) CompleteTurn(turnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, id := range e.pending {
		if id == turnID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			e.log.Debug("turn completed",
				zap.String("turn_id", turnID),
				zap.Int("pending", len(e.pending)))
			return
		}
	}
}

// Searching reports whether any turn is still pending.
func (e *Engine) Searching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

// AddItem offers one evaluator result to the feed. sessionID must be the
// session the producing task was started under, not the current one: the
// guard compares it against the active session at this instant, and a
// stale write is dropped silently. The task has no way to know its
// session went stale mid-flight and is not forced to handle a rejection.
//
// A payload that fails validation returns an error before anything is
// appended. On acceptance the item gets a fresh id and timestamp, lands
// at the end of the feed (arrival order, not turn-start order), and a
// dirty signal is emitted. Items are accepted even after their turn has
// completed; the pending set and the feed are independent.
func (e *Engine) AddItem(turnID, sessionID, modeID string, p ItemPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != sessionID {
		e.log.Debug("dropping stale item write",
			zap.String("turn_id", turnID),
			zap.String("session_id", sessionID),
			zap.String("active_session", e.session))
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}

	e.items = append(e.items, e.buildItem(turnID, sessionID, modeID, p))
	e.markDirty()
	return nil
}

// AddItems is the batch variant of AddItem: one guard check covers the
// whole batch and validation is all-or-nothing, so a single malformed
// payload keeps every item in the batch out of the feed. Emits one dirty
// signal for the whole batch.
func (e *Engine) AddItems(turnID, sessionID, modeID string, payloads []ItemPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != sessionID {
		e.log.Debug("dropping stale batch write",
			zap.String("turn_id", turnID),
			zap.String("session_id", sessionID),
			zap.String("active_session", e.session),
			zap.Int("count", len(payloads)))
		return nil
	}
	for _, p := range payloads {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if len(payloads) == 0 {
		return nil
	}

	for _, p := range payloads {
		e.items = append(e.items, e.buildItem(turnID, sessionID, modeID, p))
	}
	e.markDirty()
	return nil
}

// buildItem must be called with the lock held.
func (e *Engine) buildItem(turnID, sessionID, modeID string, p ItemPayload) Item {
	return Item{
		ID:           uuid.NewString(),
		TurnID:       turnID,
		SessionID:    sessionID,
		ModeID:       modeID,
		Title:        p.Title,
		OneLiner:     p.OneLiner,
		FullSummary:  p.FullSummary,
		Relevance:    p.Relevance,
		SourceURL:    p.SourceURL,
		SourceDomain: p.SourceDomain,
		CreatedAt:    e.now(),
	}
}

// RemoveItem deletes the item with the given id and emits a dirty signal.
// Remaining items keep their order.
func (e *Engine) RemoveItem(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		if e.items[i].ID == id {
			e.items = append(e.items[:i], e.items[i+1:]...)
			e.markDirty()
			return nil
		}
	}
	return ErrNotFound
}

// ToggleExpanded flips the one mutable field on an item. Expansion is
// presentation state, so no dirty signal is emitted.
func (e *Engine) ToggleExpanded(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.items {
		if e.items[i].ID == id {
			e.items[i].Expanded = !e.items[i].Expanded
			return nil
		}
	}
	return ErrNotFound
}

// ClearAll empties the feed, pending set, and notice tray and clears the
// active session. Used on full session teardown (bulk delete), not on
// ordinary session switching.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = nil
	e.pending = nil
	e.notices = nil
	e.session = ""
}

// LoadItems replaces the feed wholesale with previously saved items,
// resets pending turns and notices, and makes sessionID the active
// session. This is the only path allowed to bulk-overwrite feed history.
// The content came from storage, so no dirty signal is emitted.
func (e *Engine) LoadItems(items []Item, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append([]Item(nil), items...)
	e.pending = nil
	e.notices = nil
	e.session = sessionID
}

// MarkTurnEmpty records a "nothing found" notice for a turn, with a
// message drawn from the catalog via the injected random source. A second
// call for the same turn replaces the first notice, so at most one notice
// exists per turn.
func (e *Engine) MarkTurnEmpty(turnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := EmptyNotice{
		TurnID:    turnID,
		Message:   emptyMessages[e.intn(len(emptyMessages))],
		CreatedAt: e.now(),
	}
	for i := range e.notices {
		if e.notices[i].TurnID == turnID {
			e.notices[i] = n
			return
		}
	}
	e.notices = append(e.notices, n)
}

// DismissEmptyNotice removes the notice for turnID, if present.
func (e *Engine) DismissEmptyNotice(turnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.notices {
		if e.notices[i].TurnID == turnID {
			e.notices = append(e.notices[:i], e.notices[i+1:]...)
			return
		}
	}
}

// SweepNotices removes every notice that has been visible for at least
// the minimum duration and returns how many were removed. Consumers call
// it once per user interaction: a notice younger than the minimum window
// survives the sweep no matter how many interactions occur.
func (e *Engine) SweepNotices() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	kept := e.notices[:0]
	removed := 0
	for _, n := range e.notices {
		if now.Sub(n.CreatedAt) >= e.minVisible {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	e.notices = kept
	return removed
}

// Snapshot returns a copy of the engine's observable state. Consumers
// filter Items by session id for defense in depth even though the guard
// already prevents cross-session writes.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Items:           append([]Item(nil), e.items...),
		PendingTurnIDs:  append([]string(nil), e.pending...),
		ActiveSessionID: e.session,
		EmptyNotices:    append([]EmptyNotice(nil), e.notices...),
		Searching:       len(e.pending) > 0,
	}
}

// markDirty must be called with the lock held.
func (e *Engine) markDirty() {
	if e.onDirty != nil {
		e.onDirty()
	}
}
