// Package feed implements the discovery feed engine: the turn ledger,
// session guard, item feed, and empty-notice tray that reconcile
// asynchronously produced discovery items into one per-session view.
package feed

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Item is one piece of evaluator-produced content surfaced to the user.
// Items are immutable once created: Expanded is the only mutable field,
// flipped in place without affecting identity or feed order. An item's
// SessionID is the session that was active at the moment it was accepted
// and is never retroactively changed.
type Item struct {
	ID           string
	TurnID       string
	SessionID    string
	ModeID       string
	Title        string
	OneLiner     string
	FullSummary  string
	Relevance    string
	SourceURL    string // optional, set by source-bearing modes
	SourceDomain string // optional
	CreatedAt    time.Time
	Expanded     bool
}

// ItemPayload carries the caller-supplied fields of a prospective item.
// A payload is validated before an item is constructed; one that fails
// validation never reaches the feed.
type ItemPayload struct {
	Title        string `validate:"required,max=300"`
	OneLiner     string `validate:"required,max=1000"`
	FullSummary  string `validate:"required"`
	Relevance    string `validate:"required"`
	SourceURL    string `validate:"omitempty,url"`
	SourceDomain string `validate:"omitempty,hostname_rfc1123"`
}

var validate = validator.New()

// Validate checks that the payload carries every required field and that
// the optional source fields are well-formed.
func (p ItemPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid item payload: %w", err)
	}
	return nil
}

// EmptyNotice is a transient "nothing found" record for a turn that
// finished with zero items. At most one notice exists per turn.
type EmptyNotice struct {
	TurnID    string
	Message   string
	CreatedAt time.Time
}

// State is a point-in-time copy of the engine's observable state.
// Searching is always derived from the pending set, never stored.
type State struct {
	Items           []Item
	PendingTurnIDs  []string
	ActiveSessionID string
	EmptyNotices    []EmptyNotice
	Searching       bool
}
