package evaluator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
)

// DefaultTurnTimeout bounds one whole turn across all of its modes.
const DefaultTurnTimeout = 90 * time.Second

// TurnSink is the slice of the feed engine a turn needs. *feed.Engine
// satisfies it; tests substitute recorders.
type TurnSink interface {
	StartTurn(turnID, sessionID string)
	CompleteTurn(turnID string)
	MarkTurnEmpty(turnID string)
	AddItem(turnID, sessionID, modeID string, p feed.ItemPayload) error
	Snapshot() feed.State
}

// ModeEvaluator produces candidate payloads for one mode over one
// exchange. *Client is the production implementation.
type ModeEvaluator interface {
	Evaluate(ctx context.Context, m modes.Mode, ex Exchange) ([]feed.ItemPayload, error)
}

// RunnerConfig holds runner dependencies and tuning.
type RunnerConfig struct {
	Sink     TurnSink
	Eval     ModeEvaluator
	Registry *modes.Registry

	// TurnTimeout bounds a whole turn. Default DefaultTurnTimeout.
	TurnTimeout time.Duration

	// DuplicateThreshold is the normalized edit-distance ratio under which
	// two titles are the same discovery. Default DefaultDuplicateThreshold.
	DuplicateThreshold float64

	// Logger receives diagnostics. Default zap.NewNop.
	Logger *zap.Logger
}

// Runner owns the turn lifecycle: register the turn, fan out one task per
// enabled mode, offer the survivors to the engine, mark genuinely empty
// turns, and always complete the turn no matter what failed.
//
// There is deliberately no cancel API. Switching sessions does not stop
// in-flight tasks; it makes the engine refuse their writes, which wastes
// a few API calls and corrupts nothing. Contexts bound the runtime cost.
type Runner struct {
	sink      TurnSink
	eval      ModeEvaluator
	registry  *modes.Registry
	timeout   time.Duration
	threshold float64
	log       *zap.Logger

	wg sync.WaitGroup
}

// NewRunner creates a runner. Sink, Eval, and Registry are required.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("turn sink is required")
	}
	if cfg.Eval == nil {
		return nil, fmt.Errorf("mode evaluator is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("mode registry is required")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		sink:      cfg.Sink,
		eval:      cfg.Eval,
		registry:  cfg.Registry,
		timeout:   cfg.TurnTimeout,
		threshold: cfg.DuplicateThreshold,
		log:       cfg.Logger,
	}, nil
}

// Launch registers a discovery turn for the exchange and returns its id
// without waiting. sessionID must be the session the exchange belongs to:
// every write the turn makes carries it, and the engine re-checks it
// against the active session at each write, not at launch.
func (r *Runner) Launch(ctx context.Context, sessionID string, ex Exchange) string {
	turnID := uuid.NewString()
	r.sink.StartTurn(turnID, sessionID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runTurn(ctx, turnID, sessionID, ex)
	}()

	return turnID
}

// Wait blocks until every launched turn has completed. For shutdown and
// tests; callers never need it for correctness.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) runTurn(ctx context.Context, turnID, sessionID string, ex Exchange) {
	// The turn leaves the pending ledger on every path, including panics
	// in the SDK; a stuck "searching" indicator would outlive the turn.
	defer r.sink.CompleteTurn(turnID)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Seed near-duplicate suppression with what the session already shows.
	seen := newTitleSet(r.threshold)
	for _, it := range r.sink.Snapshot().Items {
		if it.SessionID == sessionID {
			seen.seed(it.Title)
		}
	}

	var succeeded atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range r.registry.Enabled() {
		m := m // per-iteration copy; go.mod predates Go 1.22 loop scoping
		g.Go(func() error {
			payloads, err := r.eval.Evaluate(gctx, m, ex)
			if err != nil {
				// One lens failing is routine; the turn carries on.
				r.log.Debug("mode evaluation failed",
					zap.String("turn_id", turnID),
					zap.String("mode", m.ID),
					zap.Error(err))
				return nil
			}
			succeeded.Add(1)

			kept := 0
			for _, p := range payloads {
				if kept == m.MaxItems {
					break
				}
				if !seen.tryAdd(p.Title) {
					continue
				}
				kept++
				if err := r.sink.AddItem(turnID, sessionID, m.ID, p); err != nil {
					r.log.Debug("item rejected",
						zap.String("turn_id", turnID),
						zap.String("mode", m.ID),
						zap.String("title", p.Title),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	// A turn is "empty" only when at least one lens actually reported back
	// and the feed took nothing from it. All-modes-failed is a failure,
	// not an empty result, and a turn whose session went stale gets no
	// notice at all: the user moved on.
	if succeeded.Load() == 0 {
		return
	}
	st := r.sink.Snapshot()
	if st.ActiveSessionID != sessionID {
		return
	}
	for _, it := range st.Items {
		if it.TurnID == turnID {
			return
		}
	}
	r.sink.MarkTurnEmpty(turnID)
}
