// Package modes defines the built-in discovery modes and the read-only
// registry consumed by the evaluator and the UI.
package modes

import (
	"fmt"

	"github.com/fatih/color"
)

// DefaultMaxItems is the per-turn cap on accepted items for a mode that
// does not override it.
const DefaultMaxItems = 2

// Mode describes one discovery lens. The registry hands out copies;
// modes are immutable after construction.
type Mode struct {
	// ID is the unique identifier, e.g. "connections".
	ID string

	// Label is the human-readable name shown in the feed.
	Label string

	// Color is the terminal color used when rendering the label.
	Color color.Attribute

	// Lens is the instruction fragment injected into the evaluator
	// request. It states the mode's angle, not output formatting.
	Lens string

	// MaxItems caps how many items one turn may accept for this mode.
	MaxItems int

	// Sourced marks modes whose items should carry a source URL and
	// domain pointing at a real reference.
	Sourced bool
}

func builtins() []Mode {
	return []Mode{
		{
			ID:       "connections",
			Label:    "Connection",
			Color:    color.FgCyan,
			Lens:     "Find a non-obvious connection between something in this exchange and another field, historical event, or idea.",
			MaxItems: DefaultMaxItems,
		},
		{
			ID:       "counterpoint",
			Label:    "Counterpoint",
			Color:    color.FgYellow,
			Lens:     "Offer a credible counterpoint or an alternative school of thought to a claim made in this exchange.",
			MaxItems: DefaultMaxItems,
		},
		{
			ID:       "deeper",
			Label:    "Go deeper",
			Color:    color.FgGreen,
			Lens:     "Point to a specific primary source, paper, book, or reference that goes substantially deeper on the subject of this exchange.",
			MaxItems: DefaultMaxItems,
			Sourced:  true,
		},
		{
			ID:       "tangent",
			Label:    "Tangent",
			Color:    color.FgMagenta,
			Lens:     "Surface an interesting tangent a curious reader would enjoy: adjacent to this exchange but not covered by it.",
			MaxItems: DefaultMaxItems,
		},
	}
}

// Registry holds the mode set. It is read-only after construction, so it
// may be shared across goroutines without locking.
type Registry struct {
	modes    []Mode // stable display order
	byID     map[string]Mode
	disabled map[string]bool
}

// NewRegistry builds a registry of the built-in modes with the given ids
// disabled. maxItems > 0 overrides every mode's per-turn cap. Disabling
// an unknown id is a configuration error.
func NewRegistry(disabled []string, maxItems int) (*Registry, error) {
	r := &Registry{
		modes:    builtins(),
		byID:     make(map[string]Mode),
		disabled: make(map[string]bool),
	}
	if maxItems > 0 {
		for i := range r.modes {
			r.modes[i].MaxItems = maxItems
		}
	}
	for _, m := range r.modes {
		r.byID[m.ID] = m
	}
	for _, id := range disabled {
		if _, ok := r.byID[id]; !ok {
			return nil, fmt.Errorf("unknown discovery mode %q in disabled_modes", id)
		}
		r.disabled[id] = true
	}
	return r, nil
}

// Get returns the mode with the given id.
func (r *Registry) Get(id string) (Mode, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Enabled returns the enabled modes in stable display order.
func (r *Registry) Enabled() []Mode {
	out := make([]Mode, 0, len(r.modes))
	for _, m := range r.modes {
		if !r.disabled[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// List returns every registered mode in stable display order, including
// disabled ones.
func (r *Registry) List() []Mode {
	return append([]Mode(nil), r.modes...)
}

// IsEnabled reports whether the mode with the given id is enabled.
func (r *Registry) IsEnabled(id string) bool {
	_, ok := r.byID[id]
	return ok && !r.disabled[id]
}
