package workflow

import (
	"context"
	"fmt"
	"slices"
)

// Guard decides whether a transition applies to the trigger being fired
type Guard func(ctx context.Context) bool

// Transition is one edge of a lifecycle. Transitions sharing From and Trigger are tried in
// declaration order and the first one whose guard passes wins.
type Transition struct {
	From    State
	Trigger Trigger
	To      State
	Guard   Guard
}

// Table is an immutable set of lifecycle transitions
type Table struct {
	edges map[State]map[Trigger][]Transition
}

// NewTable validates transitions and indexes them by source state. No transition may
// leave a closed state or name a state outside the lifecycle.
func NewTable(transitions ...Transition) (*Table, error) {
	t := &Table{edges: make(map[State]map[Trigger][]Transition)}
	for _, tr := range transitions {
		if !tr.From.IsValid() || !tr.To.IsValid() {
			return nil, fmt.Errorf("transition %s -%s-> %s: unknown state", tr.From, tr.Trigger, tr.To)
		}
		if tr.From.IsClosed() {
			return nil, fmt.Errorf("transition %s -%s-> %s: closed source state", tr.From, tr.Trigger, tr.To)
		}
		byTrigger, ok := t.edges[tr.From]
		if !ok {
			byTrigger = make(map[Trigger][]Transition)
			t.edges[tr.From] = byTrigger
		}
		byTrigger[tr.Trigger] = append(byTrigger[tr.Trigger], tr)
	}
	return t, nil
}

// MustTable is NewTable for package-level lifecycles
func MustTable(transitions ...Transition) *Table {
	t, err := NewTable(transitions...)
	if err != nil {
		panic(err)
	}
	return t
}

// Next returns the state trigger leads to from the given state
func (t *Table) Next(ctx context.Context, from State, trigger Trigger) (State, error) {
	candidates := t.edges[from][trigger]
	if len(candidates) == 0 {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}
	for _, tr := range candidates {
		if tr.Guard == nil || tr.Guard(ctx) {
			return tr.To, nil
		}
	}
	return from, fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, from)
}

// Permitted returns the triggers declared for a state in lexical order
func (t *Table) Permitted(from State) []Trigger {
	triggers := make([]Trigger, 0, len(t.edges[from]))
	for trigger := range t.edges[from] {
		triggers = append(triggers, trigger)
	}
	slices.Sort(triggers)
	return triggers
}
