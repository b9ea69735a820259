// Package workflow is the per-BO state machine governing `_state`: one
// generic algorithm parameterized by the BO's workflow definition, not
// a type hierarchy per BO.
package workflow

import (
	"fmt"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
)

// Machine is a compiled workflow definition: a state set plus a
// transition table keyed by (from-state, transition code).
type Machine struct {
	initial     string
	states      map[string]meta.State
	all         []meta.Transition
	transitions map[edge]meta.Transition

	// byCode indexes transitions by code alone, to distinguish an
	// unknown transition name from one merely not legal right now.
	byCode map[string][]meta.Transition

	// outgoing counts edges per state; states with none are terminal.
	outgoing map[string]int
}

type edge struct {
	from string
	code string
}

// NewMachine compiles a workflow definition. The definition is expected
// to have passed metadata validation already.
func NewMachine(def *meta.WorkflowDefinition) (*Machine, error) {
	if def == nil {
		return nil, fmt.Errorf("compile workflow: %w",
			errs.New(errs.KindState, errs.CodeNotFound,
				"BO has no workflow definition"))
	}

	m := &Machine{
		initial:     def.InitialState,
		states:      make(map[string]meta.State, len(def.States)),
		transitions: make(map[edge]meta.Transition, len(def.Transitions)),
		byCode:      make(map[string][]meta.Transition),
		outgoing:    make(map[string]int),
	}
	for _, s := range def.States {
		m.states[s.Code] = s
	}
	for _, t := range def.Transitions {
		m.all = append(m.all, t)
		m.transitions[edge{t.FromState, t.Code}] = t
		m.byCode[t.Code] = append(m.byCode[t.Code], t)
		m.outgoing[t.FromState]++
	}
	return m, nil
}

// Initial returns the declared initial state.
func (m *Machine) Initial() string {
	return m.initial
}

// HasState reports whether the state is declared.
func (m *Machine) HasState(state string) bool {
	_, ok := m.states[state]
	return ok
}

// Terminal reports whether a state has no outgoing transitions.
// Terminal states are implicit, never separately declared.
func (m *Machine) Terminal(state string) bool {
	return m.outgoing[state] == 0
}

// Available returns the transitions legal from the given state, in
// declaration order.
func (m *Machine) Available(state string) []meta.Transition {
	var out []meta.Transition
	for _, t := range m.all {
		if t.FromState == state {
			out = append(out, t)
		}
	}
	return out
}

// Resolve looks up a transition by code restricted to the record's
// current state. An unknown code and a known code that is not legal
// from this state are surfaced distinctly.
func (m *Machine) Resolve(current, code string) (meta.Transition, error) {
	if t, ok := m.transitions[edge{current, code}]; ok {
		return t, nil
	}
	if _, known := m.byCode[code]; !known {
		return meta.Transition{}, fmt.Errorf("resolve transition: %w",
			errs.Newf(errs.KindState, errs.CodeUnknownTransition,
				"no transition named %q", code).WithValue(code))
	}
	return meta.Transition{}, fmt.Errorf("resolve transition: %w",
		errs.Newf(errs.KindState, errs.CodeTransitionNotAllowed,
			"transition %q is not allowed from state %q", code, current).
			WithValue(code).
			WithHint(fmt.Sprintf("available from %q: %s", current, m.availableCodes(current))))
}

func (m *Machine) availableCodes(state string) string {
	avail := m.Available(state)
	if len(avail) == 0 {
		return "(none, terminal state)"
	}
	codes := make([]byte, 0, 32)
	for i, t := range avail {
		if i > 0 {
			codes = append(codes, ", "...)
		}
		codes = append(codes, t.Code...)
	}
	return string(codes)
}
