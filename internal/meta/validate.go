package meta

import (
	"regexp"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
)

// codePattern constrains module, BO, field, state and transition codes.
// Codes become SQL identifiers, so they stay lowercase snake_case.
var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidCode reports whether code is usable as a metadata identifier.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// ValidateModule checks a module before it is persisted.
func ValidateModule(m *Module) error {
	if !ValidCode(m.Code) {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"invalid module code %q", m.Code).WithField("code").
			WithHint("codes are lowercase snake_case, max 63 characters")
	}
	if m.Name == "" {
		return errs.New(errs.KindValidation, errs.CodeInvalidDef,
			"module name is required").WithField("name")
	}
	return nil
}

// ValidateDefinition checks a BO definition: code syntax, field
// uniqueness, system-column collisions, per-type configuration and the
// attached workflow, if any.
func ValidateDefinition(d *BODefinition) error {
	if !ValidCode(d.Code) {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"invalid BO code %q", d.Code).WithField("code").
			WithHint("codes are lowercase snake_case, max 63 characters")
	}
	if d.Name == "" {
		return errs.New(errs.KindValidation, errs.CodeInvalidDef,
			"BO name is required").WithField("name")
	}

	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if err := ValidateField(f); err != nil {
			return err
		}
		if _, dup := seen[f.Code]; dup {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"duplicate field code %q", f.Code).WithField(f.Code)
		}
		seen[f.Code] = struct{}{}
	}

	if d.Workflow != nil {
		if err := ValidateWorkflow(d.Workflow); err != nil {
			return err
		}
	}
	return nil
}

// ValidateField checks one field definition.
func ValidateField(f FieldDefinition) error {
	if !ValidCode(f.Code) {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"invalid field code %q", f.Code).WithField("code")
	}
	if IsSystemColumn(f.Code) {
		return errs.Newf(errs.KindValidation, errs.CodeColumnCollision,
			"field code %q collides with a system column", f.Code).
			WithField(f.Code)
	}
	if f.Name == "" {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"field %q has no name", f.Code).WithField(f.Code)
	}

	desc, err := fieldtype.Resolve(f.Type)
	if err != nil {
		return err
	}

	switch f.Type {
	case fieldtype.Enum:
		if len(f.EnumValues) == 0 {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"enum field %q declares no values", f.Code).WithField(f.Code)
		}
	case fieldtype.Reference:
		if f.ReferenceBO == "" {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"reference field %q names no target BO", f.Code).
				WithField(f.Code)
		}
	}

	if f.DefaultValue != "" {
		if _, err := desc.Coerce(f.DefaultValue, f.Options()); err != nil {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"default for field %q is invalid: %v", f.Code, err).
				WithField(f.Code).WithValue(f.DefaultValue)
		}
	}
	return nil
}

// ValidateWorkflow checks a workflow definition: exactly one declared
// initial state, transitions only between declared states, no duplicate
// (from, code) edges, and every state reachable from the initial one.
func ValidateWorkflow(w *WorkflowDefinition) error {
	if len(w.States) == 0 {
		return errs.New(errs.KindValidation, errs.CodeInvalidDef,
			"workflow declares no states").WithField("workflow")
	}

	states := make(map[string]struct{}, len(w.States))
	for _, s := range w.States {
		if !ValidCode(s.Code) {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"invalid state code %q", s.Code).WithField("workflow")
		}
		if _, dup := states[s.Code]; dup {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"duplicate state %q", s.Code).WithField("workflow")
		}
		states[s.Code] = struct{}{}
	}

	if _, ok := states[w.InitialState]; !ok {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"initial state %q is not a declared state", w.InitialState).
			WithField("workflow")
	}

	type edge struct{ from, code string }
	edges := make(map[edge]struct{}, len(w.Transitions))
	for _, t := range w.Transitions {
		if !ValidCode(t.Code) {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"invalid transition code %q", t.Code).WithField("workflow")
		}
		if _, ok := states[t.FromState]; !ok {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"transition %q leaves unknown state %q", t.Code, t.FromState).
				WithField("workflow")
		}
		if _, ok := states[t.ToState]; !ok {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"transition %q enters unknown state %q", t.Code, t.ToState).
				WithField("workflow")
		}
		e := edge{t.FromState, t.Code}
		if _, dup := edges[e]; dup {
			return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
				"duplicate transition %q from state %q", t.Code, t.FromState).
				WithField("workflow")
		}
		edges[e] = struct{}{}
	}

	if unreached := unreachableStates(w); len(unreached) > 0 {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"states not reachable from %q: %v", w.InitialState, unreached).
			WithField("workflow")
	}
	return nil
}

// unreachableStates walks the transition graph from the initial state
// and returns any states the walk never visits, in declaration order.
func unreachableStates(w *WorkflowDefinition) []string {
	next := make(map[string][]string)
	for _, t := range w.Transitions {
		next[t.FromState] = append(next[t.FromState], t.ToState)
	}

	visited := map[string]struct{}{w.InitialState: {}}
	frontier := []string{w.InitialState}
	for len(frontier) > 0 {
		state := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, to := range next[state] {
			if _, ok := visited[to]; ok {
				continue
			}
			visited[to] = struct{}{}
			frontier = append(frontier, to)
		}
	}

	var unreached []string
	for _, s := range w.States {
		if _, ok := visited[s.Code]; !ok {
			unreached = append(unreached, s.Code)
		}
	}
	return unreached
}
