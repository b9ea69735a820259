package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
)

// Engine validates and executes workflow transitions, writing `_state`
// through the BO's physical table.
//
// Writes use optimistic concurrency: the update is conditional on the
// state still being the one the transition was resolved against. A row
// changed between read and write surfaces as ConcurrentModification;
// the engine never auto-retries a write.
type Engine struct {
	db     *sql.DB
	prefix string
	guards *GuardEnv

	now func() time.Time
}

// New creates a workflow engine over the shared database handle.
func New(db *sql.DB, prefix string, guards *GuardEnv) *Engine {
	if prefix == "" {
		prefix = "bo_"
	}
	if guards == nil {
		guards = NewGuardEnv()
	}
	return &Engine{
		db:     db,
		prefix: prefix,
		guards: guards,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the timestamp source. Test use only.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// Transition applies the named transition to a record and returns the
// new state.
//
// The record map must carry the current `id` and `_state`; the guard,
// when present, sees the whole record. On success `_state` and
// `_updated_at` change atomically with respect to concurrent
// transitions on the same record.
func (e *Engine) Transition(ctx context.Context, def *meta.BODefinition, rec map[string]any, transitionCode, actor string) (string, error) {
	machine, err := NewMachine(def.Workflow)
	if err != nil {
		return "", err
	}

	id, _ := rec["id"].(string)
	if id == "" {
		return "", errs.New(errs.KindValidation, errs.CodeInvalidValue,
			"record has no id").WithField("id")
	}
	current, _ := rec["_state"].(string)

	t, err := machine.Resolve(current, transitionCode)
	if err != nil {
		return "", err
	}

	if t.Guard != "" {
		ok, gerr := e.guards.Eval(t.Guard, rec)
		if gerr != nil {
			return "", fmt.Errorf("transition %q: %w", transitionCode, gerr)
		}
		if !ok {
			return "", fmt.Errorf("transition %q: %w", transitionCode,
				errs.Newf(errs.KindState, errs.CodeGuardRejected,
					"guard rejected transition %q from state %q",
					transitionCode, current).WithValue(transitionCode))
		}
	}

	// Compare-and-swap on _state: the write applies only if the row
	// still holds the state the transition was resolved against.
	table := quoteIdent(e.prefix + strings.ToLower(def.Code))
	res, err := e.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET "_state" = ?, "_updated_at" = ?
		WHERE "id" = ? AND "_state" = ?
	`, table), t.ToState, e.now().UTC().Format(time.RFC3339), id, current)
	if err != nil {
		return "", errs.Store("apply transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", errs.Store("apply transition", err)
	}
	if n == 0 {
		return "", e.explainFailedSwap(ctx, table, def.Code, id)
	}
	return t.ToState, nil
}

// AvailableTransitions lists the transitions legal for a record's
// current state.
func (e *Engine) AvailableTransitions(def *meta.BODefinition, rec map[string]any) ([]meta.Transition, error) {
	machine, err := NewMachine(def.Workflow)
	if err != nil {
		return nil, err
	}
	current, _ := rec["_state"].(string)
	return machine.Available(current), nil
}

// explainFailedSwap distinguishes a vanished record from a lost CAS
// race, so callers can tell "retry" apart from "gone".
func (e *Engine) explainFailedSwap(ctx context.Context, table, boCode, id string) error {
	var state sql.NullString
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT "_state" FROM %s WHERE "id" = ?`, table), id).Scan(&state)
	if err == sql.ErrNoRows {
		return fmt.Errorf("apply transition: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"no %q record with id %q", boCode, id).WithValue(id))
	}
	if err != nil {
		return errs.Store("apply transition", err)
	}
	return fmt.Errorf("apply transition: %w",
		errs.Newf(errs.KindConcurrency, errs.CodeConcurrentModification,
			"record %q changed state concurrently (now %q)", id, state.String).
			WithValue(id).
			WithHint("re-read the record and decide whether to retry"))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
