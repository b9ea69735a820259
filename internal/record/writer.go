// Package record is the generic data write path for BO tables: insert
// and field updates, validated against the BO's metadata.
//
// The one rule the rest of the platform relies on lives here: `_state`
// is never writable through this path. State changes happen only via
// validated workflow transitions.
package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
	"github.com/dynabo/dynabo/internal/query"
)

// Writer inserts and updates rows in BO tables.
type Writer struct {
	db      *sql.DB
	prefix  string
	queries *query.Engine

	// now and newID are swappable for deterministic tests.
	now   func() time.Time
	newID func() string
}

// New creates a record writer sharing the query engine's decode path,
// so written values read back under the same coercions.
func New(db *sql.DB, prefix string, queries *query.Engine) *Writer {
	if prefix == "" {
		prefix = "bo_"
	}
	return &Writer{
		db:      db,
		prefix:  prefix,
		queries: queries,
		now:     func() time.Time { return time.Now().UTC() },
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
}

// SetNow overrides the timestamp source. Test use only.
func (w *Writer) SetNow(now func() time.Time) {
	w.now = now
}

// SetNewID overrides the id generator. Test use only.
func (w *Writer) SetNewID(newID func() string) {
	w.newID = newID
}

// Insert creates a record: assigns a fresh id, stamps `_created_at`,
// `_updated_at` and `_created_by`, and sets `_state` to the workflow's
// initial state when the BO has one. Returns the stored record.
func (w *Writer) Insert(ctx context.Context, def *meta.BODefinition, data map[string]any, actor string) (map[string]any, error) {
	values, err := w.coerceFields(def, data, true)
	if err != nil {
		return nil, err
	}

	now := w.now().UTC().Format(time.RFC3339)
	id := w.newID()

	cols := []string{"id", "_created_at", "_updated_at"}
	args := []any{id, now, now}
	if actor != "" {
		cols = append(cols, "_created_by")
		args = append(args, actor)
	}
	if def.Workflow != nil {
		cols = append(cols, "_state")
		args = append(args, def.Workflow.InitialState)
	}
	if notes, ok := data["_notes"]; ok {
		s, err := asNotes(notes)
		if err != nil {
			return nil, err
		}
		cols = append(cols, "_notes")
		args = append(args, s)
	}
	for _, fv := range values {
		cols = append(cols, fv.code)
		args = append(args, fv.value)
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.tableName(def), strings.Join(quoted, ", "), placeholders)
	if _, err := w.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, translateWrite("insert record", err)
	}

	return w.queries.Get(ctx, def, id)
}

// Update mutates non-state columns of an existing record and refreshes
// `_updated_at`. Returns the stored record after the update.
func (w *Writer) Update(ctx context.Context, def *meta.BODefinition, id string, data map[string]any) (map[string]any, error) {
	values, err := w.coerceFields(def, data, false)
	if err != nil {
		return nil, err
	}
	if notes, ok := data["_notes"]; ok {
		s, err := asNotes(notes)
		if err != nil {
			return nil, err
		}
		values = append(values, fieldValue{code: "_notes", value: s})
	}
	if len(values) == 0 {
		return nil, errs.New(errs.KindValidation, errs.CodeInvalidValue,
			"update carries no writable fields")
	}

	set := make([]string, 0, len(values)+1)
	args := make([]any, 0, len(values)+2)
	for _, fv := range values {
		set = append(set, quoteIdent(fv.code)+" = ?")
		args = append(args, fv.value)
	}
	set = append(set, `"_updated_at" = ?`)
	args = append(args, w.now().UTC().Format(time.RFC3339))
	args = append(args, id)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE \"id\" = ?",
		w.tableName(def), strings.Join(set, ", "))
	res, err := w.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, translateWrite("update record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errs.Store("update record", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("update record: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"no %q record with id %q", def.Code, id).WithValue(id))
	}

	return w.queries.Get(ctx, def, id)
}

// Delete removes a record by id.
func (w *Writer) Delete(ctx context.Context, def *meta.BODefinition, id string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE \"id\" = ?", w.tableName(def))
	res, err := w.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return translateWrite("delete record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Store("delete record", err)
	}
	if n == 0 {
		return fmt.Errorf("delete record: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"no %q record with id %q", def.Code, id).WithValue(id))
	}
	return nil
}

type fieldValue struct {
	code  string
	value any
}

// coerceFields validates and coerces client data against the BO's
// declared fields. System columns are rejected; `_state` distinctly so,
// because bypassing the workflow engine is a business-rule violation,
// not a typo.
func (w *Writer) coerceFields(def *meta.BODefinition, data map[string]any, creating bool) ([]fieldValue, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var values []fieldValue
	for _, key := range keys {
		if key == "_notes" {
			continue
		}
		if key == "_state" {
			return nil, fmt.Errorf("write record: %w",
				errs.New(errs.KindState, errs.CodeDirectStateMutation,
					"_state can only change through a workflow transition").
					WithField("_state").
					WithHint("use the transition endpoint instead"))
		}
		if meta.IsSystemColumn(key) {
			return nil, errs.Newf(errs.KindValidation, errs.CodeInvalidValue,
				"system column %q is not writable", key).WithField(key)
		}

		f, ok := def.Field(key)
		if !ok {
			return nil, errs.Newf(errs.KindValidation, errs.CodeUnknownField,
				"unknown field %q on BO %q", key, def.Code).WithField(key)
		}

		desc, err := fieldtype.Resolve(f.Type)
		if err != nil {
			return nil, err
		}
		v, err := desc.Coerce(data[key], f.Options())
		if err != nil {
			return nil, errs.Newf(errs.KindValidation, errs.CodeInvalidValue,
				"invalid value for field %q: %v", key, err).
				WithField(key).WithValue(fmt.Sprintf("%v", data[key]))
		}
		if v == nil && f.Required {
			return nil, requiredField(f)
		}
		values = append(values, fieldValue{code: key, value: v})
	}

	if creating {
		for _, f := range def.Fields {
			if !f.Required || f.DefaultValue != "" {
				continue
			}
			if v, ok := data[f.Code]; !ok || v == nil {
				return nil, requiredField(f)
			}
		}
	}
	return values, nil
}

func requiredField(f meta.FieldDefinition) error {
	return errs.Newf(errs.KindValidation, errs.CodeRequiredField,
		"field %q is required", f.Code).WithField(f.Code).
		WithHint(fmt.Sprintf("add %q (%s) to the request body", f.Code, f.Type))
}

func asNotes(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, errs.New(errs.KindValidation, errs.CodeInvalidValue,
			"_notes expects a string").WithField("_notes")
	}
	return s, nil
}

// translateWrite maps driver failures onto the platform error taxonomy.
// A unique index rejection is a conflict with existing data; a failed
// CHECK constraint means the value itself is invalid.
func translateWrite(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w", op,
				errs.New(errs.KindConflict, errs.CodeUniqueViolation,
					"a record with this value already exists"))
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%s: %w", op,
				errs.New(errs.KindValidation, errs.CodeInvalidValue,
					"value rejected by a column constraint"))
		}
	}
	return errs.Store(op, err)
}

func (w *Writer) tableName(def *meta.BODefinition) string {
	return quoteIdent(w.prefix + strings.ToLower(def.Code))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
