package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
)

// CreateDefinition inserts a BO definition with its fields and optional
// workflow in one transaction. TableCreated starts false; the schema
// service flips it once the physical table exists.
func (s *Store) CreateDefinition(ctx context.Context, d *meta.BODefinition) error {
	if err := meta.ValidateDefinition(d); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateErr("create definition", err)
	}
	defer tx.Rollback()

	now := timestamp(s.now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bo_definitions
		(code, name, description, module_code, table_name, table_created, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, d.Code, d.Name, d.Description, nullable(d.ModuleCode), d.TableName, now, now)
	if err != nil {
		return translateErr("create definition", err)
	}

	for i, f := range d.Fields {
		if f.SortOrder == 0 {
			f.SortOrder = i
		}
		if err := insertField(ctx, tx, d.Code, f); err != nil {
			return translateErr("create definition", err)
		}
	}

	if d.Workflow != nil {
		if err := insertWorkflow(ctx, tx, d.Code, d.Workflow); err != nil {
			return translateErr("create definition", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return translateErr("create definition", err)
	}
	return nil
}

// GetDefinition returns a BO definition with its fields, workflow and
// relations. Returns an UnknownBO error when no definition exists.
func (s *Store) GetDefinition(ctx context.Context, code string) (*meta.BODefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, name, description, COALESCE(module_code, ''),
		       table_name, table_created, created_at, updated_at
		FROM bo_definitions WHERE code = ?
	`, code)

	d, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get definition: %w",
			errs.Newf(errs.KindNotFound, errs.CodeUnknownBO,
				"no BO definition for code %q", code).WithValue(code))
	}
	if err != nil {
		return nil, translateErr("get definition", err)
	}

	if d.Fields, err = s.readFields(ctx, code); err != nil {
		return nil, err
	}
	if d.Workflow, err = s.readWorkflow(ctx, code); err != nil {
		return nil, err
	}
	if d.Relations, err = s.readRelations(ctx, code); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDefinitions returns all BO definitions, optionally restricted to
// one module, with their fields attached.
func (s *Store) ListDefinitions(ctx context.Context, moduleCode string) ([]meta.BODefinition, error) {
	query := `
		SELECT code, name, description, COALESCE(module_code, ''),
		       table_name, table_created, created_at, updated_at
		FROM bo_definitions
	`
	args := []any{}
	if moduleCode != "" {
		query += ` WHERE module_code = ?`
		args = append(args, moduleCode)
	}
	query += ` ORDER BY code ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateErr("list definitions", err)
	}
	defer rows.Close()

	defs := []meta.BODefinition{}
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, translateErr("list definitions", err)
		}
		defs = append(defs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("list definitions", err)
	}

	for i := range defs {
		if defs[i].Fields, err = s.readFields(ctx, defs[i].Code); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// UpdateDefinition changes display attributes of a BO definition. The
// code and table name are immutable once the table exists.
func (s *Store) UpdateDefinition(ctx context.Context, d *meta.BODefinition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bo_definitions
		SET name = ?, description = ?, module_code = ?, updated_at = ?
		WHERE code = ?
	`, d.Name, d.Description, nullable(d.ModuleCode), timestamp(s.now()), d.Code)
	if err != nil {
		return translateErr("update definition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr("update definition", err)
	}
	if n == 0 {
		return notFound("BO definition", d.Code)
	}
	return nil
}

// SetTableCreated records that the physical table for a BO has been
// provisioned (or dropped).
func (s *Store) SetTableCreated(ctx context.Context, code string, created bool) error {
	v := 0
	if created {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE bo_definitions SET table_created = ?, updated_at = ? WHERE code = ?
	`, v, timestamp(s.now()), code)
	if err != nil {
		return translateErr("set table created", err)
	}
	return nil
}

// DeleteDefinition removes a BO definition and, via cascade, its
// fields, workflow and relations.
func (s *Store) DeleteDefinition(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bo_definitions WHERE code = ?`, code)
	if err != nil {
		return translateErr("delete definition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr("delete definition", err)
	}
	if n == 0 {
		return notFound("BO definition", code)
	}
	return nil
}

// AddField appends one field definition to an existing BO.
func (s *Store) AddField(ctx context.Context, boCode string, f meta.FieldDefinition) error {
	if err := meta.ValidateField(f); err != nil {
		return err
	}
	if err := insertField(ctx, s.db, boCode, f); err != nil {
		return translateErr("add field", err)
	}
	return nil
}

// DeleteField removes one field definition from a BO.
func (s *Store) DeleteField(ctx context.Context, boCode, fieldCode string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM field_definitions WHERE bo_code = ? AND code = ?
	`, boCode, fieldCode)
	if err != nil {
		return translateErr("delete field", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr("delete field", err)
	}
	if n == 0 {
		return notFound("field", fieldCode)
	}
	return nil
}

// SetWorkflow replaces the workflow definition attached to a BO.
func (s *Store) SetWorkflow(ctx context.Context, boCode string, w *meta.WorkflowDefinition) error {
	if err := meta.ValidateWorkflow(w); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateErr("set workflow", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM workflow_definitions WHERE bo_code = ?`, boCode); err != nil {
		return translateErr("set workflow", err)
	}
	if err := insertWorkflow(ctx, tx, boCode, w); err != nil {
		return translateErr("set workflow", err)
	}

	if err := tx.Commit(); err != nil {
		return translateErr("set workflow", err)
	}
	return nil
}

// execer lets the insert helpers run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertField(ctx context.Context, db execer, boCode string, f meta.FieldDefinition) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO field_definitions
		(bo_code, code, name, field_type, required, is_unique, indexed,
		 max_length, default_value, enum_values, reference_bo, searchable, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, boCode, f.Code, f.Name, string(f.Type), f.Required, f.Unique, f.Indexed,
		f.MaxLength, f.DefaultValue, joinEnum(f.EnumValues), f.ReferenceBO,
		f.Searchable, f.SortOrder)
	return err
}

func insertWorkflow(ctx context.Context, db execer, boCode string, w *meta.WorkflowDefinition) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (bo_code, initial_state)
		VALUES (?, ?)
	`, boCode, w.InitialState); err != nil {
		return err
	}
	for i, st := range w.States {
		order := st.SortOrder
		if order == 0 {
			order = i
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO workflow_states (bo_code, code, name, sort_order)
			VALUES (?, ?, ?, ?)
		`, boCode, st.Code, st.Name, order); err != nil {
			return err
		}
	}
	for _, t := range w.Transitions {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO workflow_transitions
			(bo_code, code, name, from_state, to_state, guard)
			VALUES (?, ?, ?, ?, ?, ?)
		`, boCode, t.Code, t.Name, t.FromState, t.ToState, t.Guard); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) readFields(ctx context.Context, boCode string) ([]meta.FieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, field_type, required, is_unique, indexed,
		       max_length, default_value, enum_values, reference_bo,
		       searchable, sort_order
		FROM field_definitions
		WHERE bo_code = ?
		ORDER BY sort_order ASC, code ASC
	`, boCode)
	if err != nil {
		return nil, translateErr("read fields", err)
	}
	defer rows.Close()

	fields := []meta.FieldDefinition{}
	for rows.Next() {
		var f meta.FieldDefinition
		var ftype, enums string
		if err := rows.Scan(&f.Code, &f.Name, &ftype, &f.Required, &f.Unique,
			&f.Indexed, &f.MaxLength, &f.DefaultValue, &enums, &f.ReferenceBO,
			&f.Searchable, &f.SortOrder); err != nil {
			return nil, translateErr("read fields", err)
		}
		f.Type = fieldtype.Type(ftype)
		f.EnumValues = splitEnum(enums)
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("read fields", err)
	}
	return fields, nil
}

func (s *Store) readWorkflow(ctx context.Context, boCode string) (*meta.WorkflowDefinition, error) {
	var w meta.WorkflowDefinition
	err := s.db.QueryRowContext(ctx, `
		SELECT initial_state FROM workflow_definitions WHERE bo_code = ?
	`, boCode).Scan(&w.InitialState)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr("read workflow", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, sort_order FROM workflow_states
		WHERE bo_code = ? ORDER BY sort_order ASC, code ASC
	`, boCode)
	if err != nil {
		return nil, translateErr("read workflow", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st meta.State
		if err := rows.Scan(&st.Code, &st.Name, &st.SortOrder); err != nil {
			return nil, translateErr("read workflow", err)
		}
		w.States = append(w.States, st)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("read workflow", err)
	}

	trows, err := s.db.QueryContext(ctx, `
		SELECT code, name, from_state, to_state, guard
		FROM workflow_transitions
		WHERE bo_code = ? ORDER BY from_state ASC, code ASC
	`, boCode)
	if err != nil {
		return nil, translateErr("read workflow", err)
	}
	defer trows.Close()
	for trows.Next() {
		var t meta.Transition
		if err := trows.Scan(&t.Code, &t.Name, &t.FromState, &t.ToState, &t.Guard); err != nil {
			return nil, translateErr("read workflow", err)
		}
		w.Transitions = append(w.Transitions, t)
	}
	if err := trows.Err(); err != nil {
		return nil, translateErr("read workflow", err)
	}

	return &w, nil
}

func scanDefinition(row rowScanner) (*meta.BODefinition, error) {
	var d meta.BODefinition
	var created, updated string
	if err := row.Scan(&d.Code, &d.Name, &d.Description, &d.ModuleCode,
		&d.TableName, &d.TableCreated, &created, &updated); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTimestamp(created)
	d.UpdatedAt = parseTimestamp(updated)
	return &d, nil
}

// nullable maps an empty code to NULL so foreign keys stay honest.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
