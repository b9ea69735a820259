// Package dyntable is the dynamic table engine: it materializes one
// physical SQLite table per BO definition and evolves it as fields are
// added and removed, without touching existing data.
//
// The engine reads metadata but never writes it; the schema service
// coordinates the two. All DDL against one BO runs under a per-BO
// exclusive lock so concurrent schema changes cannot race, while
// schema changes on unrelated BOs proceed independently.
package dyntable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
)

// DefaultPrefix is prepended to BO codes to form table names.
const DefaultPrefix = "bo_"

// Engine provisions and evolves the physical tables for BOs.
type Engine struct {
	db     *sql.DB
	prefix string
	log    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a table engine over the given database handle. An empty
// prefix falls back to DefaultPrefix.
func New(db *sql.DB, prefix string, log *slog.Logger) *Engine {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		db:     db,
		prefix: prefix,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// TableName derives the physical table name for a BO code.
func (e *Engine) TableName(boCode string) string {
	return e.prefix + strings.ToLower(boCode)
}

// Descriptor is the live, introspected column set of a BO's table: the
// ground truth against which declared metadata is diffed.
type Descriptor struct {
	Table   string
	Columns []Column
}

// Column is one introspected physical column.
type Column struct {
	Name    string
	Type    string
	NotNull bool
}

// HasColumn reports whether the live table carries the named column.
func (d *Descriptor) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnNames returns the live column names in table order.
func (d *Descriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateTable allocates the physical table for a BO: the six system
// columns plus one column per declared field, with column types from
// the field type registry. Fails with TableAlreadyExists if the
// derived name is taken.
func (e *Engine) CreateTable(ctx context.Context, def *meta.BODefinition) error {
	table := e.TableName(def.Code)
	unlock := e.lockBO(def.Code)
	defer unlock()

	exists, err := e.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create table: %w",
			errs.Newf(errs.KindConflict, errs.CodeTableExists,
				"table %q already exists", table).WithValue(table))
	}

	ddl, err := buildCreateTable(table, def.Fields)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return e.ddlFailure(ctx, "create table", table, err)
	}
	for _, stmt := range buildIndexes(table, def.Fields) {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return e.ddlFailure(ctx, "create index", table, err)
		}
	}

	e.log.Info("created table", "table", table, "bo", def.Code,
		"fields", len(def.Fields))
	return nil
}

// AddColumn appends one field's column to an existing table. The column
// is introduced nullable (or with the field's explicit default), never
// NOT NULL against existing rows; a unique field gets its constraint as
// a unique index, since ADD COLUMN cannot carry one inline. Fails with
// ColumnNameCollision when the field code is already a live column,
// system columns included.
func (e *Engine) AddColumn(ctx context.Context, boCode string, f meta.FieldDefinition) error {
	table := e.TableName(boCode)
	unlock := e.lockBO(boCode)
	defer unlock()

	desc, err := e.describe(ctx, table)
	if err != nil {
		return err
	}
	if desc.HasColumn(f.Code) {
		return fmt.Errorf("add column: %w",
			errs.Newf(errs.KindConflict, errs.CodeColumnCollision,
				"column %q already exists on %q", f.Code, table).
				WithField(f.Code))
	}

	ddl, err := buildAddColumn(table, f)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return e.ddlFailure(ctx, "add column", table, err)
	}
	if f.Unique {
		if _, err := e.db.ExecContext(ctx, buildUniqueIndex(table, f.Code)); err != nil {
			return e.ddlFailure(ctx, "add unique index", table, err)
		}
	}
	if f.Indexed || f.Searchable {
		if _, err := e.db.ExecContext(ctx, buildFieldIndex(table, f.Code)); err != nil {
			return e.ddlFailure(ctx, "add column index", table, err)
		}
	}

	e.log.Info("added column", "table", table, "column", f.Code,
		"type", string(f.Type))
	return nil
}

// DropColumn removes a field's column. Destructive and irreversible;
// callers invoke it only as an explicitly confirmed operation, never as
// a side effect of an unrelated metadata edit.
func (e *Engine) DropColumn(ctx context.Context, boCode, fieldCode string) error {
	table := e.TableName(boCode)
	unlock := e.lockBO(boCode)
	defer unlock()

	desc, err := e.describe(ctx, table)
	if err != nil {
		return err
	}
	if !desc.HasColumn(fieldCode) {
		return fmt.Errorf("drop column: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"column %q does not exist on %q", fieldCode, table).
				WithField(fieldCode))
	}

	if _, err := e.db.ExecContext(ctx, buildDropColumn(table, fieldCode)); err != nil {
		return e.ddlFailure(ctx, "drop column", table, err)
	}

	e.log.Info("dropped column", "table", table, "column", fieldCode)
	return nil
}

// RetypeColumn always fails: changing a field's logical type once data
// exists would require value coercion across types, which this engine
// does not attempt. The only available path is an explicit drop+add,
// which is lossy.
func (e *Engine) RetypeColumn(boCode, fieldCode string) error {
	return fmt.Errorf("retype column: %w",
		errs.Newf(errs.KindUnsupported, errs.CodeUnsupportedRetype,
			"changing the type of field %q is not supported", fieldCode).
			WithField(fieldCode).
			WithHint("drop the field and add it again under the new type; stored values are lost"))
}

// DropTable removes a BO's physical table entirely.
func (e *Engine) DropTable(ctx context.Context, boCode string) error {
	table := e.TableName(boCode)
	unlock := e.lockBO(boCode)
	defer unlock()

	if _, err := e.db.ExecContext(ctx, buildDropTable(table)); err != nil {
		return e.ddlFailure(ctx, "drop table", table, err)
	}
	e.log.Info("dropped table", "table", table)
	return nil
}

// DescribeTable introspects the live table for a BO and returns its
// actual column set, used to detect metadata/physical drift.
func (e *Engine) DescribeTable(ctx context.Context, boCode string) (*Descriptor, error) {
	return e.describe(ctx, e.TableName(boCode))
}

func (e *Engine) describe(ctx context.Context, table string) (*Descriptor, error) {
	exists, err := e.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("describe table: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"table %q does not exist", table).WithValue(table))
	}

	rows, err := e.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, translate("describe table", err)
	}
	defer rows.Close()

	desc := &Descriptor{Table: table}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, translate("describe table", err)
		}
		desc.Columns = append(desc.Columns, Column{
			Name:    name,
			Type:    ctype,
			NotNull: notNull != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, translate("describe table", err)
	}
	return desc, nil
}

func (e *Engine) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := e.db.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?
	`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, translate("table exists", err)
	}
	return true, nil
}

// lockBO takes the per-BO exclusive section for the duration of a DDL
// operation. Locks are keyed by BO code so unrelated BOs never wait on
// each other.
func (e *Engine) lockBO(boCode string) func() {
	e.mu.Lock()
	l, ok := e.locks[boCode]
	if !ok {
		l = &sync.Mutex{}
		e.locks[boCode] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ddlFailure handles a failed DDL statement: the engine re-describes
// the table and reports drift instead of claiming success, so a
// partially applied alteration is never silent.
func (e *Engine) ddlFailure(ctx context.Context, op, table string, err error) error {
	e.log.Error("ddl failed", "op", op, "table", table, "error", err)

	if desc, derr := e.describe(context.WithoutCancel(ctx), table); derr == nil {
		return fmt.Errorf("%s: %w (live columns: %s)",
			op, translate(op, err), strings.Join(desc.ColumnNames(), ", "))
	}
	return translate(op, err)
}

// translate maps driver failures onto the platform error taxonomy.
// A schema change observed mid-statement surfaces as the transient
// SchemaInFlux error so the caller can retry.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrSchema {
		return fmt.Errorf("%s: %w", op,
			errs.New(errs.KindConcurrency, errs.CodeSchemaInFlux,
				"table schema changed during the operation"))
	}
	return errs.Store(op, err)
}
