// Package query is the query engine: it translates untyped
// filter/sort/pagination requests into safe parameterized SQL against a
// BO's physical table.
//
// Two trust boundaries stay distinct here: table and column identifiers
// are derived from metadata that passed store validation, while filter
// values are untrusted client input and only ever travel as bound
// parameters. No code path lets a value influence which identifier is
// queried.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
)

const defaultPageSize = 20

// Engine executes generic queries against BO tables.
type Engine struct {
	db          *sql.DB
	prefix      string
	maxPageSize int
}

// New creates a query engine. maxPageSize bounds the page size a caller
// may request.
func New(db *sql.DB, prefix string, maxPageSize int) *Engine {
	if prefix == "" {
		prefix = "bo_"
	}
	if maxPageSize < 1 {
		maxPageSize = 100
	}
	return &Engine{db: db, prefix: prefix, maxPageSize: maxPageSize}
}

// Page is one page of query results plus the total count of rows
// matching the filter, independent of the pagination window.
type Page struct {
	Items    []map[string]any `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Pages    int              `json:"pages"`
}

// List runs a filtered, sorted, paginated query against the BO's table.
// Every filter term is type-checked against the current field set
// before any SQL executes.
func (e *Engine) List(ctx context.Context, def *meta.BODefinition, req Request) (*Page, error) {
	c, err := compile(def, req, e.maxPageSize)
	if err != nil {
		return nil, err
	}

	table := quoteIdent(e.prefix + strings.ToLower(def.Code))
	whereSQL, args := renderWhere(c.where)

	var total int
	countSQL := "SELECT COUNT(*) FROM " + table + whereSQL
	if err := e.queryRowRetry(ctx, countSQL, args, &total); err != nil {
		return nil, err
	}

	listSQL := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s LIMIT ? OFFSET ?",
		table, whereSQL, c.orderBy)
	listArgs := append(append([]any{}, args...), c.limit, c.offset)

	rows, err := e.queryRetry(ctx, listSQL, listArgs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := decodeRows(def, rows)
	if err != nil {
		return nil, err
	}

	page := c.offset/c.limit + 1
	return &Page{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: c.limit,
		Pages:    (total + c.limit - 1) / c.limit,
	}, nil
}

// Count returns the number of records in the BO's table, ignoring any
// filter.
func (e *Engine) Count(ctx context.Context, def *meta.BODefinition) (int, error) {
	table := quoteIdent(e.prefix + strings.ToLower(def.Code))
	var total int
	if err := e.queryRowRetry(ctx, "SELECT COUNT(*) FROM "+table, nil, &total); err != nil {
		return 0, err
	}
	return total, nil
}

// Get returns a single record by id, or a NotFound error.
func (e *Engine) Get(ctx context.Context, def *meta.BODefinition, id string) (map[string]any, error) {
	table := quoteIdent(e.prefix + strings.ToLower(def.Code))

	rows, err := e.queryRetry(ctx,
		"SELECT * FROM "+table+` WHERE "id" = ?`, []any{id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := decodeRows(def, rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("get record: %w",
			errs.Newf(errs.KindNotFound, errs.CodeNotFound,
				"no %q record with id %q", def.Code, id).WithValue(id))
	}
	return items[0], nil
}

// renderWhere joins predicates with AND. OR and grouping are not in
// scope for the generic filter surface.
func renderWhere(preds []predicate) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	clauses := make([]string, len(preds))
	var args []any
	for i, p := range preds {
		clauses[i] = p.sql
		args = append(args, p.args...)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// decodeRows scans every row and decodes each column through the field
// type registry, so values read back as the logical values that were
// written. Columns unknown to the metadata (drift) pass through raw.
func decodeRows(def *meta.BODefinition, rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.Store("read columns", err)
	}

	items := []map[string]any{}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Store("scan row", err)
		}

		item := make(map[string]any, len(cols))
		for i, name := range cols {
			item[name] = decodeValue(def, name, raw[i])
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store("iterate rows", err)
	}
	return items, nil
}

// DecodeValue converts one scanned column value to its logical form
// using the BO's metadata. Exposed for the record write path, which
// reads freshly written rows back through the same coercions.
func DecodeValue(def *meta.BODefinition, column string, v any) any {
	return decodeValue(def, column, v)
}

func decodeValue(def *meta.BODefinition, column string, v any) any {
	if v == nil {
		return nil
	}
	col, ok := def.Column(column)
	if !ok {
		if b, isBytes := v.([]byte); isBytes {
			return string(b)
		}
		return v
	}
	desc, err := fieldtype.Resolve(col.Type)
	if err != nil {
		return v
	}
	decoded, err := desc.Decode(v)
	if err != nil {
		return v
	}
	return decoded
}

// queryRetry executes a read, retrying once on a transient SchemaInFlux
// failure. Writes are never retried internally.
func (e *Engine) queryRetry(ctx context.Context, query string, args []any) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil && isSchemaInFlux(err) {
		rows, err = e.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, translateRead(err)
	}
	return rows, nil
}

func (e *Engine) queryRowRetry(ctx context.Context, query string, args []any, dest ...any) error {
	err := e.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	if err != nil && isSchemaInFlux(err) {
		err = e.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	}
	if err != nil {
		return translateRead(err)
	}
	return nil
}

func isSchemaInFlux(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrSchema
}

func translateRead(err error) error {
	if isSchemaInFlux(err) {
		return fmt.Errorf("query: %w",
			errs.New(errs.KindConcurrency, errs.CodeSchemaInFlux,
				"table schema changed during the query; retry"))
	}
	return errs.Store("query", err)
}
