package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
)

// CreateModule inserts a new module.
func (s *Store) CreateModule(ctx context.Context, m *meta.Module) error {
	if err := meta.ValidateModule(m); err != nil {
		return err
	}
	now := timestamp(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (code, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.Code, m.Name, m.Description, now, now)
	if err != nil {
		return translateErr("create module", err)
	}
	return nil
}

// GetModule returns the module with the given code.
func (s *Store) GetModule(ctx context.Context, code string) (*meta.Module, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, name, description, created_at, updated_at
		FROM modules WHERE code = ?
	`, code)

	m, err := scanModule(row)
	if err == sql.ErrNoRows {
		return nil, notFound("module", code)
	}
	if err != nil {
		return nil, translateErr("get module", err)
	}
	return m, nil
}

// ListModules returns all modules ordered by code.
func (s *Store) ListModules(ctx context.Context) ([]meta.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, description, created_at, updated_at
		FROM modules ORDER BY code ASC
	`)
	if err != nil {
		return nil, translateErr("list modules", err)
	}
	defer rows.Close()

	modules := []meta.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, translateErr("list modules", err)
		}
		modules = append(modules, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("list modules", err)
	}
	return modules, nil
}

// UpdateModule renames a module or changes its description.
func (s *Store) UpdateModule(ctx context.Context, m *meta.Module) error {
	if err := meta.ValidateModule(m); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE modules SET name = ?, description = ?, updated_at = ?
		WHERE code = ?
	`, m.Name, m.Description, timestamp(s.now()), m.Code)
	if err != nil {
		return translateErr("update module", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr("update module", err)
	}
	if n == 0 {
		return notFound("module", m.Code)
	}
	return nil
}

// DeleteModule removes a module. Deletion is blocked while any BO
// definition is still assigned to it; BOs must be deleted or moved
// first.
func (s *Store) DeleteModule(ctx context.Context, code string) error {
	var assigned int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bo_definitions WHERE module_code = ?
	`, code).Scan(&assigned)
	if err != nil {
		return translateErr("delete module", err)
	}
	if assigned > 0 {
		return fmt.Errorf("delete module: %w",
			errs.Newf(errs.KindConflict, errs.CodeModuleNotEmpty,
				"module %q still has %d BO definition(s)", code, assigned).
				WithHint("delete or reassign the BO definitions first"))
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE code = ?`, code)
	if err != nil {
		return translateErr("delete module", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr("delete module", err)
	}
	if n == 0 {
		return notFound("module", code)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*meta.Module, error) {
	var m meta.Module
	var created, updated string
	if err := row.Scan(&m.Code, &m.Name, &m.Description, &created, &updated); err != nil {
		return nil, err
	}
	m.CreatedAt = parseTimestamp(created)
	m.UpdatedAt = parseTimestamp(updated)
	return &m, nil
}
