package store

import (
	"context"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/meta"
)

// CreateRelation stores a typed link between two BOs. Relations are
// metadata only; no junction tables or joins are materialized here.
func (s *Store) CreateRelation(ctx context.Context, r *meta.RelationDefinition) error {
	if !meta.ValidCode(r.Code) {
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"invalid relation code %q", r.Code).WithField("code")
	}
	switch r.Kind {
	case meta.OneToOne, meta.OneToMany, meta.ManyToMany:
	default:
		return errs.Newf(errs.KindValidation, errs.CodeInvalidDef,
			"unknown relation kind %q", r.Kind).WithField("kind")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relation_definitions
		(code, name, kind, source_bo, target_bo, fk_column)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Code, r.Name, string(r.Kind), r.SourceBO, r.TargetBO, r.FKColumn)
	if err != nil {
		return translateErr("create relation", err)
	}
	return nil
}

// DeleteRelation removes a relation definition.
func (s *Store) DeleteRelation(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relation_definitions WHERE code = ?`, code)
	if err != nil {
		return translateErr("delete relation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translateErr("delete relation", err)
	}
	if n == 0 {
		return notFound("relation", code)
	}
	return nil
}

// readRelations returns relations where the BO is either endpoint.
func (s *Store) readRelations(ctx context.Context, boCode string) ([]meta.RelationDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, kind, source_bo, target_bo, fk_column
		FROM relation_definitions
		WHERE source_bo = ? OR target_bo = ?
		ORDER BY code ASC
	`, boCode, boCode)
	if err != nil {
		return nil, translateErr("read relations", err)
	}
	defer rows.Close()

	var relations []meta.RelationDefinition
	for rows.Next() {
		var r meta.RelationDefinition
		var kind string
		if err := rows.Scan(&r.Code, &r.Name, &kind, &r.SourceBO,
			&r.TargetBO, &r.FKColumn); err != nil {
			return nil, translateErr("read relations", err)
		}
		r.Kind = meta.RelationKind(kind)
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("read relations", err)
	}
	return relations, nil
}
