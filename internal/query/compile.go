package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
)

// Request is the untyped filter/sort/pagination input for one BO.
//
// Filter keys are field codes, optionally suffixed "__<operator>"
// (default: exact match). Sort is a comma-separated list of field
// codes, each optionally prefixed "-" for descending.
type Request struct {
	Filters  map[string]string
	Sort     string
	Page     int
	PageSize int
}

// predicate is one compiled filter term. Values are always bound
// parameters; only the column identifier, which comes from validated
// metadata, appears in the SQL text.
type predicate struct {
	sql  string
	args []any
}

// compiled is the fully resolved form of a Request against one BO.
type compiled struct {
	where   []predicate
	orderBy string
	limit   int
	offset  int
}

// compile resolves and type-checks every part of the request against
// the BO's current field set.
func compile(def *meta.BODefinition, req Request, maxPageSize int) (*compiled, error) {
	c := &compiled{}

	// Deterministic compilation order regardless of map iteration.
	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p, err := compileTerm(def, key, req.Filters[key])
		if err != nil {
			return nil, err
		}
		c.where = append(c.where, p)
	}

	orderBy, err := compileSort(def, req.Sort)
	if err != nil {
		return nil, err
	}
	c.orderBy = orderBy

	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	c.limit = size
	c.offset = (page - 1) * size
	return c, nil
}

// compileTerm turns one "field__op=value" pair into a parameterized
// predicate.
func compileTerm(def *meta.BODefinition, key, raw string) (predicate, error) {
	fieldCode, opName := splitFilterKey(key)

	col, ok := def.Column(fieldCode)
	if !ok {
		return predicate{}, errs.Newf(errs.KindValidation, errs.CodeUnknownField,
			"unknown field %q on BO %q", fieldCode, def.Code).
			WithField(fieldCode)
	}

	op := fieldtype.OpEq
	if opName != "" {
		parsed, ok := fieldtype.ParseOperator(opName)
		if !ok {
			return predicate{}, errs.Newf(errs.KindValidation, errs.CodeInvalidOperator,
				"unknown operator %q", opName).WithField(fieldCode).
				WithValue(opName)
		}
		op = parsed
	}

	desc, err := fieldtype.Resolve(col.Type)
	if err != nil {
		return predicate{}, err
	}
	if !desc.Allows(op) {
		return predicate{}, errs.Newf(errs.KindValidation, errs.CodeInvalidOperator,
			"operator %q is not allowed for %s field %q", op, col.Type, fieldCode).
			WithField(fieldCode).WithValue(string(op))
	}

	ident := quoteIdent(col.Code)
	switch op {
	case fieldtype.OpIsNull:
		// isnull takes a boolean regardless of the field's own type.
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1":
			return predicate{sql: ident + " IS NULL"}, nil
		case "false", "0":
			return predicate{sql: ident + " IS NOT NULL"}, nil
		}
		return predicate{}, invalidFilter(fieldCode, raw, "isnull expects true or false")

	case fieldtype.OpIn:
		parts := strings.Split(raw, ",")
		args := make([]any, 0, len(parts))
		for _, part := range parts {
			v, err := desc.Coerce(strings.TrimSpace(part), col.Opts)
			if err != nil {
				return predicate{}, invalidFilter(fieldCode, part, err.Error())
			}
			args = append(args, v)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
		return predicate{
			sql:  fmt.Sprintf("%s IN (%s)", ident, placeholders),
			args: args,
		}, nil

	case fieldtype.OpContains, fieldtype.OpStartsWith, fieldtype.OpEndsWith:
		pattern := likePattern(raw, op)
		return predicate{
			sql:  ident + ` LIKE ? ESCAPE '\'`,
			args: []any{pattern},
		}, nil

	default:
		v, err := desc.Coerce(raw, col.Opts)
		if err != nil {
			return predicate{}, invalidFilter(fieldCode, raw, err.Error())
		}
		return predicate{
			sql:  fmt.Sprintf("%s %s ?", ident, sqlComparison(op)),
			args: []any{v},
		}, nil
	}
}

// compileSort validates the sort specification and renders the ORDER BY
// expression. An absent sort orders by id ascending for determinism; id
// is always appended as a tiebreaker.
func compileSort(def *meta.BODefinition, spec string) (string, error) {
	if strings.TrimSpace(spec) == "" {
		return `"id" ASC`, nil
	}

	var terms []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dir := "ASC"
		if strings.HasPrefix(part, "-") {
			dir = "DESC"
			part = part[1:]
		}
		col, ok := def.Column(part)
		if !ok {
			return "", errs.Newf(errs.KindValidation, errs.CodeUnknownField,
				"unknown sort field %q on BO %q", part, def.Code).
				WithField(part)
		}
		terms = append(terms, quoteIdent(col.Code)+" "+dir)
	}
	if len(terms) == 0 {
		return `"id" ASC`, nil
	}
	terms = append(terms, `"id" ASC`)
	return strings.Join(terms, ", "), nil
}

// splitFilterKey separates "priority__gte" into field code and operator
// suffix. Field codes may themselves contain underscores, so only the
// final "__" is significant.
func splitFilterKey(key string) (field, op string) {
	if i := strings.LastIndex(key, "__"); i > 0 {
		return key[:i], key[i+2:]
	}
	return key, ""
}

// sqlComparison maps a comparison operator to its SQL token.
func sqlComparison(op fieldtype.Operator) string {
	switch op {
	case fieldtype.OpNe:
		return "!="
	case fieldtype.OpGt:
		return ">"
	case fieldtype.OpGte:
		return ">="
	case fieldtype.OpLt:
		return "<"
	case fieldtype.OpLte:
		return "<="
	default:
		return "="
	}
}

// likePattern builds a LIKE pattern with user wildcards escaped, so a
// literal % or _ in the value matches itself.
func likePattern(raw string, op fieldtype.Operator) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(raw)
	switch op {
	case fieldtype.OpStartsWith:
		return escaped + "%"
	case fieldtype.OpEndsWith:
		return "%" + escaped
	default:
		return "%" + escaped + "%"
	}
}

func invalidFilter(field, value, cause string) error {
	return errs.Newf(errs.KindValidation, errs.CodeInvalidFilter,
		"invalid filter value for %q: %s", field, cause).
		WithField(field).WithValue(value)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
