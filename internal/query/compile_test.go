package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
)

func ticketDef() *meta.BODefinition {
	return &meta.BODefinition{
		Code: "ticket",
		Name: "Support Ticket",
		Fields: []meta.FieldDefinition{
			{Code: "title", Name: "Title", Type: fieldtype.Text},
			{Code: "priority", Name: "Priority", Type: fieldtype.Enum,
				EnumValues: []string{"low", "med", "high"}},
			{Code: "estimate", Name: "Estimate", Type: fieldtype.Float},
			{Code: "due_date", Name: "Due", Type: fieldtype.Date},
		},
	}
}

func TestSplitFilterKey(t *testing.T) {
	f, op := splitFilterKey("priority__gte")
	assert.Equal(t, "priority", f)
	assert.Equal(t, "gte", op)

	// Field codes may contain underscores; only the last "__" splits.
	f, op = splitFilterKey("due_date__lt")
	assert.Equal(t, "due_date", f)
	assert.Equal(t, "lt", op)

	f, op = splitFilterKey("title")
	assert.Equal(t, "title", f)
	assert.Equal(t, "", op)
}

func TestCompileTermDefaultsToEq(t *testing.T) {
	p, err := compileTerm(ticketDef(), "priority", "high")
	require.NoError(t, err)
	assert.Equal(t, `"priority" = ?`, p.sql)
	assert.Equal(t, []any{"high"}, p.args)
}

func TestCompileTermUnknownField(t *testing.T) {
	_, err := compileTerm(ticketDef(), "severity", "high")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUnknownField))
}

func TestCompileTermUnknownOperator(t *testing.T) {
	_, err := compileTerm(ticketDef(), "priority__like", "high")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidOperator))
}

func TestCompileTermOperatorNotAllowedForType(t *testing.T) {
	// Ordering makes no sense for enums.
	_, err := compileTerm(ticketDef(), "priority__gt", "low")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidOperator))

	// But it does for dates.
	p, err := compileTerm(ticketDef(), "due_date__gt", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, `"due_date" > ?`, p.sql)
}

func TestCompileTermValueMustCoerce(t *testing.T) {
	_, err := compileTerm(ticketDef(), "estimate__gte", "lots")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))

	_, err = compileTerm(ticketDef(), "priority", "urgent")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))
}

func TestCompileTermIn(t *testing.T) {
	p, err := compileTerm(ticketDef(), "priority__in", "high, med")
	require.NoError(t, err)
	assert.Equal(t, `"priority" IN (?, ?)`, p.sql)
	assert.Equal(t, []any{"high", "med"}, p.args)

	// Every member is type-checked.
	_, err = compileTerm(ticketDef(), "priority__in", "high,urgent")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))
}

func TestCompileTermIsNull(t *testing.T) {
	p, err := compileTerm(ticketDef(), "estimate__isnull", "true")
	require.NoError(t, err)
	assert.Equal(t, `"estimate" IS NULL`, p.sql)
	assert.Empty(t, p.args)

	p, err = compileTerm(ticketDef(), "estimate__isnull", "false")
	require.NoError(t, err)
	assert.Equal(t, `"estimate" IS NOT NULL`, p.sql)

	_, err = compileTerm(ticketDef(), "estimate__isnull", "yes")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidFilter))
}

func TestCompileTermSubstring(t *testing.T) {
	p, err := compileTerm(ticketDef(), "title__contains", "crash")
	require.NoError(t, err)
	assert.Equal(t, `"title" LIKE ? ESCAPE '\'`, p.sql)
	assert.Equal(t, []any{"%crash%"}, p.args)

	p, err = compileTerm(ticketDef(), "title__startswith", "urgent:")
	require.NoError(t, err)
	assert.Equal(t, []any{"urgent:%"}, p.args)

	p, err = compileTerm(ticketDef(), "title__endswith", "!")
	require.NoError(t, err)
	assert.Equal(t, []any{"%!"}, p.args)
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	// A literal % or _ in the value matches itself, never acts as a
	// wildcard.
	p, err := compileTerm(ticketDef(), "title__contains", "100%_done")
	require.NoError(t, err)
	assert.Equal(t, []any{`%100\%\_done%`}, p.args)
}

func TestCompileTermSystemColumns(t *testing.T) {
	p, err := compileTerm(ticketDef(), "_state", "open")
	require.NoError(t, err)
	assert.Equal(t, `"_state" = ?`, p.sql)

	p, err = compileTerm(ticketDef(), "_created_at__gte", "2024-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, `"_created_at" >= ?`, p.sql)
}

func TestCompileSort(t *testing.T) {
	s, err := compileSort(ticketDef(), "")
	require.NoError(t, err)
	assert.Equal(t, `"id" ASC`, s)

	s, err = compileSort(ticketDef(), "-priority,title")
	require.NoError(t, err)
	assert.Equal(t, `"priority" DESC, "title" ASC, "id" ASC`, s)

	_, err = compileSort(ticketDef(), "severity")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUnknownField))
}

func TestCompilePagination(t *testing.T) {
	c, err := compile(ticketDef(), Request{}, 100)
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, c.limit)
	assert.Equal(t, 0, c.offset)

	c, err = compile(ticketDef(), Request{Page: 3, PageSize: 10}, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, c.limit)
	assert.Equal(t, 20, c.offset)

	// Requested size is clamped to the engine maximum.
	c, err = compile(ticketDef(), Request{PageSize: 10_000}, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, c.limit)
}

func TestCompileDeterministicFilterOrder(t *testing.T) {
	req := Request{Filters: map[string]string{
		"title__contains": "x",
		"priority":        "high",
		"estimate__gte":   "2",
	}}

	var first string
	for i := 0; i < 10; i++ {
		c, err := compile(ticketDef(), req, 100)
		require.NoError(t, err)
		where, _ := renderWhere(c.where)
		if i == 0 {
			first = where
			continue
		}
		assert.Equal(t, first, where)
	}
	assert.Equal(t,
		` WHERE "estimate" >= ? AND "priority" = ? AND "title" LIKE ? ESCAPE '\'`,
		first)
}
