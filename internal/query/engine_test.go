package query_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynabo/dynabo/internal/dyntable"
	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
	"github.com/dynabo/dynabo/internal/query"
	"github.com/dynabo/dynabo/internal/store"
)

func ticketDef() *meta.BODefinition {
	return &meta.BODefinition{
		Code:      "ticket",
		Name:      "Support Ticket",
		TableName: "bo_ticket",
		Fields: []meta.FieldDefinition{
			{Code: "title", Name: "Title", Type: fieldtype.Text, Required: true},
			{Code: "priority", Name: "Priority", Type: fieldtype.Enum,
				EnumValues: []string{"low", "med", "high"}},
			{Code: "estimate", Name: "Estimate", Type: fieldtype.Float},
			{Code: "open_flag", Name: "Open", Type: fieldtype.Boolean},
		},
	}
}

func newEngine(t *testing.T) (*query.Engine, *sql.DB) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tables := dyntable.New(s.DB(), "bo_", nil)
	require.NoError(t, tables.CreateTable(context.Background(), ticketDef()))
	return query.New(s.DB(), "bo_", 100), s.DB()
}

func seedTicket(t *testing.T, db *sql.DB, id, title, priority string, estimate any, open bool) {
	t.Helper()
	flag := 0
	if open {
		flag = 1
	}
	_, err := db.Exec(`INSERT INTO "bo_ticket"
		("id", "_created_at", "_updated_at", "title", "priority", "estimate", "open_flag")
		VALUES (?, '2024-06-01T12:00:00Z', '2024-06-01T12:00:00Z', ?, ?, ?, ?)`,
		id, title, priority, estimate, flag)
	require.NoError(t, err)
}

func seedFixtures(t *testing.T, db *sql.DB) {
	t.Helper()
	seedTicket(t, db, "t1", "login crash on submit", "high", 3.5, true)
	seedTicket(t, db, "t2", "slow dashboard", "med", 8.0, true)
	seedTicket(t, db, "t3", "typo in footer", "low", 0.5, false)
	seedTicket(t, db, "t4", "crash importing CSV", "high", nil, true)
}

func TestListAll(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Items, 4)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.Pages)

	// Default order is by id ascending.
	assert.Equal(t, "t1", page.Items[0]["id"])
	assert.Equal(t, "t4", page.Items[3]["id"])
}

func TestCount(t *testing.T) {
	e, db := newEngine(t)

	n, err := e.Count(context.Background(), ticketDef())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	seedFixtures(t, db)
	n, err = e.Count(context.Background(), ticketDef())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestListFilterEquality(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"priority": "high"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, item := range page.Items {
		assert.Equal(t, "high", item["priority"])
	}
}

func TestListFilterIn(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"priority__in": "high,med"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestListFilterContains(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"title__contains": "crash"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "t1", page.Items[0]["id"])
	assert.Equal(t, "t4", page.Items[1]["id"])
}

func TestListFilterOrderedComparison(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"estimate__gte": "3"},
	})
	require.NoError(t, err)
	// The NULL estimate on t4 never matches a comparison.
	assert.Equal(t, 2, page.Total)
}

func TestListFilterIsNull(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"estimate__isnull": "true"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "t4", page.Items[0]["id"])
}

func TestListCombinedFiltersAreConjunctive(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{
			"priority":        "high",
			"title__contains": "login",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "t1", page.Items[0]["id"])
}

func TestListSort(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Sort: "-estimate",
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		ids = append(ids, item["id"].(string))
	}
	// NULLs sort first ascending in SQLite, so last under DESC.
	assert.Equal(t, []string{"t2", "t1", "t3", "t4"}, ids)
}

func TestListPagination(t *testing.T) {
	e, db := newEngine(t)
	for i := 1; i <= 25; i++ {
		seedTicket(t, db, fmt.Sprintf("t%02d", i), fmt.Sprintf("ticket %d", i), "low", 1.0, true)
	}

	first, err := e.List(context.Background(), ticketDef(), query.Request{
		Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, first.Total)
	assert.Equal(t, 3, first.Pages)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, "t01", first.Items[0]["id"])

	last, err := e.List(context.Background(), ticketDef(), query.Request{
		Page: 3, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.Equal(t, "t21", last.Items[0]["id"])

	// A page past the end is empty, not an error.
	beyond, err := e.List(context.Background(), ticketDef(), query.Request{
		Page: 9, PageSize: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.Equal(t, 25, beyond.Total)
	assert.Equal(t, 9, beyond.Page)
}

func TestListDecodesTypedValues(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	page, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"title": "typo in footer"},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	item := page.Items[0]
	assert.Equal(t, 0.5, item["estimate"])
	assert.Equal(t, false, item["open_flag"])
}

func TestListRejectsBadFilterBeforeQuerying(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"severity": "high"},
	})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUnknownField))

	_, err = e.List(context.Background(), ticketDef(), query.Request{
		Filters: map[string]string{"priority__gt": "low"},
	})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidOperator))
}

func TestGet(t *testing.T) {
	e, db := newEngine(t)
	seedFixtures(t, db)

	item, err := e.Get(context.Background(), ticketDef(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "slow dashboard", item["title"])
	assert.Equal(t, 8.0, item["estimate"])

	_, err = e.Get(context.Background(), ticketDef(), "nope")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))
}
