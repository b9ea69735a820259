package record_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynabo/dynabo/internal/dyntable"
	"github.com/dynabo/dynabo/internal/errs"
	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
	"github.com/dynabo/dynabo/internal/query"
	"github.com/dynabo/dynabo/internal/record"
	"github.com/dynabo/dynabo/internal/store"
	"github.com/dynabo/dynabo/internal/testutil"
)

func ticketDef() *meta.BODefinition {
	return &meta.BODefinition{
		Code:      "ticket",
		Name:      "Support Ticket",
		TableName: "bo_ticket",
		Fields: []meta.FieldDefinition{
			{Code: "title", Name: "Title", Type: fieldtype.Text, Required: true},
			{Code: "priority", Name: "Priority", Type: fieldtype.Enum,
				EnumValues: []string{"low", "med", "high"}, DefaultValue: "med"},
			{Code: "estimate", Name: "Estimate", Type: fieldtype.Float},
		},
		Workflow: &meta.WorkflowDefinition{
			InitialState: "open",
			States:       []meta.State{{Code: "open"}, {Code: "closed"}},
			Transitions: []meta.Transition{
				{Code: "close", FromState: "open", ToState: "closed"},
			},
		},
	}
}

func newWriter(t *testing.T) (*record.Writer, *query.Engine) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tables := dyntable.New(s.DB(), "bo_", nil)
	require.NoError(t, tables.CreateTable(context.Background(), ticketDef()))

	queries := query.New(s.DB(), "bo_", 100)
	w := record.New(s.DB(), "bo_", queries)
	w.SetNow(testutil.NewClock().Now)
	w.SetNewID(testutil.NewIDSequence().Next)
	return w, queries
}

func TestInsertRoundTrip(t *testing.T) {
	w, _ := newWriter(t)

	rec, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":    "login crash",
		"priority": "high",
		"estimate": 3.5,
	}, "alice")
	require.NoError(t, err)

	assert.Equal(t, "id-0001", rec["id"])
	assert.Equal(t, "login crash", rec["title"])
	assert.Equal(t, "high", rec["priority"])
	assert.Equal(t, 3.5, rec["estimate"])
	assert.Equal(t, "alice", rec["_created_by"])
	assert.Equal(t, "open", rec["_state"])
	assert.Equal(t, rec["_created_at"], rec["_updated_at"])
}

func TestInsertWithoutWorkflowLeavesStateNull(t *testing.T) {
	w, _ := newWriter(t)
	def := ticketDef()
	def.Workflow = nil

	rec, err := w.Insert(context.Background(), def, map[string]any{
		"title": "no lifecycle",
	}, "")
	require.NoError(t, err)
	assert.Nil(t, rec["_state"])
	assert.Nil(t, rec["_created_by"])
}

func TestInsertRejectsStateWrite(t *testing.T) {
	w, _ := newWriter(t)

	_, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":  "sneaky",
		"_state": "closed",
	}, "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeDirectStateMutation))

	pe, ok := errs.As(err)
	require.True(t, ok)
	assert.Contains(t, pe.Hint, "transition endpoint")
}

func TestInsertRejectsSystemColumns(t *testing.T) {
	w, _ := newWriter(t)

	_, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":       "sneaky",
		"_created_at": "1999-01-01T00:00:00Z",
	}, "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidValue))
}

func TestInsertMissingRequiredField(t *testing.T) {
	w, _ := newWriter(t)

	_, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"priority": "low",
	}, "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeRequiredField))

	pe, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, "title", pe.Field)
}

func TestInsertUnknownField(t *testing.T) {
	w, _ := newWriter(t)

	_, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":    "ok",
		"severity": "high",
	}, "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUnknownField))
}

func TestInsertBadEnumValue(t *testing.T) {
	w, _ := newWriter(t)

	_, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":    "ok",
		"priority": "urgent",
	}, "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidValue))
}

func TestInsertNotes(t *testing.T) {
	w, _ := newWriter(t)

	rec, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":  "with notes",
		"_notes": "imported from the old tracker",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "imported from the old tracker", rec["_notes"])

	_, err = w.Insert(context.Background(), ticketDef(), map[string]any{
		"title":  "bad notes",
		"_notes": 42,
	}, "")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidValue))
}

func TestUpdate(t *testing.T) {
	w, _ := newWriter(t)

	rec, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title": "before",
	}, "")
	require.NoError(t, err)
	id := rec["id"].(string)
	created := rec["_created_at"]

	updated, err := w.Update(context.Background(), ticketDef(), id, map[string]any{
		"title":    "after",
		"estimate": 2.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated["title"])
	assert.Equal(t, 2.0, updated["estimate"])
	assert.Equal(t, created, updated["_created_at"])
	// The deterministic clock advances per call, so the update stamp
	// moved forward.
	assert.NotEqual(t, updated["_created_at"], updated["_updated_at"])
	// Untouched fields keep their values.
	assert.Equal(t, "open", updated["_state"])
}

func TestUpdateRejectsStateWrite(t *testing.T) {
	w, _ := newWriter(t)

	rec, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title": "x",
	}, "")
	require.NoError(t, err)

	_, err = w.Update(context.Background(), ticketDef(), rec["id"].(string),
		map[string]any{"_state": "closed"})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeDirectStateMutation))
}

func TestUpdateEmptyBody(t *testing.T) {
	w, _ := newWriter(t)

	rec, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title": "x",
	}, "")
	require.NoError(t, err)

	_, err = w.Update(context.Background(), ticketDef(), rec["id"].(string),
		map[string]any{})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidValue))
}

func TestUpdateNotFound(t *testing.T) {
	w, _ := newWriter(t)

	_, err := w.Update(context.Background(), ticketDef(), "missing",
		map[string]any{"title": "x"})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))
}

func TestDelete(t *testing.T) {
	w, queries := newWriter(t)

	rec, err := w.Insert(context.Background(), ticketDef(), map[string]any{
		"title": "short-lived",
	}, "")
	require.NoError(t, err)
	id := rec["id"].(string)

	require.NoError(t, w.Delete(context.Background(), ticketDef(), id))

	_, err = queries.Get(context.Background(), ticketDef(), id)
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))

	err = w.Delete(context.Background(), ticketDef(), id)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))
}

func TestInsertUniqueFieldConflict(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	def := &meta.BODefinition{
		Code:      "product",
		Name:      "Product",
		TableName: "bo_product",
		Fields: []meta.FieldDefinition{
			{Code: "sku", Name: "SKU", Type: fieldtype.Text, Required: true, Unique: true},
			{Code: "label", Name: "Label", Type: fieldtype.Text},
		},
	}
	tables := dyntable.New(s.DB(), "bo_", nil)
	require.NoError(t, tables.CreateTable(context.Background(), def))

	queries := query.New(s.DB(), "bo_", 100)
	w := record.New(s.DB(), "bo_", queries)

	first, err := w.Insert(context.Background(), def, map[string]any{
		"sku": "A-1", "label": "widget",
	}, "")
	require.NoError(t, err)

	// A second record with the same sku is a data conflict, not a store
	// failure.
	_, err = w.Insert(context.Background(), def, map[string]any{
		"sku": "A-1", "label": "other widget",
	}, "")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
	assert.True(t, errs.HasCode(err, errs.CodeUniqueViolation))

	// Same translation on the update path.
	second, err := w.Insert(context.Background(), def, map[string]any{
		"sku": "B-2",
	}, "")
	require.NoError(t, err)
	_, err = w.Update(context.Background(), def, second["id"].(string),
		map[string]any{"sku": "A-1"})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUniqueViolation))

	// A distinct value still goes through.
	_, err = w.Update(context.Background(), def, first["id"].(string),
		map[string]any{"label": "renamed"})
	require.NoError(t, err)
}
