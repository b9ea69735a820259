package dyntable

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestBuildCreateTable(t *testing.T) {
	fields := []meta.FieldDefinition{
		{Code: "title", Name: "Title", Type: fieldtype.Text, Required: true},
		{Code: "priority", Name: "Priority", Type: fieldtype.Enum,
			DefaultValue: "med", EnumValues: []string{"low", "med", "high"}},
		{Code: "estimate", Name: "Estimate", Type: fieldtype.Float},
	}

	ddl, err := buildCreateTable("bo_ticket", fields)
	require.NoError(t, err)
	golden(t).Assert(t, "create_table_ticket", []byte(ddl))
}

func TestBuildCreateTableUnique(t *testing.T) {
	fields := []meta.FieldDefinition{
		{Code: "sku", Name: "SKU", Type: fieldtype.Text, Required: true, Unique: true},
		{Code: "in_stock", Name: "In Stock", Type: fieldtype.Boolean},
	}

	ddl, err := buildCreateTable("bo_product", fields)
	require.NoError(t, err)
	golden(t).Assert(t, "create_table_product", []byte(ddl))
}

func TestBuildCreateTableUnknownType(t *testing.T) {
	_, err := buildCreateTable("bo_x", []meta.FieldDefinition{
		{Code: "shape", Name: "Shape", Type: fieldtype.Type("polygon")},
	})
	require.Error(t, err)
}

func TestBuildAddColumnNeverNotNull(t *testing.T) {
	// Required is ignored on ADD COLUMN; existing rows could not
	// satisfy the constraint.
	ddl, err := buildAddColumn("bo_ticket", meta.FieldDefinition{
		Code: "owner", Name: "Owner", Type: fieldtype.Text, Required: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `ALTER TABLE "bo_ticket" ADD COLUMN "owner" TEXT`, ddl)
}

func TestBuildAddColumnWithDefault(t *testing.T) {
	ddl, err := buildAddColumn("bo_ticket", meta.FieldDefinition{
		Code: "source", Name: "Source", Type: fieldtype.Text,
		DefaultValue: "it's web",
	})
	require.NoError(t, err)
	assert.Equal(t,
		`ALTER TABLE "bo_ticket" ADD COLUMN "source" TEXT DEFAULT 'it''s web'`,
		ddl)
}

func TestBuildDropStatements(t *testing.T) {
	assert.Equal(t, `ALTER TABLE "bo_ticket" DROP COLUMN "owner"`,
		buildDropColumn("bo_ticket", "owner"))
	assert.Equal(t, `DROP TABLE IF EXISTS "bo_ticket"`,
		buildDropTable("bo_ticket"))
}

func TestBuildIndexes(t *testing.T) {
	stmts := buildIndexes("bo_ticket", []meta.FieldDefinition{
		{Code: "title", Name: "Title", Type: fieldtype.Text, Searchable: true},
		{Code: "priority", Name: "Priority", Type: fieldtype.Enum, Indexed: true},
		{Code: "estimate", Name: "Estimate", Type: fieldtype.Float},
	})

	// The _state index always comes first, then one per flagged field.
	require.Len(t, stmts, 3)
	assert.Equal(t,
		`CREATE INDEX IF NOT EXISTS "ix_bo_ticket__state" ON "bo_ticket" ("_state")`,
		stmts[0])
	assert.Contains(t, stmts[1], `"ix_bo_ticket_title"`)
	assert.Contains(t, stmts[2], `"ix_bo_ticket_priority"`)
}

func TestBuildUniqueIndex(t *testing.T) {
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS "ux_bo_product_sku" ON "bo_product" ("sku")`,
		buildUniqueIndex("bo_product", "sku"))
}

func TestQuoteIdentEscapes(t *testing.T) {
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}
