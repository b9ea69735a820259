package dyntable

import (
	"fmt"
	"strings"

	"github.com/dynabo/dynabo/internal/fieldtype"
	"github.com/dynabo/dynabo/internal/meta"
)

// DDL text generation. Identifiers here come from metadata that passed
// store validation; filter values never reach this package. Identifiers
// are still quoted, defaults are escaped as SQL string literals.

// buildCreateTable renders the CREATE TABLE statement for a BO: the six
// system columns first, then one column per field in declared order.
func buildCreateTable(table string, fields []meta.FieldDefinition) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(table))
	b.WriteString("    \"id\" TEXT PRIMARY KEY,\n")
	b.WriteString("    \"_state\" TEXT,\n")
	b.WriteString("    \"_created_at\" TEXT NOT NULL,\n")
	b.WriteString("    \"_updated_at\" TEXT NOT NULL,\n")
	b.WriteString("    \"_created_by\" TEXT,\n")
	b.WriteString("    \"_notes\" TEXT")

	for _, f := range fields {
		col, err := columnDef(f, true)
		if err != nil {
			return "", err
		}
		b.WriteString(",\n    ")
		b.WriteString(col)
	}

	for _, f := range fields {
		if f.Unique {
			fmt.Fprintf(&b, ",\n    UNIQUE (%s)", quoteIdent(f.Code))
		}
	}

	b.WriteString("\n)")
	return b.String(), nil
}

// buildAddColumn renders the ALTER TABLE for one new field. New columns
// are always introduced nullable or with an explicit default; a NOT
// NULL column cannot be added against existing rows.
func buildAddColumn(table string, f meta.FieldDefinition) (string, error) {
	col, err := columnDef(f, false)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), col), nil
}

// buildDropColumn renders the ALTER TABLE removing one field's column.
func buildDropColumn(table, fieldCode string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		quoteIdent(table), quoteIdent(fieldCode))
}

// buildDropTable renders the statement removing a BO's table.
func buildDropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table))
}

// buildIndexes renders CREATE INDEX statements: one for _state (always,
// transitions and workflow filters hit it constantly) plus one per
// indexed or searchable field.
func buildIndexes(table string, fields []meta.FieldDefinition) []string {
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (\"_state\")",
			quoteIdent("ix_"+table+"__state"), quoteIdent(table)),
	}
	for _, f := range fields {
		if f.Indexed || f.Searchable {
			stmts = append(stmts, buildFieldIndex(table, f.Code))
		}
	}
	return stmts
}

func buildFieldIndex(table, fieldCode string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent("ix_"+table+"_"+fieldCode), quoteIdent(table),
		quoteIdent(fieldCode))
}

// buildUniqueIndex enforces uniqueness for a field added after table
// creation, where the table-level UNIQUE clause is out of reach.
func buildUniqueIndex(table, fieldCode string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent("ux_"+table+"_"+fieldCode), quoteIdent(table),
		quoteIdent(fieldCode))
}

// columnDef renders one column clause. At table creation time a
// required field may be NOT NULL; on ADD COLUMN it may not, because the
// constraint would be unsatisfiable for existing rows.
func columnDef(f meta.FieldDefinition, creating bool) (string, error) {
	desc, err := fieldtype.Resolve(f.Type)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", quoteIdent(f.Code), desc.ColumnType)

	if creating && f.Required {
		b.WriteString(" NOT NULL")
	}
	if f.DefaultValue != "" {
		fmt.Fprintf(&b, " DEFAULT %s", quoteLiteral(f.DefaultValue))
	}
	if f.Type == fieldtype.Enum && len(f.EnumValues) > 0 {
		quoted := make([]string, len(f.EnumValues))
		for i, v := range f.EnumValues {
			quoted[i] = quoteLiteral(v)
		}
		fmt.Fprintf(&b, " CHECK (%s IN (%s))",
			quoteIdent(f.Code), strings.Join(quoted, ", "))
	}
	return b.String(), nil
}

// quoteIdent double-quotes an identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral renders a SQL string literal for DDL defaults, which
// cannot be bound as parameters.
func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
