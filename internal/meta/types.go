// Package meta holds the metadata model: modules, business-object
// definitions, fields, relations and workflow definitions.
//
// These types are owned by the metadata store. The table engine only
// reads them; the query and workflow engines never mutate them.
package meta

import (
	"time"

	"github.com/dynabo/dynabo/internal/fieldtype"
)

// SystemColumns are the bookkeeping columns present on every BO table.
// Field codes may never collide with them.
var SystemColumns = []string{
	"id", "_state", "_created_at", "_updated_at", "_created_by", "_notes",
}

// Module groups business objects (e.g. CRM, HR, assets).
type Module struct {
	Code        string    `json:"code" yaml:"code"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// BODefinition is the blueprint for one business-object type.
//
// The code is immutable once the physical table exists; renaming a BO
// requires an explicit migration, not a metadata edit.
type BODefinition struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	ModuleCode  string `json:"module_code,omitempty" yaml:"module,omitempty"`

	// TableName is derived from the configured prefix and the code.
	TableName string `json:"table_name,omitempty" yaml:"-"`

	// TableCreated is set once the physical table has been provisioned.
	TableCreated bool `json:"table_created,omitempty" yaml:"-"`

	Fields    []FieldDefinition    `json:"fields" yaml:"fields"`
	Workflow  *WorkflowDefinition  `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	Relations []RelationDefinition `json:"relations,omitempty" yaml:"relations,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// FieldDefinition is one typed attribute of a BO, mapped to one column.
type FieldDefinition struct {
	Code string         `json:"code" yaml:"code"`
	Name string         `json:"name" yaml:"name"`
	Type fieldtype.Type `json:"type" yaml:"type"`

	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	Indexed  bool `json:"indexed,omitempty" yaml:"indexed,omitempty"`

	MaxLength    int    `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	DefaultValue string `json:"default_value,omitempty" yaml:"default,omitempty"`

	// EnumValues is the declared value set; required when Type is enum.
	EnumValues []string `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`

	// ReferenceBO names the referenced BO; required when Type is reference.
	ReferenceBO string `json:"reference_bo,omitempty" yaml:"reference_bo,omitempty"`

	Searchable bool `json:"searchable,omitempty" yaml:"searchable,omitempty"`
	SortOrder  int  `json:"sort_order,omitempty" yaml:"sort_order,omitempty"`
}

// Options returns the coercion options for this field.
func (f FieldDefinition) Options() fieldtype.Options {
	return fieldtype.Options{
		EnumValues: f.EnumValues,
		MaxLength:  f.MaxLength,
	}
}

// RelationKind classifies a relation between two BO types.
type RelationKind string

const (
	OneToOne   RelationKind = "one_to_one"
	OneToMany  RelationKind = "one_to_many"
	ManyToMany RelationKind = "many_to_many"
)

// RelationDefinition declares a typed link between two BOs. Relations
// are stored as metadata only; traversal beyond the reference field
// type is not part of this core.
type RelationDefinition struct {
	Code     string       `json:"code" yaml:"code"`
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind     RelationKind `json:"kind" yaml:"kind"`
	SourceBO string       `json:"source_bo" yaml:"source_bo"`
	TargetBO string       `json:"target_bo" yaml:"target_bo"`

	// FKColumn is the child-table column for one_to_many relations.
	FKColumn string `json:"fk_column,omitempty" yaml:"fk_column,omitempty"`
}

// WorkflowDefinition is the state machine attached to one BO.
type WorkflowDefinition struct {
	InitialState string       `json:"initial_state" yaml:"initial_state"`
	States       []State      `json:"states" yaml:"states"`
	Transitions  []Transition `json:"transitions" yaml:"transitions"`
}

// State is one workflow state. States with no outgoing transitions are
// terminal; that is implicit, not separately declared.
type State struct {
	Code      string `json:"code" yaml:"code"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	SortOrder int    `json:"sort_order,omitempty" yaml:"sort_order,omitempty"`
}

// Transition is a named, optionally guarded edge between two states.
type Transition struct {
	Code      string `json:"code" yaml:"code"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	FromState string `json:"from_state" yaml:"from_state"`
	ToState   string `json:"to_state" yaml:"to_state"`

	// Guard is an optional Lua expression evaluated against the record.
	// The transition applies only when it yields true.
	Guard string `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// Column describes a queryable column of a BO: either a declared field
// or one of the system columns.
type Column struct {
	Code    string
	Type    fieldtype.Type
	Opts    fieldtype.Options
	System  bool
	Mutable bool
}

// systemColumnTypes maps system columns to the logical type used for
// filter coercion and result decoding.
var systemColumnTypes = map[string]fieldtype.Type{
	"id":          fieldtype.Text,
	"_state":      fieldtype.Text,
	"_created_at": fieldtype.DateTime,
	"_updated_at": fieldtype.DateTime,
	"_created_by": fieldtype.Text,
	"_notes":      fieldtype.Text,
}

// IsSystemColumn reports whether name is one of the fixed bookkeeping
// columns.
func IsSystemColumn(name string) bool {
	_, ok := systemColumnTypes[name]
	return ok
}

// Column resolves a field code (or system column name) on this BO.
// All columns are queryable; only declared fields and _notes are
// mutable through the generic update path.
func (d *BODefinition) Column(code string) (Column, bool) {
	if t, ok := systemColumnTypes[code]; ok {
		return Column{
			Code:    code,
			Type:    t,
			System:  true,
			Mutable: code == "_notes",
		}, true
	}
	for _, f := range d.Fields {
		if f.Code == code {
			return Column{
				Code:    f.Code,
				Type:    f.Type,
				Opts:    f.Options(),
				Mutable: true,
			}, true
		}
	}
	return Column{}, false
}

// Field returns the declared field with the given code.
func (d *BODefinition) Field(code string) (FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Code == code {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
