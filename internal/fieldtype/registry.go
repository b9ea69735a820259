// Package fieldtype is the registry mapping logical field types to
// physical column types, allowed query operators and value coercions.
//
// The registry is a single lookup table. Adding a logical type means
// adding one entry here; no call site switches on the type.
package fieldtype

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dynabo/dynabo/internal/errs"
)

// Type is a logical field type.
type Type string

const (
	Text      Type = "text"
	Integer   Type = "integer"
	Float     Type = "float"
	Boolean   Type = "boolean"
	Date      Type = "date"
	DateTime  Type = "datetime"
	Email     Type = "email"
	URL       Type = "url"
	Enum      Type = "enum"
	JSON      Type = "json"
	Reference Type = "reference"
)

// Operator is a query filter operator.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpIn         Operator = "in"
	OpIsNull     Operator = "isnull"
)

// Options carries per-field configuration consulted during coercion.
type Options struct {
	// EnumValues is the declared value set for enum fields.
	EnumValues []string

	// MaxLength bounds string length when positive.
	MaxLength int
}

// Descriptor is the registry entry for one logical type.
type Descriptor struct {
	Type Type

	// ColumnType is the physical SQLite column type.
	ColumnType string

	operators map[Operator]struct{}
	coerce    func(raw any, opts Options) (any, error)
	decode    func(v any) (any, error)
}

// DateLayout is the storage layout for date values.
const DateLayout = "2006-01-02"

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	urlPattern   = regexp.MustCompile(`^https?://\S+$`)
)

// equality operators are legal for every logical type.
var equalityOps = []Operator{OpEq, OpNe, OpIn, OpIsNull}

// ordered operators are legal only for types with a natural order.
var orderedOps = []Operator{OpGt, OpGte, OpLt, OpLte}

// substring operators are legal only for free-text types.
var substringOps = []Operator{OpContains, OpStartsWith, OpEndsWith}

var registry = map[Type]*Descriptor{
	Text: {
		Type:       Text,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps, substringOps),
		coerce:     coerceText,
		decode:     decodeString,
	},
	Integer: {
		Type:       Integer,
		ColumnType: "INTEGER",
		operators:  opSet(equalityOps, orderedOps),
		coerce:     coerceInteger,
		decode:     decodeInteger,
	},
	Float: {
		Type:       Float,
		ColumnType: "REAL",
		operators:  opSet(equalityOps, orderedOps),
		coerce:     coerceFloat,
		decode:     decodeFloat,
	},
	Boolean: {
		Type:       Boolean,
		ColumnType: "INTEGER",
		operators:  opSet(equalityOps),
		coerce:     coerceBoolean,
		decode:     decodeBoolean,
	},
	Date: {
		Type:       Date,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps, orderedOps),
		coerce:     coerceDate,
		decode:     decodeString,
	},
	DateTime: {
		Type:       DateTime,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps, orderedOps),
		coerce:     coerceDateTime,
		decode:     decodeString,
	},
	Email: {
		Type:       Email,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps, substringOps),
		coerce:     coerceEmail,
		decode:     decodeString,
	},
	URL: {
		Type:       URL,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps, substringOps),
		coerce:     coerceURL,
		decode:     decodeString,
	},
	Enum: {
		Type:       Enum,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps),
		coerce:     coerceEnum,
		decode:     decodeString,
	},
	JSON: {
		Type:       JSON,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps),
		coerce:     coerceJSON,
		decode:     decodeJSON,
	},
	Reference: {
		Type:       Reference,
		ColumnType: "TEXT",
		operators:  opSet(equalityOps),
		coerce:     coerceReference,
		decode:     decodeString,
	},
}

// Resolve returns the registry entry for a logical type.
func Resolve(t Type) (*Descriptor, error) {
	d, ok := registry[t]
	if !ok {
		return nil, errs.Newf(errs.KindValidation, errs.CodeUnknownFieldType,
			"unknown field type %q", t).WithValue(string(t))
	}
	return d, nil
}

// Types returns all registered logical types.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

// Allows reports whether the operator is legal for this type.
func (d *Descriptor) Allows(op Operator) bool {
	_, ok := d.operators[op]
	return ok
}

// Coerce converts a raw client value into its storage representation.
//
// The returned value is safe to pass as a bound query parameter. The
// error is a bare cause; callers wrap it with the field context.
func (d *Descriptor) Coerce(raw any, opts Options) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return d.coerce(raw, opts)
}

// Decode converts a scanned database value back to its logical value.
// Write-then-read round-trips through Coerce and Decode are identity
// under the logical type's equality.
func (d *Descriptor) Decode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return d.decode(v)
}

// ParseOperator parses an operator suffix from a filter key.
func ParseOperator(s string) (Operator, bool) {
	switch op := Operator(s); op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte,
		OpContains, OpStartsWith, OpEndsWith, OpIn, OpIsNull:
		return op, true
	default:
		return "", false
	}
}

func opSet(groups ...[]Operator) map[Operator]struct{} {
	set := make(map[Operator]struct{})
	for _, g := range groups {
		for _, op := range g {
			set[op] = struct{}{}
		}
	}
	return set
}

func coerceText(raw any, opts Options) (any, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	if opts.MaxLength > 0 && len(s) > opts.MaxLength {
		return nil, fmt.Errorf("length %d exceeds max length %d", len(s), opts.MaxLength)
	}
	return s, nil
}

func coerceInteger(raw any, _ Options) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", raw)
	}
}

func coerceFloat(raw any, _ Options) (any, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expected number, got %T", raw)
	}
}

func coerceBoolean(raw any, _ Options) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("expected boolean, got %q", v)
	default:
		return nil, fmt.Errorf("expected boolean, got %T", raw)
	}
}

func coerceDate(raw any, _ Options) (any, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("expected date (YYYY-MM-DD), got %q", s)
	}
	return t.Format(DateLayout), nil
}

func coerceDateTime(raw any, _ Options) (any, error) {
	if t, ok := raw.(time.Time); ok {
		return t.UTC().Format(time.RFC3339), nil
	}
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("expected datetime (RFC 3339), got %q", s)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func coerceEmail(raw any, opts Options) (any, error) {
	v, err := coerceText(raw, opts)
	if err != nil {
		return nil, err
	}
	s := v.(string)
	if !emailPattern.MatchString(s) {
		return nil, fmt.Errorf("%q is not a valid email address", s)
	}
	return s, nil
}

func coerceURL(raw any, opts Options) (any, error) {
	v, err := coerceText(raw, opts)
	if err != nil {
		return nil, err
	}
	s := v.(string)
	if !urlPattern.MatchString(s) {
		return nil, fmt.Errorf("%q is not a valid http(s) URL", s)
	}
	return s, nil
}

func coerceEnum(raw any, opts Options) (any, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	for _, allowed := range opts.EnumValues {
		if s == allowed {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%q is not one of: %s", s, strings.Join(opts.EnumValues, ", "))
}

func coerceJSON(raw any, _ Options) (any, error) {
	if s, ok := raw.(string); ok {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("invalid JSON document")
		}
		return s, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	return string(b), nil
}

func coerceReference(raw any, _ Options) (any, error) {
	s, err := asString(raw)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(s); err != nil {
		return nil, fmt.Errorf("expected record id, got %q", s)
	}
	return s, nil
}

func asString(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	return s, nil
}

func decodeString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return nil, fmt.Errorf("expected stored text, got %T", v)
	}
}

func decodeInteger(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return nil, fmt.Errorf("expected stored integer, got %T", v)
	}
}

func decodeFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return nil, fmt.Errorf("expected stored number, got %T", v)
	}
}

func decodeBoolean(v any) (any, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case int64:
		return n != 0, nil
	default:
		return nil, fmt.Errorf("expected stored boolean, got %T", v)
	}
}

func decodeJSON(v any) (any, error) {
	s, err := decodeString(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(s.(string)), &out); err != nil {
		return nil, fmt.Errorf("stored JSON is corrupt: %w", err)
	}
	return out, nil
}
