// Package schema provides the typed data model shared by every store backend:
// field types, collection schemas, values, fields and records.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownType is returned when a field type name is not recognised.
	ErrUnknownType = errors.New("unknown field type")

	// ErrInvalidSchema is returned when a schema cannot back a collection.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidFields is returned when a field set does not cover a schema.
	ErrInvalidFields = errors.New("invalid fields")

	// ErrTypeMismatch is returned when a value's type differs from its column.
	ErrTypeMismatch = errors.New("type mismatch")
)

// FieldType is the type of a schema column.
type FieldType int

const (
	Text FieldType = iota + 1
	Number
	Boolean
	DateTime
)

var typeNames = map[FieldType]string{
	Text:     "Text",
	Number:   "Number",
	Boolean:  "Boolean",
	DateTime: "DateTime",
}

func (t FieldType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// Valid reports whether t is one of the four known types.
func (t FieldType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseFieldType parses the textual form produced by FieldType.String.
// Matching is exact.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FieldDescriptor names and types one column.
type FieldDescriptor struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
}

// Schema is the ordered column list of a collection. The order defines the
// storage and display order and never changes once a collection exists.
type Schema []FieldDescriptor

// reserved column names used by backends next to the schema columns.
var reserved = map[string]bool{
	"id":           true,
	"completed_at": true,
}

// Validate checks that s can back a collection.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s))
	for i, f := range s {
		switch {
		case strings.TrimSpace(f.Name) == "":
			return fmt.Errorf("%w: field %d has an empty name", ErrInvalidSchema, i)
		case strings.ContainsRune(f.Name, 0):
			return fmt.Errorf("%w: field %d name contains NUL", ErrInvalidSchema, i)
		case reserved[strings.ToLower(f.Name)]:
			return fmt.Errorf("%w: field name %q is reserved", ErrInvalidSchema, f.Name)
		case !f.Type.Valid():
			return fmt.Errorf("%w: field %q: %v", ErrInvalidSchema, f.Name, f.Type)
		}
		// SQLite identifiers are case-insensitive.
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[key] = true
	}
	return nil
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// TextFields returns the names of the Text columns in schema order.
func (s Schema) TextFields() []string {
	var names []string
	for _, f := range s {
		if f.Type == Text {
			names = append(names, f.Name)
		}
	}
	return names
}

// Clone returns a copy that does not share memory with s.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both schemas have the same columns in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// CheckFields validates a write against s and returns the fields in schema
// order. Every column must be supplied exactly once with a value of the
// column's type.
func (s Schema) CheckFields(fields []Field) ([]Field, error) {
	ordered := make([]Field, len(s))
	set := make([]bool, len(s))
	for _, f := range fields {
		i := s.Index(f.Name)
		if i < 0 {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFields, f.Name)
		}
		if set[i] {
			return nil, fmt.Errorf("%w: field %q given twice", ErrInvalidFields, f.Name)
		}
		if f.Value.Type() != s[i].Type {
			return nil, fmt.Errorf("%w: field %q is %v, got %v", ErrTypeMismatch, f.Name, s[i].Type, f.Value.Type())
		}
		ordered[i] = f
		set[i] = true
	}
	for i, ok := range set {
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidFields, s[i].Name)
		}
	}
	return ordered, nil
}

// Field is a named value, used when writing records.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Record is one stored item. Fields follow the collection's schema order.
// A nil CompletedAt means the record is pending.
type Record struct {
	ID          uint64     `json:"id"`
	Fields      []Field    `json:"fields"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Done reports whether the record has been completed.
func (r Record) Done() bool {
	return r.CompletedAt != nil
}

// Field returns the value of the named field.
func (r Record) Field(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}
