// Package tuple defines the immutable typed records that flow between
// operators. A tuple conforms position-wise to exactly one schema instance.
package tuple

import (
	"fmt"
	"strings"
	"time"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/schema"
)

// Tuple is an ordered list of typed field values conforming to a Schema.
// Tuples are value objects: created by a stage, immutable after creation,
// never mutated once handed downstream.
type Tuple struct {
	schema *schema.Schema
	fields []interface{}
}

// New creates a Tuple, validating field count and runtime types against the
// schema's attribute types.
func New(s *schema.Schema, fields ...interface{}) (*Tuple, error) {
	if s == nil {
		return nil, gferrors.NewConfigurationError("tuple", "schema", nil, "cannot be nil")
	}
	if len(fields) != s.Len() {
		return nil, gferrors.NewConfigurationError("tuple", "fields", len(fields),
			fmt.Sprintf("does not match schema length %d", s.Len()))
	}
	for i, field := range fields {
		attr := s.Attribute(i)
		if err := checkFieldType(attr, field); err != nil {
			return nil, err
		}
	}
	t := &Tuple{schema: s, fields: make([]interface{}, len(fields))}
	copy(t.fields, fields)
	return t, nil
}

// MustNew is like New but panics on error. Intended for fixed tuples in
// tests and examples.
func MustNew(s *schema.Schema, fields ...interface{}) *Tuple {
	t, err := New(s, fields...)
	if err != nil {
		panic(err)
	}
	return t
}

// Extend creates a new tuple over the derived schema with one appended field.
// The receiver is untouched.
func (t *Tuple) Extend(derived *schema.Schema, field interface{}) (*Tuple, error) {
	fields := make([]interface{}, 0, len(t.fields)+1)
	fields = append(fields, t.fields...)
	fields = append(fields, field)
	return New(derived, fields...)
}

// Schema returns the schema this tuple conforms to.
func (t *Tuple) Schema() *schema.Schema {
	return t.schema
}

// Len returns the number of fields.
func (t *Tuple) Len() int {
	return len(t.fields)
}

// Field returns the field value at position i.
func (t *Tuple) Field(i int) interface{} {
	return t.fields[i]
}

// FieldByName returns the named field value, or false if absent.
func (t *Tuple) FieldByName(name string) (interface{}, bool) {
	i, ok := t.schema.Index(name)
	if !ok {
		return nil, false
	}
	return t.fields[i], true
}

// StringField returns the named field as a string. It fails if the attribute
// is absent or not of a string kind.
func (t *Tuple) StringField(name string) (string, error) {
	v, ok := t.FieldByName(name)
	if !ok {
		return "", gferrors.NewConfigurationError("tuple", "attribute", name, "is not in the input schema")
	}
	s, ok := v.(string)
	if !ok {
		return "", gferrors.NewConfigurationError("tuple", "attribute", name,
			fmt.Sprintf("has type %T, not string", v))
	}
	return s, nil
}

// IntField returns the named field as an int.
func (t *Tuple) IntField(name string) (int, error) {
	v, ok := t.FieldByName(name)
	if !ok {
		return 0, gferrors.NewConfigurationError("tuple", "attribute", name, "is not in the input schema")
	}
	n, ok := v.(int)
	if !ok {
		return 0, gferrors.NewConfigurationError("tuple", "attribute", name,
			fmt.Sprintf("has type %T, not int", v))
	}
	return n, nil
}

// Fields returns a copy of the field values.
func (t *Tuple) Fields() []interface{} {
	out := make([]interface{}, len(t.fields))
	copy(out, t.fields)
	return out
}

// String renders the tuple as name:value pairs for logs and state dumps.
func (t *Tuple) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, attr := range t.schema.Attributes() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%v", attr.Name, t.fields[i])
	}
	b.WriteByte('}')
	return b.String()
}

func checkFieldType(attr schema.Attribute, field interface{}) error {
	if field == nil {
		return nil
	}
	var ok bool
	switch attr.Type {
	case schema.TypeString, schema.TypeText:
		_, ok = field.(string)
	case schema.TypeInteger:
		_, ok = field.(int)
	case schema.TypeDouble:
		_, ok = field.(float64)
	case schema.TypeBoolean:
		_, ok = field.(bool)
	case schema.TypeDateTime:
		_, ok = field.(time.Time)
	}
	if !ok {
		return gferrors.NewConfigurationError("tuple", "field", attr.Name,
			fmt.Sprintf("value of type %T does not match attribute type %s", field, attr.Type))
	}
	return nil
}
