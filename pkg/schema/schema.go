// Package schema defines typed, ordered attribute sets and the builder used
// to derive new schemas from existing ones.
package schema

import (
	"strings"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
)

// AttributeType identifies the primitive kind of an attribute. The set is
// closed; operators switch over it exhaustively.
type AttributeType int

const (
	TypeString AttributeType = iota
	TypeText
	TypeInteger
	TypeDouble
	TypeBoolean
	TypeDateTime
)

// String returns the attribute type name.
func (t AttributeType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeDouble:
		return "double"
	case TypeBoolean:
		return "boolean"
	case TypeDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Attribute is a named, typed column of a schema.
type Attribute struct {
	Name string
	Type AttributeType
}

// Schema is an immutable ordered sequence of attributes. Attribute names are
// unique case-insensitively; lookups fold case but declared casing is
// preserved in the attribute list.
type Schema struct {
	attributes []Attribute
	index      map[string]int
}

// New creates a Schema from the given attributes. It fails with a
// ConfigurationError if a name is empty or duplicated.
func New(attributes ...Attribute) (*Schema, error) {
	s := &Schema{
		attributes: make([]Attribute, 0, len(attributes)),
		index:      make(map[string]int, len(attributes)),
	}
	for _, attr := range attributes {
		if attr.Name == "" {
			return nil, gferrors.NewConfigurationError("schema", "attribute", attr.Name, "cannot be empty")
		}
		key := strings.ToLower(attr.Name)
		if _, ok := s.index[key]; ok {
			return nil, gferrors.NewConfigurationError("schema", "attribute", attr.Name, "already exists in schema")
		}
		s.index[key] = len(s.attributes)
		s.attributes = append(s.attributes, attr)
	}
	return s, nil
}

// MustNew is like New but panics on error. Intended for fixed schemas in
// tests and examples.
func MustNew(attributes ...Attribute) *Schema {
	s, err := New(attributes...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of attributes.
func (s *Schema) Len() int {
	return len(s.attributes)
}

// Attributes returns a copy of the ordered attribute list.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attributes))
	copy(out, s.attributes)
	return out
}

// Attribute returns the attribute at position i.
func (s *Schema) Attribute(i int) Attribute {
	return s.attributes[i]
}

// Index returns the position of the named attribute, or false if absent.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[strings.ToLower(name)]
	return i, ok
}

// Contains reports whether the named attribute is present.
func (s *Schema) Contains(name string) bool {
	_, ok := s.index[strings.ToLower(name)]
	return ok
}

// AttributeByName returns the named attribute, or false if absent.
func (s *Schema) AttributeByName(name string) (Attribute, bool) {
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return Attribute{}, false
	}
	return s.attributes[i], true
}

// Names returns the ordered attribute names.
func (s *Schema) Names() []string {
	out := make([]string, len(s.attributes))
	for i, attr := range s.attributes {
		out[i] = attr.Name
	}
	return out
}

// CheckAttributeExists returns a ConfigurationError if the named attribute is
// not present in the schema.
func CheckAttributeExists(s *Schema, name string) error {
	if !s.Contains(name) {
		return gferrors.NewConfigurationError("schema", "attribute", name, "is not in the input schema").
			WithHint("available: " + strings.Join(s.Names(), ", "))
	}
	return nil
}

// CheckAttributeNotExists returns a ConfigurationError if the named attribute
// is already present in the schema.
func CheckAttributeNotExists(s *Schema, name string) error {
	if s.Contains(name) {
		return gferrors.NewConfigurationError("schema", "attribute", name, "already exists in schema").
			WithHint("choose an unused attribute name")
	}
	return nil
}

// Derive builds a new schema consisting of all attributes of base followed by
// added. It fails if added's name is already present.
func Derive(base *Schema, added Attribute) (*Schema, error) {
	return NewBuilder().Add(base).AddAttribute(added.Name, added.Type).Build()
}

// Builder accumulates attributes for a derived schema. Methods chain; the
// first error wins and is reported by Build.
type Builder struct {
	attributes []Attribute
	err        error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends every attribute of an existing schema.
func (b *Builder) Add(s *Schema) *Builder {
	if b.err != nil {
		return b
	}
	b.attributes = append(b.attributes, s.attributes...)
	return b
}

// AddAttribute appends a single attribute.
func (b *Builder) AddAttribute(name string, typ AttributeType) *Builder {
	if b.err != nil {
		return b
	}
	for _, attr := range b.attributes {
		if strings.EqualFold(attr.Name, name) {
			b.err = gferrors.NewConfigurationError("schema", "attribute", name, "already exists in schema")
			return b
		}
	}
	b.attributes = append(b.attributes, Attribute{Name: name, Type: typ})
	return b
}

// Build finalizes the schema or returns the first accumulated error.
func (b *Builder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	return New(b.attributes...)
}
