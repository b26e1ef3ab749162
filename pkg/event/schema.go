package event

import (
	"fmt"
	"sort"
)

// FieldType enumerates the primitive types a schema field may carry.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
)

func (t FieldType) valid() bool {
	switch t {
	case FieldString, FieldInt, FieldFloat, FieldBool:
		return true
	}
	return false
}

// FieldSpec describes one field of a schema.
type FieldSpec struct {
	Type     FieldType
	Required bool
}

// Schema is a named contract for one event type: field name to spec.
// Schemas are registered once, globally unique by Type, and immutable
// after registration.
type Schema struct {
	Type   string
	Fields map[string]FieldSpec
}

// check validates the schema shape itself, before registration.
func (s Schema) check() error {
	if s.Type == "" {
		return fmt.Errorf("schema has empty event type")
	}
	for name, spec := range s.Fields {
		if name == "" {
			return fmt.Errorf("schema %q has a field with an empty name", s.Type)
		}
		if !spec.Type.valid() {
			return fmt.Errorf("schema %q field %q has unknown type %q", s.Type, name, spec.Type)
		}
	}
	return nil
}

// equal reports whether two schemas have the same type and shape.
func (s Schema) equal(other Schema) bool {
	if s.Type != other.Type || len(s.Fields) != len(other.Fields) {
		return false
	}
	for name, spec := range s.Fields {
		o, ok := other.Fields[name]
		if !ok || o != spec {
			return false
		}
	}
	return true
}

// fieldNames returns the schema's field names in sorted order, so that
// diagnostics and exports are deterministic.
func (s Schema) fieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
