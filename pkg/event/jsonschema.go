package event

import (
	"github.com/invopop/jsonschema"
)

// JSONSchema exports a registered schema as a JSON Schema document, for
// the administrative describe surface and external tooling. Unknown keys
// are disallowed, matching record validation.
func JSONSchema(s Schema) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, name := range s.fieldNames() {
		spec := s.Fields[name]
		props.Set(name, &jsonschema.Schema{Type: jsonType(spec.Type)})
		if spec.Required {
			required = append(required, name)
		}
	}
	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                s.Type,
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func jsonType(t FieldType) string {
	switch t {
	case FieldInt:
		return "integer"
	case FieldFloat:
		return "number"
	case FieldBool:
		return "boolean"
	default:
		return "string"
	}
}
