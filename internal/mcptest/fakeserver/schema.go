package fakeserver

import (
	"github.com/invopop/jsonschema"
)

// SchemaFor derives a tool input schema from a Go struct. Fields without
// omitempty are required; unknown properties are rejected.
func SchemaFor[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var v T
	schema := r.Reflect(&v)
	schema.Version = ""
	return schema
}
