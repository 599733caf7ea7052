package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

// ValidationError describes the first argument that does not fit a tool's
// input schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid arguments: " + e.Message
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Message)
}

// Schema is a resolved tool input schema.
type Schema struct {
	resolved *jsonschema.Resolved
}

// ParseSchema compiles a tool's input schema. An empty document yields nil,
// which accepts any arguments.
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc jsonschema.Schema
	if err := jsonx.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	switch doc.Schema {
	case "", "http://json-schema.org/draft-07/schema#", "https://json-schema.org/draft-07/schema#",
		"https://json-schema.org/draft/2020-12/schema":
	default:
		// Older drafts share the keywords checked here.
		doc.Schema = ""
	}
	resolved, err := doc.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return &Schema{resolved: resolved}, nil
}

// Validate checks args against the schema. A nil schema accepts anything.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	// Validate the wire form: typed Go slices, json.Number and the like
	// become the values the provider will decode.
	data, err := jsonx.Marshal(args)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	var instance map[string]any
	if err := jsonx.Unmarshal(data, &instance); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	if err := s.resolved.Validate(instance); err != nil {
		return toValidationError(err, args)
	}
	return nil
}

// toValidationError maps a validator error chain such as
// "validating root: validating /properties/expression: type: ..." onto the
// offending field.
func toValidationError(err error, args map[string]any) *ValidationError {
	msg := err.Error()
	pointer := ""
	for strings.HasPrefix(msg, "validating ") {
		rest := msg[len("validating "):]
		i := strings.Index(rest, ": ")
		if i < 0 {
			break
		}
		pointer, msg = rest[:i], rest[i+2:]
	}
	segs := fieldPath(pointer)

	ve := &ValidationError{Message: msg}
	switch {
	case strings.HasPrefix(msg, "required: missing properties: "):
		if name, ok := firstQuoted(msg); ok {
			segs = append(segs, name)
		}
		ve.Message = "required field is missing"
	case strings.HasPrefix(msg, "unexpected additional properties "):
		if name, ok := firstQuoted(msg); ok {
			segs = append(segs, name)
		}
		ve.Message = "unknown field"
	default:
		// "type: 42 has type ..." reads better as "has type ...".
		if _, detail, ok := strings.Cut(msg, ": "); ok {
			ve.Message = detail
		}
	}

	ve.Field = strings.ReplaceAll(strings.Join(segs, "."), ".[]", "[]")
	ve.Value, _ = valueAt(args, segs)
	return ve
}

// fieldPath turns a schema pointer into argument path segments:
// /properties/ids/items becomes [ids []].
func fieldPath(pointer string) []string {
	if !strings.HasPrefix(pointer, "/") {
		return nil
	}
	parts := strings.Split(pointer[1:], "/")
	var segs []string
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "properties", "patternProperties":
			if i+1 < len(parts) {
				segs = append(segs, parts[i+1])
				i++
			}
		case "items", "additionalProperties":
			segs = append(segs, "[]")
		case "allOf", "anyOf", "oneOf", "prefixItems":
			i++ // skip the index
		}
	}
	return segs
}

func firstQuoted(msg string) (string, bool) {
	i := strings.IndexByte(msg, '"')
	if i < 0 {
		return "", false
	}
	q, err := strconv.QuotedPrefix(msg[i:])
	if err != nil {
		return "", false
	}
	name, err := strconv.Unquote(q)
	return name, err == nil
}

func valueAt(args map[string]any, segs []string) (any, bool) {
	if len(segs) == 0 {
		return nil, false
	}
	var cur any = args
	for _, seg := range segs {
		obj, ok := cur.(map[string]any)
		if !ok || seg == "[]" {
			return nil, false
		}
		if cur, ok = obj[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}
