package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Schema represents the subset of JSON Schema used for structured output
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// ParseSchema parses a JSON Schema from raw JSON
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	var schema Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &schema, nil
}

// JSON returns the schema encoded as JSON
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return data
}

// ValidationError lists every schema violation found in a structured response
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "schema validation failed: " + strings.Join(e.Violations, "; ")
}

// JSONSchemaValidator validates decoded JSON values against a Schema
type JSONSchemaValidator struct {
	strict bool
}

// NewJSONSchemaValidator creates a validator. Strict mode rejects properties
// the schema does not declare.
func NewJSONSchemaValidator(strict bool) *JSONSchemaValidator {
	return &JSONSchemaValidator{strict: strict}
}

// Validate returns nil when data satisfies schema, or a *ValidationError
func (v *JSONSchemaValidator) Validate(schema *Schema, data any) error {
	var violations []string
	v.validateValue(schema, data, "", &violations)
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (v *JSONSchemaValidator) validateValue(schema *Schema, value any, path string, out *[]string) {
	if schema == nil {
		return
	}

	if schema.Type != "" && !checkType(schema.Type, value) {
		*out = append(*out, fmt.Sprintf("%s: expected type %s, got %s", pathOrRoot(path), schema.Type, jsonTypeOf(value)))
		return
	}

	switch schema.Type {
	case "object":
		v.validateObject(schema, value, path, out)
	case "array":
		if items, ok := value.([]any); ok && schema.Items != nil {
			for i, item := range items {
				v.validateValue(schema.Items, item, fmt.Sprintf("%s[%d]", path, i), out)
			}
		}
	case "string":
		str, _ := value.(string)
		if schema.MinLength != nil && len(str) < *schema.MinLength {
			*out = append(*out, fmt.Sprintf("%s: string length %d is less than minimum %d", pathOrRoot(path), len(str), *schema.MinLength))
		}
		if schema.MaxLength != nil && len(str) > *schema.MaxLength {
			*out = append(*out, fmt.Sprintf("%s: string length %d is greater than maximum %d", pathOrRoot(path), len(str), *schema.MaxLength))
		}
	case "number", "integer":
		num, _ := value.(float64)
		if schema.Minimum != nil && num < *schema.Minimum {
			*out = append(*out, fmt.Sprintf("%s: value %v is less than minimum %v", pathOrRoot(path), num, *schema.Minimum))
		}
		if schema.Maximum != nil && num > *schema.Maximum {
			*out = append(*out, fmt.Sprintf("%s: value %v is greater than maximum %v", pathOrRoot(path), num, *schema.Maximum))
		}
	}

	if len(schema.Enum) > 0 {
		for _, option := range schema.Enum {
			if reflect.DeepEqual(option, value) {
				return
			}
		}
		*out = append(*out, fmt.Sprintf("%s: value %v is not one of %v", pathOrRoot(path), value, schema.Enum))
	}
}

func (v *JSONSchemaValidator) validateObject(schema *Schema, value any, path string, out *[]string) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}

	for _, field := range schema.Required {
		if _, exists := obj[field]; !exists {
			*out = append(*out, fmt.Sprintf("%s: missing required field '%s'", pathOrRoot(path), field))
		}
	}

	for name, propSchema := range schema.Properties {
		if propValue, exists := obj[name]; exists {
			v.validateValue(propSchema, propValue, joinPath(path, name), out)
		}
	}

	rejectUnknown := v.strict || (schema.AdditionalProperties != nil && !*schema.AdditionalProperties)
	if rejectUnknown && schema.Properties != nil {
		for name := range obj {
			if _, defined := schema.Properties[name]; !defined {
				*out = append(*out, fmt.Sprintf("%s: unknown property '%s'", pathOrRoot(path), name))
			}
		}
	}
}

// checkType reports whether a value decoded by encoding/json matches a JSON Schema type
func checkType(schemaType string, value any) bool {
	switch schemaType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	}
	return false
}

func jsonTypeOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", value)
}

func pathOrRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// DecodeStructured extracts the JSON object from raw model output, validates it
// against schema and returns the normalized JSON. A nil schema only checks that
// the output is JSON.
func DecodeStructured(schema *Schema, raw []byte) (json.RawMessage, error) {
	text := strings.TrimSpace(string(raw))
	if !json.Valid([]byte(text)) {
		text = extractJSON(text)
		if text == "" {
			return nil, &ValidationError{Violations: []string{"root: no JSON object found in model output"}}
		}
	}

	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, &ValidationError{Violations: []string{"root: " + err.Error()}}
	}

	if schema != nil {
		if err := NewJSONSchemaValidator(false).Validate(schema, data); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(text), nil
}

// extractJSON returns the first balanced JSON object in text, skipping code fences and prose
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// SchemaFromStruct generates a JSON Schema from a Go type. Exported fields
// without `omitempty` are required; a `description` tag fills Description.
func SchemaFromStruct(t reflect.Type) *Schema {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	schema := &Schema{}
	switch t.Kind() {
	case reflect.String:
		schema.Type = "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		schema.Type = "integer"
	case reflect.Float32, reflect.Float64:
		schema.Type = "number"
	case reflect.Bool:
		schema.Type = "boolean"
	case reflect.Slice, reflect.Array:
		schema.Type = "array"
		schema.Items = SchemaFromStruct(t.Elem())
	case reflect.Map:
		schema.Type = "object"
	case reflect.Struct:
		schema.Type = "object"
		schema.Properties = make(map[string]*Schema)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			name := field.Name
			optional := false
			if tag := field.Tag.Get("json"); tag != "" {
				parts := strings.Split(tag, ",")
				if parts[0] == "-" {
					continue
				}
				if parts[0] != "" {
					name = parts[0]
				}
				for _, opt := range parts[1:] {
					if opt == "omitempty" {
						optional = true
					}
				}
			}

			prop := SchemaFromStruct(field.Type)
			if desc := field.Tag.Get("description"); desc != "" {
				prop.Description = desc
			}
			schema.Properties[name] = prop
			if !optional {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	return schema
}

// SchemaFor is SchemaFromStruct for a type parameter
func SchemaFor[T any]() *Schema {
	return SchemaFromStruct(reflect.TypeOf((*T)(nil)).Elem())
}
