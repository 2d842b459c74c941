package provider

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type microcycleSummary struct {
	Week     int      `json:"week" description:"week number"`
	Theme    string   `json:"theme"`
	Sessions []string `json:"sessions"`
	Notes    string   `json:"notes,omitempty"`
	internal string
}

func TestSchemaFromStruct(t *testing.T) {
	schema := SchemaFor[microcycleSummary]()

	if schema.Type != "object" {
		t.Fatalf("Type = %q, want object", schema.Type)
	}
	if got := schema.Properties["week"]; got == nil || got.Type != "integer" || got.Description != "week number" {
		t.Errorf("week property = %+v", got)
	}
	if got := schema.Properties["sessions"]; got == nil || got.Type != "array" || got.Items.Type != "string" {
		t.Errorf("sessions property = %+v", got)
	}
	if _, ok := schema.Properties["internal"]; ok {
		t.Error("unexported field should not appear in schema")
	}

	required := strings.Join(schema.Required, ",")
	if required != "week,theme,sessions" {
		t.Errorf("Required = %q, want week,theme,sessions", required)
	}
}

func TestJSONSchemaValidator_Validate(t *testing.T) {
	schema := SchemaFor[microcycleSummary]()
	validator := NewJSONSchemaValidator(false)

	tests := []struct {
		name      string
		data      string
		wantValid bool
		wantErr   string
	}{
		{
			name:      "valid",
			data:      `{"week": 1, "theme": "Base", "sessions": ["run", "lift"]}`,
			wantValid: true,
		},
		{
			name:    "missing required",
			data:    `{"week": 1, "sessions": []}`,
			wantErr: "missing required field 'theme'",
		},
		{
			name:    "wrong type",
			data:    `{"week": "one", "theme": "Base", "sessions": []}`,
			wantErr: "week: expected type integer, got string",
		},
		{
			name:    "non-integer number",
			data:    `{"week": 1.5, "theme": "Base", "sessions": []}`,
			wantErr: "week: expected type integer",
		},
		{
			name:    "array item type",
			data:    `{"week": 1, "theme": "Base", "sessions": ["run", 3]}`,
			wantErr: "sessions[1]: expected type string, got number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data any
			if err := json.Unmarshal([]byte(tt.data), &data); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			err := validator.Validate(schema, data)
			if tt.wantValid {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() error = nil, want failure")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestJSONSchemaValidator_Strict(t *testing.T) {
	schema := &Schema{
		Type:       "object",
		Properties: map[string]*Schema{"a": {Type: "string"}},
	}
	var data any
	_ = json.Unmarshal([]byte(`{"a": "x", "b": 1}`), &data)

	if err := NewJSONSchemaValidator(false).Validate(schema, data); err != nil {
		t.Errorf("lenient validator rejected extra property: %v", err)
	}
	if err := NewJSONSchemaValidator(true).Validate(schema, data); err == nil {
		t.Error("strict validator accepted unknown property")
	}
}

func TestDecodeStructured(t *testing.T) {
	schema := SchemaFor[microcycleSummary]()

	t.Run("plain JSON", func(t *testing.T) {
		raw, err := DecodeStructured(schema, []byte(`{"week": 2, "theme": "Build", "sessions": []}`))
		if err != nil {
			t.Fatalf("DecodeStructured() error = %v", err)
		}
		var got microcycleSummary
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Week != 2 || got.Theme != "Build" {
			t.Errorf("decoded = %+v", got)
		}
	})

	t.Run("fenced JSON with prose", func(t *testing.T) {
		text := "Here you go:\n```json\n{\"week\": 3, \"theme\": \"Peak {x}\", \"sessions\": [\"a\"]}\n```"
		raw, err := DecodeStructured(schema, []byte(text))
		if err != nil {
			t.Fatalf("DecodeStructured() error = %v", err)
		}
		if !strings.Contains(string(raw), `"Peak {x}"`) {
			t.Errorf("raw = %s", raw)
		}
	})

	t.Run("no JSON", func(t *testing.T) {
		_, err := DecodeStructured(schema, []byte("sorry, I cannot"))
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("error = %v, want *ValidationError", err)
		}
	})

	t.Run("schema mismatch lists all violations", func(t *testing.T) {
		_, err := DecodeStructured(schema, []byte(`{"week": "x"}`))
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("error = %v, want *ValidationError", err)
		}
		if len(vErr.Violations) != 3 {
			t.Errorf("violations = %v, want 3 (week type, theme, sessions)", vErr.Violations)
		}
	})

	t.Run("nil schema only requires JSON", func(t *testing.T) {
		if _, err := DecodeStructured(nil, []byte(`{"anything": true}`)); err != nil {
			t.Errorf("DecodeStructured(nil) error = %v", err)
		}
	})
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	schema := SchemaFor[microcycleSummary]()
	parsed, err := ParseSchema(schema.JSON())
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	if len(parsed.Properties) != len(schema.Properties) {
		t.Errorf("properties = %d, want %d", len(parsed.Properties), len(schema.Properties))
	}
}
