package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/invopop/jsonschema"
)

func TestValidateObjectRequiredField(t *testing.T) {
	s := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name"},
	}

	err := ValidateObject(s, map[string]any{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "name") {
		t.Fatalf("expected path in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing required field") {
		t.Fatalf("expected required field message, got %v", err)
	}
}

func TestValidateObjectUnknownField(t *testing.T) {
	var additional jsonschema.Schema
	if err := json.Unmarshal([]byte("false"), &additional); err != nil {
		t.Fatalf("unmarshal false schema: %v", err)
	}

	s := &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: &additional,
	}

	err := ValidateObject(s, map[string]any{"extra": true})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateValueAnyOf(t *testing.T) {
	s := &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "integer"},
		},
	}

	if err := ValidateValue(s, "ok"); err != nil {
		t.Fatalf("expected string to match anyOf: %v", err)
	}
	if err := ValidateValue(s, 12); err != nil {
		t.Fatalf("expected int to match anyOf: %v", err)
	}
	if err := ValidateValue(s, true); err == nil {
		t.Fatal("expected bool to fail anyOf")
	}
}

func TestValidateValueOneOf(t *testing.T) {
	s := &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "integer"},
		},
	}

	if err := ValidateValue(s, "ok"); err != nil {
		t.Fatalf("expected string to match oneOf: %v", err)
	}
	if err := ValidateValue(s, 12); err != nil {
		t.Fatalf("expected int to match oneOf: %v", err)
	}
	if err := ValidateValue(s, true); err == nil {
		t.Fatal("expected bool to fail oneOf")
	}
}

func TestValidateValueEnum(t *testing.T) {
	s := &jsonschema.Schema{
		Type: "string",
		Enum: []any{"a", "b"},
	}

	if err := ValidateValue(s, "a"); err != nil {
		t.Fatalf("expected enum value to pass: %v", err)
	}
	if err := ValidateValue(s, "x"); err == nil {
		t.Fatal("expected enum mismatch")
	}
}

func TestValidateStringMinLength(t *testing.T) {
	one := uint64(1)
	s := &jsonschema.Schema{Type: "string", MinLength: &one}

	err := ValidateValue(s, "")
	if err == nil || !strings.Contains(err.Error(), "must not be empty") {
		t.Fatalf("expected empty string error, got %v", err)
	}
	if err := ValidateValue(s, "x"); err != nil {
		t.Fatalf("expected non-empty string to pass: %v", err)
	}
}

func TestValidateNullAgainstUntypedSchema(t *testing.T) {
	err := ValidateObject(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"payload"},
	}, map[string]any{"payload": nil})
	if err != nil {
		t.Fatalf("undeclared property should not be checked: %v", err)
	}

	err = ValidateValue(&jsonschema.Schema{}, nil)
	if err == nil || !strings.Contains(err.Error(), "must not be null") {
		t.Fatalf("expected null error, got %v", err)
	}
}

func TestValidationErrorIncludesActualValue(t *testing.T) {
	err := ValidateValue(&jsonschema.Schema{Type: "string"}, 42.0)
	if err == nil {
		t.Fatal("expected type mismatch")
	}
	if got := err.Error(); got != "expected string, got number (42)" {
		t.Fatalf("unexpected message %q", got)
	}
}
