package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// ValidationError describes the first value that failed a schema.
type ValidationError struct {
	Path        string
	Expected    string
	Actual      string
	ActualValue any
	Message     string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" && e.Expected == "" && e.Actual == "" {
		if e.Path == "" {
			return e.Message
		}
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	detail := e.Actual
	if formatted := formatValue(e.ActualValue); formatted != "" {
		detail = fmt.Sprintf("%s (%s)", e.Actual, formatted)
	}
	if e.Path == "" {
		return fmt.Sprintf("expected %s, got %s", e.Expected, detail)
	}
	return fmt.Sprintf("%s: expected %s, got %s", e.Path, e.Expected, detail)
}

// ValidateObject checks a decoded JSON object against s.
func ValidateObject(s *jsonschema.Schema, object map[string]any) error {
	if s == nil {
		return nil
	}
	return validateValue(s, object, "")
}

// ValidateValue checks any decoded JSON value against s.
func ValidateValue(s *jsonschema.Schema, value any) error {
	return validateValue(s, value, "")
}

func validateValue(s *jsonschema.Schema, value any, path string) error {
	if s == nil {
		return nil
	}
	if value == nil {
		if allowsNull(s) {
			return nil
		}
		expected := expectedType(s)
		if expected == "" {
			return &ValidationError{Path: path, Message: "must not be null"}
		}
		return &ValidationError{Path: path, Expected: expected, Actual: "null"}
	}

	if len(s.AnyOf) > 0 {
		for _, option := range s.AnyOf {
			if validateValue(option, value, path) == nil {
				return nil
			}
		}
		return mismatch(path, expectedType(s), value)
	}
	if len(s.OneOf) > 0 {
		matched := 0
		for _, option := range s.OneOf {
			if validateValue(option, value, path) == nil {
				matched++
			}
		}
		if matched == 1 {
			return nil
		}
		return mismatch(path, expectedType(s), value)
	}

	switch resolvedType(s) {
	case "object":
		object, ok := value.(map[string]any)
		if !ok {
			return mismatch(path, "object", value)
		}
		return validateObject(s, object, path)
	case "array":
		array, ok := value.([]any)
		if !ok {
			return mismatch(path, "array", value)
		}
		for index, entry := range array {
			if err := validateValue(s.Items, entry, fmt.Sprintf("%s[%d]", path, index)); err != nil {
				return err
			}
		}
		return nil
	case "string":
		text, ok := value.(string)
		if !ok {
			return mismatch(path, "string", value)
		}
		if s.MinLength != nil && uint64(len(text)) < *s.MinLength {
			if *s.MinLength == 1 {
				return &ValidationError{Path: path, Message: "must not be empty"}
			}
			return &ValidationError{Path: path, Message: fmt.Sprintf("must be at least %d characters", *s.MinLength)}
		}
		return validateEnum(s, value, path)
	case "boolean":
		if _, ok := value.(bool); !ok {
			return mismatch(path, "boolean", value)
		}
		return nil
	case "integer":
		if !isInteger(value) {
			return mismatch(path, "integer", value)
		}
		return nil
	case "number":
		if !isNumber(value) {
			return mismatch(path, "number", value)
		}
		return nil
	case "null":
		return mismatch(path, "null", value)
	default:
		return nil
	}
}

func validateObject(s *jsonschema.Schema, object map[string]any, path string) error {
	for _, required := range s.Required {
		if _, ok := object[required]; !ok {
			return &ValidationError{Path: joinPath(path, required), Message: "missing required field"}
		}
	}

	properties := map[string]*jsonschema.Schema{}
	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			properties[pair.Key] = pair.Value
		}
	}

	// Walk declared properties first so errors come out in schema order.
	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			value, ok := object[pair.Key]
			if !ok {
				continue
			}
			if err := validateValue(pair.Value, value, joinPath(path, pair.Key)); err != nil {
				return err
			}
		}
	}
	for key, value := range object {
		if _, declared := properties[key]; declared {
			continue
		}
		if s.AdditionalProperties == nil {
			continue
		}
		if isFalseSchema(s.AdditionalProperties) {
			return &ValidationError{Path: joinPath(path, key), Message: "unknown field"}
		}
		if err := validateValue(s.AdditionalProperties, value, joinPath(path, key)); err != nil {
			return err
		}
	}
	return nil
}

func validateEnum(s *jsonschema.Schema, value any, path string) error {
	if len(s.Enum) == 0 {
		return nil
	}
	for _, candidate := range s.Enum {
		if reflect.DeepEqual(candidate, value) {
			return nil
		}
	}
	return mismatch(path, "enum", value)
}

func mismatch(path, expected string, value any) error {
	return &ValidationError{
		Path:        path,
		Expected:    expected,
		Actual:      ActualType(value),
		ActualValue: value,
	}
}

func resolvedType(s *jsonschema.Schema) string {
	if s == nil {
		return ""
	}
	if s.Type != "" {
		return s.Type
	}
	if s.Properties != nil || s.AdditionalProperties != nil {
		return "object"
	}
	if s.Items != nil {
		return "array"
	}
	return ""
}

func allowsNull(s *jsonschema.Schema) bool {
	if s.Type == "null" {
		return true
	}
	for _, option := range append(append([]*jsonschema.Schema{}, s.AnyOf...), s.OneOf...) {
		if resolvedType(option) == "null" {
			return true
		}
	}
	return false
}

func expectedType(s *jsonschema.Schema) string {
	if t := resolvedType(s); t != "" {
		return t
	}
	var types []string
	for _, option := range append(append([]*jsonschema.Schema{}, s.AnyOf...), s.OneOf...) {
		if t := resolvedType(option); t != "" {
			types = append(types, t)
		}
	}
	return strings.Join(types, " or ")
}

// ActualType names the JSON type of a decoded value.
func ActualType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, json.Number:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func isFalseSchema(s *jsonschema.Schema) bool {
	marshaled, err := json.Marshal(s)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(marshaled)) == "false"
}

func isInteger(value any) bool {
	switch typed := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return typed == float32(int64(typed))
	case float64:
		return typed == float64(int64(typed))
	case json.Number:
		_, err := typed.Int64()
		return err == nil
	}
	return false
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	text := string(payload)
	const maxLength = 80
	if len(text) > maxLength {
		return text[:maxLength-3] + "..."
	}
	return text
}
