// Package keys flattens nested config documents into dotted, normalized keys
// so that `[server] port = 1` and `server.port = 1` read the same, and so TOML
// and YAML files share one lookup path.
package keys

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Store struct {
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

// Keys returns the normalized keys in sorted order.
func (s Store) Keys() []string {
	keys := make([]string, 0, len(s.flat))
	for key := range s.flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func DecodeTOML(data []byte) (Store, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Store{}, fmt.Errorf("decode toml: %w", err)
	}
	return FromRaw(raw), nil
}

func DecodeYAML(data []byte) (Store, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Store{}, fmt.Errorf("decode yaml: %w", err)
	}
	return FromRaw(raw), nil
}

// Decode picks the format from the file name: .yaml and .yml are YAML,
// everything else is TOML.
func Decode(name string, data []byte) (Store, error) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return DecodeYAML(data)
	}
	return DecodeTOML(data)
}

func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}
	return Store{flat: normalized}
}

func (s Store) Get(key string) (any, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	return value, ok
}

// Int converts config values to int64. Strings are parsed so env and flag
// values can share the path with typed file values.
func Int(value any) (int64, error) {
	switch typed := value.(type) {
	case int64:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case uint64:
		return int64(typed), nil
	case uint:
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), nil
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed, nil
		}
	}
	return 0, fmt.Errorf("expected integer, got %v", value)
}

func Float(value any) (float64, error) {
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err == nil {
			return parsed, nil
		}
	default:
		if parsed, err := Int(value); err == nil {
			return float64(parsed), nil
		}
	}
	return 0, fmt.Errorf("expected number, got %v", value)
}

func Bool(value any) (bool, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err == nil {
			return parsed, nil
		}
	}
	return false, fmt.Errorf("expected boolean, got %v", value)
}

func String(value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed), nil
	case int64, int, float64, bool:
		return fmt.Sprint(typed), nil
	}
	return "", fmt.Errorf("expected string, got %v", value)
}

// Strings accepts a list or a comma-separated string.
func Strings(value any) ([]string, error) {
	switch typed := value.(type) {
	case []string:
		return typed, nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected list of strings, got %v", value)
			}
			if text = strings.TrimSpace(text); text != "" {
				out = append(out, text)
			}
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(typed, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %v", value)
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

// EnvName maps a normalized key to its environment variable:
// server.max-frame-bytes becomes <PREFIX>SERVER_MAX_FRAME_BYTES.
func EnvName(prefix, key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return prefix + strings.ToUpper(replacer.Replace(NormalizeKey(key)))
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
