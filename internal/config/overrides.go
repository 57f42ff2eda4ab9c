package config

import (
	"fmt"
	"strconv"
	"strings"

	"orchestra/internal/config/keys"
)

// OverrideList collects repeated --set key=value flags.
type OverrideList []string

func (o *OverrideList) String() string {
	if o == nil {
		return ""
	}
	return strings.Join(*o, ",")
}

func (o *OverrideList) Set(value string) error {
	*o = append(*o, value)
	return nil
}

// ParseOverrides turns key=value entries into a settings override map.
func ParseOverrides(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any)
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			return nil, fmt.Errorf("config override cannot be empty")
		}
		parts := strings.SplitN(trimmed, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config override must be key=value: %q", entry)
		}
		key := keys.NormalizeKey(parts[0])
		if key == "" {
			return nil, fmt.Errorf("config override key cannot be empty")
		}
		overrides[key] = parseOverrideValue(strings.TrimSpace(parts[1]))
	}
	return overrides, nil
}

func parseOverrideValue(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	return value
}
