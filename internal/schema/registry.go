// Package schema holds named JSON schemas and a small validator for decoded
// JSON values. Packages register providers at init; schemas are built lazily
// and cached.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Provider builds the schema registered under a name.
type Provider func() *jsonschema.Schema

var (
	registryMu sync.RWMutex
	registry   = map[string]Provider{}

	cacheMu sync.RWMutex
	cache   = map[string]*jsonschema.Schema{}
)

// Register installs or replaces the provider for name.
func Register(name string, provider Provider) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("schema name is required for registration")
	}
	if provider == nil {
		return fmt.Errorf("schema provider is required")
	}

	registryMu.Lock()
	registry[name] = provider
	registryMu.Unlock()

	cacheMu.Lock()
	delete(cache, name)
	cacheMu.Unlock()
	return nil
}

// Resolve returns the cached schema for name, building it on first use.
func Resolve(name string) (*jsonschema.Schema, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("schema name is required for lookup")
	}

	cacheMu.RLock()
	s, ok := cache[name]
	cacheMu.RUnlock()
	if ok {
		return s, nil
	}

	registryMu.RLock()
	provider, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}

	s = provider()
	cacheMu.Lock()
	cache[name] = s
	cacheMu.Unlock()
	return s, nil
}

// Names lists every registered schema name in order.
func Names() []string {
	registryMu.RLock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	registryMu.RUnlock()
	sort.Strings(names)
	return names
}

func ClearCache() {
	cacheMu.Lock()
	cache = map[string]*jsonschema.Schema{}
	cacheMu.Unlock()
}

// Reflect generates an inline schema for value. Unknown fields are allowed
// so newer clients can add fields without being rejected.
func Reflect(value any) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	s := reflector.Reflect(value)
	if s.Version == "" {
		s.Version = jsonschema.Version
	}
	return s
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
