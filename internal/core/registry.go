package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if an entity with the same key is already registered or a
// field key repeats.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Key]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Key))
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if seen[f.Key] {
			panic(fmt.Sprintf("entity %s: duplicate field key %s", def.Key, f.Key))
		}
		seen[f.Key] = true
	}

	if def.Label == "" {
		def.Label = def.Key
	}

	registry[def.Key] = cloneEntity(def)
}

// Get returns an entity definition by key.
// Returns false if not found.
func Get(key string) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	if !ok {
		return EntityDefinition{}, false
	}
	return cloneEntity(def), true
}

// FieldsFor returns the ordered field definitions of an entity type.
func FieldsFor(entityType string) ([]FieldDefinition, error) {
	def, ok := Get(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	return def.Fields, nil
}

// All returns all registered entity definitions.
// Sorted by group then by key for consistent ordering.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, cloneEntity(def))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Key < result[j].Key
	})

	return result
}

// EntityCount returns the number of registered entity types.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

func cloneEntity(def EntityDefinition) EntityDefinition {
	fields := make([]FieldDefinition, len(def.Fields))
	copy(fields, def.Fields)
	for i := range fields {
		if fields[i].References != nil {
			ref := *fields[i].References
			fields[i].References = &ref
		}
	}
	def.Fields = fields
	return def
}
