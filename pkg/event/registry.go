package event

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every registered schema, keyed by event type. Schemas are
// validated eagerly at registration and immutable afterwards.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]Schema),
	}
}

// Register adds a schema to the registry. Registering the identical schema
// twice is a no-op; registering a different shape under an existing event
// type fails with a DuplicateSchemaError.
func (r *Registry) Register(s Schema) error {
	if err := s.check(); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.schemas[s.Type]; ok {
		if existing.equal(s) {
			return nil
		}
		return &DuplicateSchemaError{EventType: s.Type}
	}

	// Copy the field map so callers cannot mutate a registered schema.
	fields := make(map[string]FieldSpec, len(s.Fields))
	for name, spec := range s.Fields {
		fields[name] = spec
	}
	r.schemas[s.Type] = Schema{Type: s.Type, Fields: fields}
	return nil
}

// Lookup returns the schema registered for an event type.
func (r *Registry) Lookup(eventType string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[eventType]
	return s, ok
}

// Types returns all registered event types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
