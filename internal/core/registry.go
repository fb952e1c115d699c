package core

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SchemaRegistry serves each dictionary's ordered attribute definitions.
// Schemas are read on almost every operation, so they are memoized per
// dictionary and dropped whenever the dictionary's attributes change.
type SchemaRegistry struct {
	store Store

	mu      sync.RWMutex
	schemas map[uuid.UUID][]AttributeDefinition
}

// NewSchemaRegistry creates a registry over the given store.
func NewSchemaRegistry(store Store) *SchemaRegistry {
	return &SchemaRegistry{
		store:   store,
		schemas: make(map[uuid.UUID][]AttributeDefinition),
	}
}

// Schema returns the dictionary's attribute definitions in definition order.
func (r *SchemaRegistry) Schema(ctx context.Context, dictionaryID uuid.UUID) ([]AttributeDefinition, error) {
	r.mu.RLock()
	defs, ok := r.schemas[dictionaryID]
	r.mu.RUnlock()
	if ok {
		return defs, nil
	}

	defs, err := r.store.ListAttributes(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schemas[dictionaryID] = defs
	r.mu.Unlock()

	return defs, nil
}

// Attribute looks up one definition by alt name, case-insensitive.
func (r *SchemaRegistry) Attribute(ctx context.Context, dictionaryID uuid.UUID, altName string) (AttributeDefinition, error) {
	defs, err := r.Schema(ctx, dictionaryID)
	if err != nil {
		return AttributeDefinition{}, err
	}
	for _, def := range defs {
		if strings.EqualFold(def.AltName, altName) {
			return def, nil
		}
	}
	return AttributeDefinition{}, &SchemaError{
		Violation: UnknownAttribute,
		Attr:      altName,
		Message:   "attribute is not defined for this dictionary",
	}
}

// Invalidate drops the memoized schema for a dictionary. Called after every
// attribute definition write.
func (r *SchemaRegistry) Invalidate(dictionaryID uuid.UUID) {
	r.mu.Lock()
	delete(r.schemas, dictionaryID)
	r.mu.Unlock()
}
