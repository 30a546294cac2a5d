package domain

import (
	"time"

	"github.com/google/uuid"
)

// GlobalEntity represents a shared catalog record (material, supplier, BOM
// item). Its field values are authoritative across all projects; projects
// customize them through overrides rather than editing the entity itself.
type GlobalEntity struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	Fields     FieldMap  `json:"fields"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewGlobalEntity creates a new catalog entity with immutable pattern
func NewGlobalEntity(entityType string, fields FieldMap) GlobalEntity {
	now := time.Now()
	return GlobalEntity{
		ID:         uuid.New(),
		EntityType: entityType,
		Fields:     CloneFieldMap(fields),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithFields returns a new entity with replaced field values and a bumped version.
func (e GlobalEntity) WithFields(fields FieldMap) GlobalEntity {
	return GlobalEntity{
		ID:         e.ID,
		EntityType: e.EntityType,
		Fields:     CloneFieldMap(fields),
		Version:    e.Version + 1,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  time.Now(),
	}
}

// WithField returns a new entity with a single added/updated field value.
func (e GlobalEntity) WithField(key string, value any) GlobalEntity {
	fields := CloneFieldMap(e.Fields)
	fields[key] = value
	return GlobalEntity{
		ID:         e.ID,
		EntityType: e.EntityType,
		Fields:     fields,
		Version:    e.Version + 1,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  time.Now(),
	}
}

// EntityTypeDescriptor declares a catalog entity type and the ordered list of
// fields the reconciliation engine compares. Declaration order is the diff
// iteration order, so it must stay stable across releases.
type EntityTypeDescriptor struct {
	Name           string
	DeclaredFields []string
}

// EntityTypeRegistry resolves entity type names to their descriptors. Types
// are registered once at startup; lookups of unregistered names fail with
// UnsupportedEntityTypeError.
type EntityTypeRegistry struct {
	order []string
	types map[string]EntityTypeDescriptor
}

// NewEntityTypeRegistry creates an empty registry.
func NewEntityTypeRegistry() *EntityTypeRegistry {
	return &EntityTypeRegistry{
		types: make(map[string]EntityTypeDescriptor),
	}
}

// Register adds a descriptor to the registry. Registering the same name twice
// replaces the earlier descriptor but keeps its position.
func (r *EntityTypeRegistry) Register(descriptor EntityTypeDescriptor) {
	if _, exists := r.types[descriptor.Name]; !exists {
		r.order = append(r.order, descriptor.Name)
	}
	r.types[descriptor.Name] = descriptor
}

// Get resolves a descriptor by entity type name.
func (r *EntityTypeRegistry) Get(name string) (EntityTypeDescriptor, error) {
	descriptor, ok := r.types[name]
	if !ok {
		return EntityTypeDescriptor{}, &UnsupportedEntityTypeError{EntityType: name}
	}
	return descriptor, nil
}

// Supports reports whether the entity type is registered.
func (r *EntityTypeRegistry) Supports(name string) bool {
	_, ok := r.types[name]
	return ok
}

// Names returns the registered type names in registration order.
func (r *EntityTypeRegistry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Built-in catalog entity types.
const (
	EntityTypeMaterial = "material"
	EntityTypeSupplier = "supplier"
	EntityTypeBOMItem  = "bom_item"
)

// DefaultEntityTypeRegistry returns a registry preloaded with the catalog
// types the application ships with.
func DefaultEntityTypeRegistry() *EntityTypeRegistry {
	registry := NewEntityTypeRegistry()
	registry.Register(EntityTypeDescriptor{
		Name:           EntityTypeMaterial,
		DeclaredFields: []string{"name", "description", "unit", "price", "leadTimeDays", "supplierId"},
	})
	registry.Register(EntityTypeDescriptor{
		Name:           EntityTypeSupplier,
		DeclaredFields: []string{"name", "contactEmail", "phone", "address", "rating", "currency"},
	})
	registry.Register(EntityTypeDescriptor{
		Name:           EntityTypeBOMItem,
		DeclaredFields: []string{"materialId", "quantity", "unit", "position", "wastagePercent", "notes"},
	})
	return registry
}
