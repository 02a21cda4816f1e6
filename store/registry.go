package store

import (
	"errors"
	"fmt"
)

// ErrRegistryConflict is returned when a relationship binds an entity type or
// collection that is already bound to something else.
var ErrRegistryConflict = errors.New("reflink: conflicting relationship")

// Relationship defines a soft reference from a dependent collection to an entity.
type Relationship struct {
	// EntityType is the referenced entity type (e.g., "avatar").
	EntityType string

	// EntityCollection is the collection holding the entities (e.g., "avatars").
	EntityCollection string

	// DependentCollection is the collection holding the references (e.g., "challenges").
	DependentCollection string

	// Field is the attribute in the dependent that holds the entity id (e.g., "avatar").
	Field string
}

// Registry holds all known soft references for integrity checks.
// Each entity type lives in exactly one collection and each entity
// collection holds exactly one entity type.
type Registry struct {
	byEntity    map[string][]Relationship
	collections map[string]string
	entities    map[string]string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byEntity:    make(map[string][]Relationship),
		collections: make(map[string]string),
		entities:    make(map[string]string),
	}
}

// Register adds a relationship to the registry. It fails with
// ErrRegistryConflict if the entity type is already stored in another
// collection, or the collection already holds another entity type.
func (r *Registry) Register(rel Relationship) error {
	if c, ok := r.collections[rel.EntityType]; ok && c != rel.EntityCollection {
		return fmt.Errorf("%w: %s is stored in %s, not %s", ErrRegistryConflict, rel.EntityType, c, rel.EntityCollection)
	}
	if e, ok := r.entities[rel.EntityCollection]; ok && e != rel.EntityType {
		return fmt.Errorf("%w: %s already holds %s, not %s", ErrRegistryConflict, rel.EntityCollection, e, rel.EntityType)
	}

	r.byEntity[rel.EntityType] = append(r.byEntity[rel.EntityType], rel)
	r.collections[rel.EntityType] = rel.EntityCollection
	r.entities[rel.EntityCollection] = rel.EntityType
	return nil
}

// MustRegister is like Register but panics on a conflict.
func (r *Registry) MustRegister(rel Relationship) {
	if err := r.Register(rel); err != nil {
		panic(err)
	}
}

// DependentsOf returns all relationships referencing a given entity type,
// in registration order.
func (r *Registry) DependentsOf(entityType string) []Relationship {
	return r.byEntity[entityType]
}

// CollectionOf returns the collection holding entities of the given type.
func (r *Registry) CollectionOf(entityType string) (string, bool) {
	c, ok := r.collections[entityType]
	return c, ok
}

// EntityTypeOf returns the entity type stored in a collection.
func (r *Registry) EntityTypeOf(collection string) (string, bool) {
	e, ok := r.entities[collection]
	return e, ok
}
