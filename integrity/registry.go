package integrity

import "github.com/jacentio/reflink/store"

// Entity types with registered dependents.
const (
	EntityAvatar   = "avatar"
	EntityCategory = "category"
)

// DefaultRegistry returns the console's soft references: challenges point at
// avatars through "avatar" and at categories through "category_id".
func DefaultRegistry() *store.Registry {
	r := store.NewRegistry()
	r.MustRegister(store.Relationship{
		EntityType:          EntityAvatar,
		EntityCollection:    "avatars",
		DependentCollection: "challenges",
		Field:               "avatar",
	})
	r.MustRegister(store.Relationship{
		EntityType:          EntityCategory,
		EntityCollection:    "categories",
		DependentCollection: "challenges",
		Field:               "category_id",
	})
	return r
}
