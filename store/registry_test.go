package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/reflink/store"
)

var (
	avatarInChallenges = store.Relationship{
		EntityType:          "avatar",
		EntityCollection:    "avatars",
		DependentCollection: "challenges",
		Field:               "avatar",
	}
	avatarInScenarios = store.Relationship{
		EntityType:          "avatar",
		EntityCollection:    "avatars",
		DependentCollection: "scenarios",
		Field:               "avatar",
	}
	categoryInChallenges = store.Relationship{
		EntityType:          "category",
		EntityCollection:    "categories",
		DependentCollection: "challenges",
		Field:               "category_id",
	}
)

func TestRegistry_Lookups(t *testing.T) {
	r := store.NewRegistry()
	require.NoError(t, r.Register(avatarInChallenges))
	require.NoError(t, r.Register(categoryInChallenges))
	require.NoError(t, r.Register(avatarInScenarios))

	assert.Equal(t, []store.Relationship{avatarInChallenges, avatarInScenarios}, r.DependentsOf("avatar"))
	assert.Empty(t, r.DependentsOf("voice"))

	c, ok := r.CollectionOf("category")
	assert.True(t, ok)
	assert.Equal(t, "categories", c)
	_, ok = r.CollectionOf("voice")
	assert.False(t, ok)

	e, ok := r.EntityTypeOf("avatars")
	assert.True(t, ok)
	assert.Equal(t, "avatar", e)
	_, ok = r.EntityTypeOf("challenges")
	assert.False(t, ok)
}

func TestRegistry_RejectsConflicts(t *testing.T) {
	r := store.NewRegistry()
	require.NoError(t, r.Register(avatarInChallenges))

	// Another entity type in the avatars collection.
	persona := avatarInChallenges
	persona.EntityType = "persona"
	assert.ErrorIs(t, r.Register(persona), store.ErrRegistryConflict)

	// The avatar type moved to a second collection.
	moved := avatarInScenarios
	moved.EntityCollection = "legacy_avatars"
	assert.ErrorIs(t, r.Register(moved), store.ErrRegistryConflict)

	for i := 0; i < 20; i++ {
		e, ok := r.EntityTypeOf("avatars")
		require.True(t, ok)
		require.Equal(t, "avatar", e)
	}
	assert.Len(t, r.DependentsOf("avatar"), 1)
	assert.Empty(t, r.DependentsOf("persona"))

	assert.Panics(t, func() { r.MustRegister(persona) })
}
