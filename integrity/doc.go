// Package integrity keeps soft references consistent when a referenced
// entity is deleted.
//
// The store enforces no foreign keys, so deleting an avatar or a category
// that challenges still point at would leave dangling references. The
// package splits the deletion into explicit steps:
//
//   - [Finder] locates dependents (fails closed on store errors)
//   - [PlanDeletion] decides between direct delete and migration
//   - [Migrator] rewrites the reference field batch by batch
//   - [Executor] removes the entity document
//
// [Service] composes them into CheckDependents, Plan and MigrateAndDelete.
//
// # Atomicity
//
// Each batch is all-or-nothing. Batches are submitted sequentially and there
// is no atomicity across batches: if batch k fails, batches before it stay
// committed and the entity is not deleted. [MigrationResult] reports exactly
// how far the migration got.
//
// # Errors
//
//   - [ErrQueryFailed] - dependents could not be determined; deletion blocked
//   - [ErrPartialMigration] - some batches committed; deletion blocked
//   - [ErrDeleteFailed] - entity removal rejected after migration
//   - [ErrStaleDependentSet] - new dependents appeared during the flow
//   - [ErrMigrationRequired] - dependents exist and no replacement was given
//   - [ErrInvalidReplacement] - replacement is empty, the entity itself, or missing
package integrity
