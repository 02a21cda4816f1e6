// Package store provides document store access for the admin console.
//
// Collections are denormalized: documents reference each other by id with no
// store-enforced constraint. The store layer therefore exposes only the
// primitives the integrity engine needs to keep those soft references
// consistent, plus an ordered listing primitive for paginated views.
//
// # Operations
//
//   - Point read: [DynamoStore.Get]
//   - Equality query and count on any field: QueryEqual, CountEqual
//   - Single-document delete: Delete
//   - Bounded all-or-nothing multi-document update: UpdateBatch
//   - Ordered listing by (created_at DESC, id DESC): QueryPage
//
// # Backends
//
// [DynamoStore] is the production backend. Each collection is a table named
// TablePrefix+collection with hash key "id". Listing uses a global secondary
// index ([Config.OrderIndex]) with hash key "_list" and range key "_order",
// both maintained by [DynamoStore.Put]. Equality queries use a GSI when one
// is configured in [Config.FieldIndexes] and fall back to a filtered scan.
//
// [SQLiteStore] keeps documents as JSON in a single table and is used for
// local development. [MemoryStore] backs tests and supports failure hooks.
//
// # Errors
//
//   - [ErrNotFound] - document doesn't exist
//   - [ErrAlreadyExists] - document with ID already exists
//   - [ErrBatchTooLarge] - batch exceeds the backend's atomic limit
//   - [ErrProtectedField] - update targets a store-managed attribute
//   - [ErrConflict] - a batch was rejected as a whole by the store
package store
