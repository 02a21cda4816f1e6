package integrity

import (
	"errors"
	"fmt"

	"github.com/jacentio/reflink/store"
)

var (
	// ErrQueryFailed is returned when dependents could not be determined.
	ErrQueryFailed = errors.New("reflink: dependent lookup failed")

	// ErrPartialMigration is returned when a migration stopped before every batch committed.
	ErrPartialMigration = errors.New("reflink: migration incomplete")

	// ErrDeleteFailed is returned when the store rejected the entity delete.
	ErrDeleteFailed = errors.New("reflink: entity delete failed")

	// ErrStaleDependentSet is returned when new dependents appeared after migration.
	ErrStaleDependentSet = errors.New("reflink: new dependents appeared during migration")

	// ErrMigrationRequired is returned when deleting an entity with dependents without a replacement.
	ErrMigrationRequired = errors.New("reflink: entity has dependents, replacement required")

	// ErrInvalidReplacement is returned when the replacement entity is unusable.
	ErrInvalidReplacement = errors.New("reflink: invalid replacement entity")

	// ErrEmptyEntityID is returned when an operation is given an empty entity id.
	ErrEmptyEntityID = errors.New("reflink: empty entity id")

	// ErrUnknownEntityType is returned when no relationship is registered for an entity type.
	ErrUnknownEntityType = errors.New("reflink: unknown entity type")
)

// PartialMigrationError describes how far a failed migration got.
// Returned by MigrateAndDelete, its counts cover every relationship of the
// entity type, and batch indexes run across them in submission order.
type PartialMigrationError struct {
	// Relationship is the reference whose batch failed. It is zero when the
	// error comes from a single Migrator run.
	Relationship store.Relationship

	// CompletedBatches is the number of batches committed before the failure.
	CompletedBatches int

	// FailedBatchIndex is the 0-based index of the batch that failed.
	FailedBatchIndex int

	// TotalBatches is the number of batches the migration was split into.
	TotalBatches int

	// Migrated is the number of dependents already pointing at the replacement.
	Migrated int

	// Total is the number of dependents the migration covered.
	Total int

	// Err is the store error that stopped the migration.
	Err error
}

func (e *PartialMigrationError) Error() string {
	if e.Relationship.Field == "" {
		return fmt.Sprintf("reflink: %d of %d dependents migrated, batch %d of %d failed: %v",
			e.Migrated, e.Total, e.FailedBatchIndex+1, e.TotalBatches, e.Err)
	}
	return fmt.Sprintf("reflink: %d of %d dependents migrated, batch %d of %d failed in %s.%s: %v",
		e.Migrated, e.Total, e.FailedBatchIndex+1, e.TotalBatches,
		e.Relationship.DependentCollection, e.Relationship.Field, e.Err)
}

// Is reports ErrPartialMigration as a match.
func (e *PartialMigrationError) Is(target error) bool {
	return target == ErrPartialMigration
}

func (e *PartialMigrationError) Unwrap() error {
	return e.Err
}
