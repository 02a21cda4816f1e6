package integrity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/reflink/store"
)

// Store is the document store surface the Service needs.
type Store interface {
	Reader
	BatchWriter
	Deleter
	Get(ctx context.Context, collection, id string) (*store.Document, error)
}

// Config holds configuration for the Service.
type Config struct {
	// BatchRetries is the number of extra attempts for a failed migration batch.
	// Default: 0
	BatchRetries int

	// RecheckBeforeDelete re-counts dependents after migration and aborts with
	// ErrStaleDependentSet if any reappeared.
	// Default: true
	RecheckBeforeDelete bool

	// MaxParallelChecks bounds concurrent lookups in CheckMany.
	// Default: 8
	MaxParallelChecks int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchRetries:        0,
		RecheckBeforeDelete: true,
		MaxParallelChecks:   8,
	}
}

func (c *Config) validate() {
	if c.BatchRetries < 0 {
		c.BatchRetries = 0
	}
	if c.MaxParallelChecks < 1 {
		c.MaxParallelChecks = 8
	}
}

// RelationshipCount is the number of dependents through one relationship.
type RelationshipCount struct {
	Relationship store.Relationship
	Count        int
}

// Report summarizes an entity's dependents.
type Report struct {
	EntityType string
	EntityID   string
	Counts     []RelationshipCount
	Total      int
}

// DeletionResult reports what MigrateAndDelete did.
type DeletionResult struct {
	Plan       Plan
	Migrations []MigrationResult
	Deleted    bool
}

// Migrated returns the number of dependents moved to the replacement.
func (r DeletionResult) Migrated() int {
	n := 0
	for _, m := range r.Migrations {
		n += m.Migrated
	}
	return n
}

// Outcome summarizes the migration across every relationship. A failed
// relationship after an earlier one committed is a partial failure.
func (r DeletionResult) Outcome() Outcome {
	for _, m := range r.Migrations {
		if m.Outcome == OutcomeSuccess {
			continue
		}
		if r.Migrated() > 0 {
			return OutcomePartialFailure
		}
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Progress describes the whole migration, e.g. "3 of 5 dependents migrated".
func (r DeletionResult) Progress() string {
	return fmt.Sprintf("%d of %d dependents migrated", r.Migrated(), r.Plan.DependentCount)
}

// migrationError reports a stopped migration in terms of the whole flow.
// Batches run sequentially, so the failed batch directly follows every
// completed one.
func (r DeletionResult) migrationError(sets []DependentSet, failed MigrationResult, rel store.Relationship, batchSize int) error {
	totalBatches := 0
	for _, set := range sets {
		totalBatches += batchCount(set.Count(), batchSize)
	}
	completed := 0
	for _, m := range r.Migrations {
		completed += m.CompletedBatches
	}
	return &PartialMigrationError{
		Relationship:     rel,
		CompletedBatches: completed,
		FailedBatchIndex: completed,
		TotalBatches:     totalBatches,
		Migrated:         r.Migrated(),
		Total:            r.Plan.DependentCount,
		Err:              failed.Cause,
	}
}

// Service runs the dependent check, migration and delete flow.
type Service struct {
	store    Store
	registry *store.Registry
	finder   *Finder
	migrator *Migrator
	executor *Executor
	config   Config
	logger   *zap.Logger
}

// NewService creates a new Service.
func NewService(s Store, registry *store.Registry, config Config, logger *zap.Logger) *Service {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    s,
		registry: registry,
		finder:   NewFinder(s, logger),
		migrator: NewMigrator(s, config.BatchRetries, logger),
		executor: NewExecutor(s, logger),
		config:   config,
		logger:   logger,
	}
}

// relationships returns the entity collection and references of an entity type.
func (s *Service) relationships(entityType string) (string, []store.Relationship, error) {
	collection, ok := s.registry.CollectionOf(entityType)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return collection, s.registry.DependentsOf(entityType), nil
}

// CheckDependents counts the documents referencing an entity.
func (s *Service) CheckDependents(ctx context.Context, entityType, entityID string) (Report, error) {
	if entityID == "" {
		return Report{}, ErrEmptyEntityID
	}
	_, rels, err := s.relationships(entityType)
	if err != nil {
		return Report{}, err
	}

	report := Report{EntityType: entityType, EntityID: entityID}
	for _, rel := range rels {
		n, err := s.finder.CountDependents(ctx, rel, entityID)
		if err != nil {
			return Report{}, err
		}
		report.Counts = append(report.Counts, RelationshipCount{Relationship: rel, Count: n})
		report.Total += n
	}
	return report, nil
}

// CheckMany runs CheckDependents for several entities in parallel.
// Any failure fails the whole call.
func (s *Service) CheckMany(ctx context.Context, entityType string, entityIDs []string) (map[string]Report, error) {
	reports := make([]Report, len(entityIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxParallelChecks)
	for i, id := range entityIDs {
		g.Go(func() error {
			r, err := s.CheckDependents(ctx, entityType, id)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Report, len(entityIDs))
	for i, id := range entityIDs {
		out[id] = reports[i]
	}
	return out, nil
}

// Plan checks an entity's dependents and returns the deletion plan.
func (s *Service) Plan(ctx context.Context, entityType, entityID string) (Plan, error) {
	report, err := s.CheckDependents(ctx, entityType, entityID)
	if err != nil {
		return Plan{}, err
	}
	return NewPlan(entityType, entityID, report.Total), nil
}

// MigrateAndDelete deletes an entity, first moving its dependents to
// replacementID when it has any.
//
// Dependents are re-queried here rather than taken from an earlier Plan, so
// references created while the operator was choosing a replacement are
// covered. On a non-nil error the entity has not been deleted; the result
// still reports any batches that committed. Relationships migrate in
// registration order and a failure stops the rest.
func (s *Service) MigrateAndDelete(ctx context.Context, entityType, entityID, replacementID string) (DeletionResult, error) {
	if entityID == "" {
		return DeletionResult{}, ErrEmptyEntityID
	}
	collection, rels, err := s.relationships(entityType)
	if err != nil {
		return DeletionResult{}, err
	}

	if _, err := s.store.Get(ctx, collection, entityID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DeletionResult{}, fmt.Errorf("%s %s: %w", entityType, entityID, err)
		}
		return DeletionResult{}, fmt.Errorf("%w: read %s/%s: %w", ErrQueryFailed, collection, entityID, err)
	}

	sets := make([]DependentSet, 0, len(rels))
	total := 0
	for _, rel := range rels {
		set, err := s.finder.FindDependents(ctx, rel, entityID)
		if err != nil {
			return DeletionResult{}, err
		}
		sets = append(sets, set)
		total += set.Count()
	}

	result := DeletionResult{Plan: NewPlan(entityType, entityID, total)}

	if result.Plan.Decision == RequiresMigration {
		if replacementID == "" {
			return result, fmt.Errorf("%w: %s %s has %d", ErrMigrationRequired, entityType, entityID, total)
		}
		plan, err := result.Plan.WithReplacement(replacementID)
		if err != nil {
			return result, err
		}
		result.Plan = plan

		if _, err := s.store.Get(ctx, collection, replacementID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return result, fmt.Errorf("%w: %s %s does not exist", ErrInvalidReplacement, entityType, replacementID)
			}
			return result, fmt.Errorf("%w: read %s/%s: %w", ErrQueryFailed, collection, replacementID, err)
		}

		s.logger.Info("migrating dependents",
			zap.String("entityType", entityType),
			zap.String("entityID", entityID),
			zap.String("replacementID", replacementID),
			zap.Int("dependents", total),
		)

		for _, set := range sets {
			if set.Count() == 0 {
				continue
			}
			mr := s.migrator.Migrate(ctx, set.Documents, set.Relationship.Field, replacementID)
			result.Migrations = append(result.Migrations, mr)
			if mr.Outcome != OutcomeSuccess {
				return result, result.migrationError(sets, mr, set.Relationship, s.store.MaxBatchSize())
			}
		}

		if s.config.RecheckBeforeDelete {
			if err := s.recheck(ctx, rels, entityID); err != nil {
				return result, err
			}
		}
	}

	if err := s.executor.Delete(ctx, collection, entityID); err != nil {
		return result, err
	}
	result.Deleted = true
	return result, nil
}

// recheck fails with ErrStaleDependentSet if any dependent references entityID.
func (s *Service) recheck(ctx context.Context, rels []store.Relationship, entityID string) error {
	for _, rel := range rels {
		n, err := s.finder.CountDependents(ctx, rel, entityID)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Warn("dependents appeared during migration",
				zap.String("collection", rel.DependentCollection),
				zap.String("field", rel.Field),
				zap.String("entityID", entityID),
				zap.Int("count", n),
			)
			return fmt.Errorf("%w: %d in %s.%s", ErrStaleDependentSet, n, rel.DependentCollection, rel.Field)
		}
	}
	return nil
}
