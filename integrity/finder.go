package integrity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacentio/reflink/store"
)

// Reader is the read side of the document store used to find dependents.
type Reader interface {
	QueryEqual(ctx context.Context, collection, field, value string) ([]*store.Document, error)
	CountEqual(ctx context.Context, collection, field, value string) (int, error)
}

// DependentSet is the documents referencing an entity through one relationship.
type DependentSet struct {
	Relationship store.Relationship
	EntityID     string
	Documents    []*store.Document
}

// Count returns the number of dependents in the set.
func (d DependentSet) Count() int {
	return len(d.Documents)
}

// Finder locates documents that reference an entity.
type Finder struct {
	reader Reader
	logger *zap.Logger
}

// NewFinder creates a new Finder.
func NewFinder(r Reader, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{
		reader: r,
		logger: logger,
	}
}

// FindDependents returns every document whose rel.Field equals entityID.
// Store errors are wrapped in ErrQueryFailed: callers must not read a failed
// lookup as zero dependents.
func (f *Finder) FindDependents(ctx context.Context, rel store.Relationship, entityID string) (DependentSet, error) {
	if entityID == "" {
		return DependentSet{}, ErrEmptyEntityID
	}

	docs, err := f.reader.QueryEqual(ctx, rel.DependentCollection, rel.Field, entityID)
	if err != nil {
		f.logger.Warn("dependent lookup failed",
			zap.String("collection", rel.DependentCollection),
			zap.String("field", rel.Field),
			zap.String("entityID", entityID),
			zap.Error(err),
		)
		return DependentSet{}, fmt.Errorf("%w: %s.%s=%s: %w", ErrQueryFailed, rel.DependentCollection, rel.Field, entityID, err)
	}

	f.logger.Debug("found dependents",
		zap.String("collection", rel.DependentCollection),
		zap.String("field", rel.Field),
		zap.String("entityID", entityID),
		zap.Int("count", len(docs)),
	)

	return DependentSet{
		Relationship: rel,
		EntityID:     entityID,
		Documents:    docs,
	}, nil
}

// CountDependents returns the number of documents whose rel.Field equals entityID.
func (f *Finder) CountDependents(ctx context.Context, rel store.Relationship, entityID string) (int, error) {
	if entityID == "" {
		return 0, ErrEmptyEntityID
	}

	n, err := f.reader.CountEqual(ctx, rel.DependentCollection, rel.Field, entityID)
	if err != nil {
		f.logger.Warn("dependent count failed",
			zap.String("collection", rel.DependentCollection),
			zap.String("field", rel.Field),
			zap.String("entityID", entityID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: %s.%s=%s: %w", ErrQueryFailed, rel.DependentCollection, rel.Field, entityID, err)
	}
	return n, nil
}
