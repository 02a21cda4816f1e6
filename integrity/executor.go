package integrity

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Deleter is the single-document delete primitive.
type Deleter interface {
	Delete(ctx context.Context, collection, id string) error
}

// Executor removes entity documents.
type Executor struct {
	deleter Deleter
	logger  *zap.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(d Deleter, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		deleter: d,
		logger:  logger,
	}
}

// Delete removes the entity document. Callers must only invoke it once the
// entity has no dependents or every dependent has been migrated.
func (e *Executor) Delete(ctx context.Context, collection, entityID string) error {
	if entityID == "" {
		return ErrEmptyEntityID
	}
	if err := e.deleter.Delete(ctx, collection, entityID); err != nil {
		e.logger.Error("entity delete failed",
			zap.String("collection", collection),
			zap.String("entityID", entityID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s/%s: %w", ErrDeleteFailed, collection, entityID, err)
	}
	e.logger.Info("entity deleted",
		zap.String("collection", collection),
		zap.String("entityID", entityID),
	)
	return nil
}
