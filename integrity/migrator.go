package integrity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacentio/reflink/store"
)

// BatchWriter is the atomic multi-document write primitive.
type BatchWriter interface {
	UpdateBatch(ctx context.Context, updates []store.FieldUpdate) error
	MaxBatchSize() int
}

// Outcome tags a MigrationResult.
type Outcome int

const (
	// OutcomeSuccess means every batch committed.
	OutcomeSuccess Outcome = iota

	// OutcomePartialFailure means at least one batch committed before a failure.
	OutcomePartialFailure

	// OutcomeFailure means the first batch failed and nothing was written.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial-failure"
	case OutcomeFailure:
		return "failure"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MigrationResult reports how far a migration got.
type MigrationResult struct {
	Outcome Outcome

	// Total is the number of dependents submitted for migration.
	Total int

	// Migrated is the number of dependents in committed batches.
	Migrated int

	TotalBatches     int
	CompletedBatches int

	// FailedBatchIndex is the 0-based index of the failed batch, or -1.
	FailedBatchIndex int

	// Cause is the store error of the failed batch.
	Cause error
}

// Err returns nil on success, else a *PartialMigrationError.
func (r MigrationResult) Err() error {
	if r.Outcome == OutcomeSuccess {
		return nil
	}
	return &PartialMigrationError{
		CompletedBatches: r.CompletedBatches,
		FailedBatchIndex: r.FailedBatchIndex,
		TotalBatches:     r.TotalBatches,
		Migrated:         r.Migrated,
		Total:            r.Total,
		Err:              r.Cause,
	}
}

// Progress describes the result for an operator, e.g. "3 of 250 dependents migrated".
func (r MigrationResult) Progress() string {
	return fmt.Sprintf("%d of %d dependents migrated", r.Migrated, r.Total)
}

// Migrator rewrites a reference field on a set of dependents.
type Migrator struct {
	writer  BatchWriter
	retries int
	logger  *zap.Logger
}

// NewMigrator creates a new Migrator. retries is the number of extra
// attempts for a failed batch; the retried batch has identical contents,
// so a replay is idempotent.
func NewMigrator(w BatchWriter, retries int, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries < 0 {
		retries = 0
	}
	return &Migrator{
		writer:  w,
		retries: retries,
		logger:  logger,
	}
}

// Migrate sets field = replacementID on every dependent.
//
// Each update only applies while the dependent still holds the value it was
// read with (or already holds replacementID), so a concurrent re-point fails
// its batch with store.ErrValueChanged instead of being overwritten.
// Dependents are split into batches of at most MaxBatchSize and submitted
// in order. The first failing batch stops the migration; later batches are
// not attempted. Cancelling ctx after the first batch has been submitted
// does not interrupt the remaining batches.
func (m *Migrator) Migrate(ctx context.Context, dependents []*store.Document, field, replacementID string) MigrationResult {
	batches := partition(dependents, m.writer.MaxBatchSize())
	result := MigrationResult{
		Total:            len(dependents),
		TotalBatches:     len(batches),
		FailedBatchIndex: -1,
	}
	if len(batches) == 0 {
		return result
	}

	// Committed batches cannot be rolled back; don't let a cancel strand the rest.
	ctx = context.WithoutCancel(ctx)

	for i, batch := range batches {
		updates := make([]store.FieldUpdate, len(batch))
		for j, doc := range batch {
			updates[j] = store.FieldUpdate{
				Collection: doc.Collection,
				ID:         doc.ID,
				Field:      field,
				Value:      replacementID,
				Expect:     doc.String(field),
			}
		}

		if err := m.submit(ctx, i, updates); err != nil {
			result.FailedBatchIndex = i
			result.Cause = err
			result.Outcome = OutcomePartialFailure
			if i == 0 {
				result.Outcome = OutcomeFailure
			}
			m.logger.Error("migration stopped",
				zap.String("field", field),
				zap.String("replacementID", replacementID),
				zap.Int("failedBatch", i),
				zap.Int("completedBatches", result.CompletedBatches),
				zap.Int("totalBatches", result.TotalBatches),
				zap.String("progress", result.Progress()),
				zap.Error(err),
			)
			return result
		}

		result.CompletedBatches++
		result.Migrated += len(batch)
	}

	m.logger.Info("migration completed",
		zap.String("field", field),
		zap.String("replacementID", replacementID),
		zap.Int("dependents", result.Total),
		zap.Int("batches", result.TotalBatches),
	)
	return result
}

// submit writes one batch, retrying the same contents up to m.retries times.
func (m *Migrator) submit(ctx context.Context, index int, updates []store.FieldUpdate) error {
	var err error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err = m.writer.UpdateBatch(ctx, updates); err == nil {
			return nil
		}
		m.logger.Warn("batch write failed",
			zap.Int("batch", index),
			zap.Int("attempt", attempt+1),
			zap.Int("size", len(updates)),
			zap.Error(err),
		)
	}
	return err
}

// batchCount returns the number of batches n dependents split into.
func batchCount(n, size int) int {
	if size < 1 {
		size = 1
	}
	return (n + size - 1) / size
}

// partition splits docs into consecutive chunks of at most size.
func partition(docs []*store.Document, size int) [][]*store.Document {
	if size < 1 {
		size = 1
	}
	var out [][]*store.Document
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		out = append(out, docs[start:end])
	}
	return out
}
