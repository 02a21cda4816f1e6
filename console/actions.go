// Package console wires list-view row actions to document ids.
//
// Fetched documents stay plain data. A Dispatcher is passed alongside them
// and resolves an action name and a document id to the handler that runs it.
package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jacentio/reflink/integrity"
	"github.com/jacentio/reflink/store"
)

// Row action names.
const (
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

var (
	// ErrUnknownAction is returned when no handler is registered for an action.
	ErrUnknownAction = errors.New("reflink: unknown row action")

	// ErrEmptyID is returned when an action is dispatched without a document id.
	ErrEmptyID = errors.New("reflink: row action requires a document id")
)

// Handler runs a row action against the document with the given id.
type Handler func(ctx context.Context, id string) error

// Dispatcher maps action names to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register sets the handler for an action, replacing any previous one.
func (d *Dispatcher) Register(action string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

// Dispatch runs the handler registered for action on id.
func (d *Dispatcher) Dispatch(ctx context.Context, action, id string) error {
	if id == "" {
		return ErrEmptyID
	}

	d.mu.RLock()
	h, ok := d.handlers[action]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	d.logger.Debug("dispatching row action",
		zap.String("action", action),
		zap.String("id", id),
	)
	if err := h(ctx, id); err != nil {
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	return nil
}

// Actions returns the registered action names, sorted.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Row is a list-view row: a document and the actions it offers.
type Row struct {
	Document *store.Document
	Actions  []string
}

// Rows pairs each document with the dispatcher's actions.
func (d *Dispatcher) Rows(docs []*store.Document) []Row {
	actions := d.Actions()
	rows := make([]Row, len(docs))
	for i, doc := range docs {
		rows[i] = Row{Document: doc, Actions: actions}
	}
	return rows
}

// DeleteAction returns a Handler that deletes an entity through svc,
// migrating its dependents to the id returned by replacement. replacement
// may be nil when the caller expects no dependents.
func DeleteAction(svc *integrity.Service, entityType string, replacement func(id string) string, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, id string) error {
		replacementID := ""
		if replacement != nil {
			replacementID = replacement(id)
		}

		result, err := svc.MigrateAndDelete(ctx, entityType, id, replacementID)
		if len(result.Migrations) > 0 {
			logger.Info("migration result",
				zap.String("entityType", entityType),
				zap.String("entityID", id),
				zap.Stringer("outcome", result.Outcome()),
				zap.String("progress", result.Progress()),
				zap.Bool("deleted", result.Deleted),
			)
		}
		return err
	}
}
