// Package pagination provides a forward-only cursor over a collection listed
// newest first.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jacentio/reflink/store"
)

var (
	// ErrFetchInProgress is returned when a fetch is issued while another is pending.
	ErrFetchInProgress = errors.New("reflink: fetch already in progress")

	// ErrFetchFailed is returned when the store could not serve a page.
	ErrFetchFailed = errors.New("reflink: page fetch failed")

	// ErrInvalidPageSize is returned when a cursor is created with a page size below 1.
	ErrInvalidPageSize = errors.New("reflink: page size must be positive")
)

// PageReader is the ordered listing primitive of the document store.
type PageReader interface {
	QueryPage(ctx context.Context, q store.PageQuery) ([]*store.Document, error)
}

// Phase is the cursor's fetch state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
)

func (p Phase) String() string {
	if p == PhaseFetching {
		return "fetching"
	}
	return "idle"
}

// State is a snapshot of the cursor.
type State struct {
	// LastSeen is the position of the last item held, nil before the first page.
	LastSeen *store.Position

	PageSize  int
	Exhausted bool
	Phase     Phase
}

// Page is the result of one fetch.
type Page struct {
	// Items holds only the documents returned by this fetch.
	Items []*store.Document

	State State
}

// Cursor pages through a collection in (created_at DESC, id DESC) order.
// A Cursor belongs to one list view and must not be shared between views.
type Cursor struct {
	reader     PageReader
	collection string
	pageSize   int
	logger     *zap.Logger

	fetching atomic.Bool

	mu        sync.Mutex
	items     []*store.Document
	last      *store.Position
	exhausted bool
}

// New creates a cursor over collection returning pageSize documents per fetch.
func New(reader PageReader, collection string, pageSize int, logger *zap.Logger) (*Cursor, error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cursor{
		reader:     reader,
		collection: collection,
		pageSize:   pageSize,
		logger:     logger,
	}, nil
}

// FetchPage loads the next page. With refresh, or on first load, it starts
// over from the newest document and replaces the held items; otherwise it
// continues after the last held item and appends.
//
// Once the cursor is exhausted a non-refresh fetch returns an empty page
// without querying the store. A failed fetch leaves the cursor unchanged.
func (c *Cursor) FetchPage(ctx context.Context, refresh bool) (Page, error) {
	if !c.fetching.CompareAndSwap(false, true) {
		return Page{}, ErrFetchInProgress
	}
	defer c.fetching.Store(false)

	c.mu.Lock()
	after := c.last
	exhausted := c.exhausted
	c.mu.Unlock()

	if refresh {
		after = nil
	} else if exhausted {
		return Page{State: c.snapshot(PhaseIdle)}, nil
	}

	// One extra row tells us whether another page exists.
	rows, err := c.reader.QueryPage(ctx, store.PageQuery{
		Collection: c.collection,
		After:      after,
		Limit:      c.pageSize + 1,
	})
	if err != nil {
		c.logger.Warn("page fetch failed",
			zap.String("collection", c.collection),
			zap.Bool("refresh", refresh),
			zap.Error(err),
		)
		return Page{}, fmt.Errorf("%w: %s: %w", ErrFetchFailed, c.collection, err)
	}

	more := len(rows) > c.pageSize
	if more {
		rows = rows[:c.pageSize]
	}

	c.mu.Lock()
	if after == nil {
		c.items = append([]*store.Document(nil), rows...)
		c.last = nil
	} else {
		c.items = append(c.items, rows...)
	}
	if len(rows) > 0 {
		pos := rows[len(rows)-1].Position()
		c.last = &pos
	}
	c.exhausted = !more
	c.mu.Unlock()

	c.logger.Debug("page fetched",
		zap.String("collection", c.collection),
		zap.Int("items", len(rows)),
		zap.Bool("exhausted", !more),
	)

	return Page{Items: rows, State: c.snapshot(PhaseIdle)}, nil
}

// Refresh discards the held items and cursor and loads the first page.
func (c *Cursor) Refresh(ctx context.Context) (Page, error) {
	return c.FetchPage(ctx, true)
}

// Items returns every document held by the cursor, in listing order.
func (c *Cursor) Items() []*store.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*store.Document(nil), c.items...)
}

// State returns a snapshot of the cursor.
func (c *Cursor) State() State {
	phase := PhaseIdle
	if c.fetching.Load() {
		phase = PhaseFetching
	}
	return c.snapshot(phase)
}

func (c *Cursor) snapshot(phase Phase) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		PageSize:  c.pageSize,
		Exhausted: c.exhausted,
		Phase:     phase,
	}
	if c.last != nil {
		pos := *c.last
		s.LastSeen = &pos
	}
	return s
}
