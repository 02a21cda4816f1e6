package store

import (
	"fmt"
	"maps"
	"math"
	"strings"
	"time"
)

// Store-managed attribute names.
const (
	AttrID        = "id"
	AttrCreatedAt = "created_at"

	// attrList and attrOrder back the ordered-listing index.
	attrList  = "_list"
	attrOrder = "_order"
)

// Document is a stored record.
type Document struct {
	// ID is unique within the collection.
	ID string

	// Collection is the collection the document belongs to.
	Collection string

	// CreatedAt is the creation timestamp used for ordered listing.
	CreatedAt time.Time

	// Fields holds the user-visible attributes, excluding id and created_at.
	Fields map[string]any
}

// Position returns the document's place in listing order.
func (d *Document) Position() Position {
	return Position{CreatedAt: d.CreatedAt, ID: d.ID}
}

// String returns the value of a string field, or "" if absent or not a string.
func (d *Document) String(field string) string {
	s, _ := d.Fields[field].(string)
	return s
}

// Clone returns a copy of the document that shares no map with the original.
func (d *Document) Clone() *Document {
	c := *d
	c.Fields = maps.Clone(d.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	return &c
}

// FieldUpdate sets a single field on a single document.
type FieldUpdate struct {
	Collection string
	ID         string
	Field      string
	Value      any

	// Expect, when non-empty, makes the update apply only while Field still
	// holds this string or already holds Value, so a replayed batch succeeds.
	// Anything else fails the batch with ErrValueChanged.
	Expect string
}

// accepts reports whether the update may overwrite current.
func (u FieldUpdate) accepts(current any) bool {
	if u.Expect == "" {
		return true
	}
	s, ok := current.(string)
	if !ok {
		return false
	}
	return s == u.Expect || s == u.target()
}

// target is the string form of Value used in conditions, or Expect when
// Value is not a string.
func (u FieldUpdate) target() string {
	if v, ok := u.Value.(string); ok {
		return v
	}
	return u.Expect
}

// Position identifies a document's place in (created_at DESC, id DESC) order.
type Position struct {
	CreatedAt time.Time
	ID        string
}

// Compare orders positions by creation time, then id, both ascending.
// It returns -1 if p sorts before o, +1 if after, 0 if equal.
// Timestamps compare at nanosecond precision.
func (p Position) Compare(o Position) int {
	a, b := p.CreatedAt.UnixNano(), o.CreatedAt.UnixNano()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return strings.Compare(p.ID, o.ID)
}

// PageQuery requests the next documents of a collection in descending
// (created_at, id) order.
type PageQuery struct {
	Collection string

	// After excludes every document at or before this position in listing
	// order. Nil starts from the newest document.
	After *Position

	// Limit is the maximum number of documents to return.
	Limit int
}

// follows reports whether a document at pos comes strictly after q.After in
// descending listing order.
func (q PageQuery) follows(pos Position) bool {
	return q.After == nil || pos.Compare(*q.After) < 0
}

// Bounds of a creation timestamp. Listing keys store nanoseconds since the
// Unix epoch, so earlier or later times cannot be ordered.
var (
	minCreatedAt = time.Unix(0, 0).UTC()
	maxCreatedAt = time.Unix(0, math.MaxInt64).UTC()
)

// prepare validates a document for Put and defaults a zero CreatedAt to now.
func prepare(doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidField)
	}
	for k := range doc.Fields {
		if isManaged(k) {
			return fmt.Errorf("%w: %q", ErrProtectedField, k)
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.CreatedAt.Before(minCreatedAt) || doc.CreatedAt.After(maxCreatedAt) {
		return fmt.Errorf("%w: %s is outside %d..%d", ErrInvalidTimestamp,
			doc.CreatedAt.Format(time.RFC3339), minCreatedAt.Year(), maxCreatedAt.Year())
	}
	return nil
}

// isManaged reports whether an attribute is maintained by the store.
func isManaged(field string) bool {
	switch field {
	case AttrID, AttrCreatedAt, attrList, attrOrder:
		return true
	}
	return false
}

// validField reports whether a field name is usable in queries and updates.
func validField(field string) bool {
	return field != "" && !strings.ContainsAny(field, "\".[]$")
}
