package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	fields     TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_order ON documents (collection, created_at DESC, id DESC);
`

// SQLiteStore keeps documents as JSON rows in a single SQLite table.
type SQLiteStore struct {
	db         *sql.DB
	batchLimit int
}

// OpenSQLite opens (creating if needed) a SQLite document store at path.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(path string, batchLimit int) (*SQLiteStore, error) {
	if batchLimit < 1 {
		batchLimit = MaxTransactItems
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, batchLimit: batchLimit}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MaxBatchSize returns the maximum number of updates accepted by UpdateBatch.
func (s *SQLiteStore) MaxBatchSize() int {
	return s.batchLimit
}

// Get retrieves a document by id, returning ErrNotFound if missing.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, fields FROM documents WHERE collection = ? AND id = ?`,
		collection, id)

	doc, err := scanDocument(collection, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// Put creates a document, returning ErrAlreadyExists if the id is taken.
// A zero CreatedAt is set to the current time.
func (s *SQLiteStore) Put(ctx context.Context, doc *Document) error {
	if err := prepare(doc); err != nil {
		return err
	}

	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, created_at, fields) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO NOTHING`,
		doc.Collection, doc.ID, doc.CreatedAt.UnixNano(), string(body))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// QueryEqual returns every document in collection whose string field equals
// value, ordered by id.
func (s *SQLiteStore) QueryEqual(ctx context.Context, collection, field, value string) ([]*Document, error) {
	if !validField(field) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	path := jsonPath(field)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, fields FROM documents
		 WHERE collection = ? AND json_type(fields, ?) = 'text' AND json_extract(fields, ?) = ?
		 ORDER BY id`,
		collection, path, path, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocuments(collection, rows)
}

// CountEqual returns the number of documents in collection whose string field
// equals value.
func (s *SQLiteStore) CountEqual(ctx context.Context, collection, field, value string) (int, error) {
	if !validField(field) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	path := jsonPath(field)

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents
		 WHERE collection = ? AND json_type(fields, ?) = 'text' AND json_extract(fields, ?) = ?`,
		collection, path, path, value).Scan(&n)
	return n, err
}

// UpdateBatch applies all updates in one transaction: all land or none do.
func (s *SQLiteStore) UpdateBatch(ctx context.Context, updates []FieldUpdate) (err error) {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > s.batchLimit {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(updates), s.batchLimit)
	}

	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		if err := checkUpdate(u); err != nil {
			return err
		}
		key := u.Collection + "/" + u.ID
		if seen[key] {
			return fmt.Errorf("%w: duplicate target %s", ErrConflict, key)
		}
		seen[key] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, u := range updates {
		val, err := json.Marshal(u.Value)
		if err != nil {
			return fmt.Errorf("marshal %s.%s: %w", u.ID, u.Field, err)
		}
		path := jsonPath(u.Field)
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET fields = json_set(fields, ?, json(?))
			 WHERE collection = ? AND id = ?
			   AND (? = '' OR (json_type(fields, ?) = 'text' AND json_extract(fields, ?) IN (?, ?)))`,
			path, string(val), u.Collection, u.ID, u.Expect, path, path, u.Expect, u.target())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return missOrChanged(ctx, tx, u)
		}
	}

	return tx.Commit()
}

// missOrChanged explains why an update matched no row.
func missOrChanged(ctx context.Context, tx *sql.Tx, u FieldUpdate) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = ? AND id = ?`, u.Collection, u.ID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s/%s", ErrNotFound, u.Collection, u.ID)
	case err != nil:
		return err
	}
	return fmt.Errorf("%w: %s/%s.%s", ErrValueChanged, u.Collection, u.ID, u.Field)
}

// Delete removes a document, returning ErrNotFound if it doesn't exist.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryPage returns up to q.Limit documents in (created_at DESC, id DESC)
// order, starting strictly after q.After.
func (s *SQLiteStore) QueryPage(ctx context.Context, q PageQuery) ([]*Document, error) {
	if q.Limit < 1 {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if q.After == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, created_at, fields FROM documents
			 WHERE collection = ?
			 ORDER BY created_at DESC, id DESC LIMIT ?`,
			q.Collection, q.Limit)
	} else {
		ts := q.After.CreatedAt.UnixNano()
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, created_at, fields FROM documents
			 WHERE collection = ? AND (created_at < ? OR (created_at = ? AND id < ?))
			 ORDER BY created_at DESC, id DESC LIMIT ?`,
			q.Collection, ts, ts, q.After.ID, q.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDocuments(q.Collection, rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(collection string, row rowScanner) (*Document, error) {
	var (
		id     string
		ns     int64
		fields string
	)
	if err := row.Scan(&id, &ns, &fields); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:         id,
		Collection: collection,
		CreatedAt:  time.Unix(0, ns).UTC(),
		Fields:     map[string]any{},
	}
	if err := json.Unmarshal([]byte(fields), &doc.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func scanDocuments(collection string, rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(collection, rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// jsonPath quotes a field name as a SQLite JSON path.
func jsonPath(field string) string {
	return `$."` + field + `"`
}
