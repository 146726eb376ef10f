package atom

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore is a durable Store backed by SQLite.
//
// The hash-unique constraint is enforced by the database; the
// insert-or-increment step is a single upsert statement, so concurrent
// identical puts serialize per content hash inside SQLite rather than
// behind a process-wide lock.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	maxSize int
}

// SQLiteStoreOption configures a SQLiteStore.
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteMaxContentSize overrides the content size limit. Zero disables it.
func WithSQLiteMaxContentSize(n int) SQLiteStoreOption {
	return func(s *SQLiteStore) { s.maxSize = n }
}

// NewSQLiteStore opens (or creates) an atom database at dir/atoms.db.
func NewSQLiteStore(dir string, optFns ...SQLiteStoreOption) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dir, "atoms.db")

	// WAL journal mode so ingestion writers do not block query readers.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath, maxSize: DefaultMaxContentSize}
	for _, fn := range optFns {
		fn(s)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS atoms (
			atom_id         INTEGER PRIMARY KEY AUTOINCREMENT,
			content_hash    BLOB NOT NULL UNIQUE,
			modality        TEXT NOT NULL,
			content         BLOB NOT NULL,
			reference_count INTEGER NOT NULL DEFAULT 1,
			created_at      INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS relations (
			source_id     INTEGER NOT NULL REFERENCES atoms(atom_id) ON DELETE CASCADE,
			target_id     INTEGER NOT NULL REFERENCES atoms(atom_id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			weight        REAL NOT NULL DEFAULT 1.0,
			PRIMARY KEY (source_id, target_id, relation_type)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so sibling stores (embeddings) can share
// the same database file and transactional domain.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, content []byte, modality Modality) (ID, bool, error) {
	if err := validateContent(content, s.maxSize); err != nil {
		return 0, false, err
	}

	canonical := Canonicalize(content, modality)
	if err := validateContent(canonical, s.maxSize); err != nil {
		return 0, false, err
	}
	hash := HashContent(canonical)

	var (
		id ID
		rc int64
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO atoms (content_hash, modality, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			reference_count = reference_count + 1
		RETURNING atom_id, reference_count
	`, hash[:], string(modality), canonical, time.Now().UTC().UnixMilli()).Scan(&id, &rc)
	if err != nil {
		return 0, false, fmt.Errorf("putting atom: %w", err)
	}
	return id, rc == 1, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id ID) (*Atom, error) {
	var (
		a       Atom
		hash    []byte
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT atom_id, content_hash, modality, reference_count, created_at
		FROM atoms WHERE atom_id = ?
	`, id).Scan(&a.ID, &hash, &a.Modality, &a.ReferenceCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting atom: %w", err)
	}
	copy(a.Hash[:], hash)
	a.CreatedAt = time.UnixMilli(created).UTC()
	return &a, nil
}

// Content implements Store.
func (s *SQLiteStore) Content(ctx context.Context, id ID) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM atoms WHERE atom_id = ?`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting content: %w", err)
	}
	return content, nil
}

// GetByHash implements Store.
func (s *SQLiteStore) GetByHash(ctx context.Context, hash ContentHash) (ID, bool, error) {
	var id ID
	err := s.db.QueryRowContext(ctx, `SELECT atom_id FROM atoms WHERE content_hash = ?`, hash[:]).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up hash: %w", err)
	}
	return id, true, nil
}

// Release implements Store.
func (s *SQLiteStore) Release(ctx context.Context, id ID) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning release: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var rc int64
	err = tx.QueryRowContext(ctx, `
		UPDATE atoms SET reference_count = reference_count - 1
		WHERE atom_id = ?
		RETURNING reference_count
	`, id).Scan(&rc)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("releasing atom: %w", err)
	}

	if rc <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM atoms WHERE atom_id = ?`, id); err != nil {
			return 0, fmt.Errorf("deleting atom: %w", err)
		}
		rc = 0
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing release: %w", err)
	}
	return rc, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM atoms`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting atoms: %w", err)
	}
	return n, nil
}

// ForEach implements Store.
func (s *SQLiteStore) ForEach(ctx context.Context, fn func(a *Atom) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT atom_id, content_hash, modality, reference_count, created_at
		FROM atoms ORDER BY atom_id
	`)
	if err != nil {
		return fmt.Errorf("scanning atoms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a       Atom
			hash    []byte
			created int64
		)
		if err := rows.Scan(&a.ID, &hash, &a.Modality, &a.ReferenceCount, &created); err != nil {
			return fmt.Errorf("scanning atom row: %w", err)
		}
		copy(a.Hash[:], hash)
		a.CreatedAt = time.UnixMilli(created).UTC()
		if err := fn(&a); err != nil {
			return err
		}
	}
	return rows.Err()
}

// AddRelation implements Store.
func (s *SQLiteStore) AddRelation(ctx context.Context, r Relation) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (source_id, target_id, relation_type, weight)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM atoms WHERE atom_id = ?)
		  AND EXISTS (SELECT 1 FROM atoms WHERE atom_id = ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET
			weight = excluded.weight
	`, r.Source, r.Target, r.Type, r.Weight, r.Source, r.Target)
	if err != nil {
		return fmt.Errorf("adding relation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adding relation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Relations implements Store.
func (s *SQLiteStore) Relations(ctx context.Context, source ID) ([]Relation, error) {
	if _, err := s.Get(ctx, source); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation_type, weight
		FROM relations WHERE source_id = ?
		ORDER BY target_id, relation_type
	`, source)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	return scanRelations(rows)
}

// RelationsByType implements Store.
func (s *SQLiteStore) RelationsByType(ctx context.Context, source ID, relType string) ([]Relation, error) {
	if _, err := s.Get(ctx, source); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation_type, weight
		FROM relations WHERE source_id = ? AND relation_type = ?
		ORDER BY target_id
	`, source, relType)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	return scanRelations(rows)
}

func scanRelations(rows *sql.Rows) ([]Relation, error) {
	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.Source, &r.Target, &r.Type, &r.Weight); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
