package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/atomgrid/atomgrid/atom"
)

// SQLiteStore is a durable embedding Store sharing the atom database.
// Rows cascade-delete with their owning atom.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the embeddings table on an existing atom database
// handle (see atom.SQLiteStore.DB).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			atom_id   INTEGER PRIMARY KEY REFERENCES atoms(atom_id) ON DELETE CASCADE,
			model_id  TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			vector    BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating embeddings schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, e Embedding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (atom_id, model_id, dimension, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(atom_id) DO UPDATE SET
			model_id = excluded.model_id,
			dimension = excluded.dimension,
			vector = excluded.vector
	`, e.AtomID, e.ModelID, len(e.Vector), encodeVector(e.Vector))
	if err != nil {
		return fmt.Errorf("putting embedding: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id atom.ID) (*Embedding, error) {
	var (
		e   Embedding
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT atom_id, model_id, dimension, vector FROM embeddings WHERE atom_id = ?
	`, id).Scan(&e.AtomID, &e.ModelID, &e.Dimension, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding: %w", err)
	}
	e.Vector = decodeVector(raw)
	if len(e.Vector) != e.Dimension {
		return nil, fmt.Errorf("embedding for atom %d: stored dimension %d, decoded %d", id, e.Dimension, len(e.Vector))
	}
	return &e, nil
}

// Has implements Store.
func (s *SQLiteStore) Has(ctx context.Context, id atom.ID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM embeddings WHERE atom_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking embedding: %w", err)
	}
	return true, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id atom.ID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE atom_id = ?`, id); err != nil {
		return fmt.Errorf("deleting embedding: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return n, nil
}

// ForEach implements Store.
func (s *SQLiteStore) ForEach(ctx context.Context, fn func(e *Embedding) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT atom_id, model_id, dimension, vector FROM embeddings ORDER BY atom_id
	`)
	if err != nil {
		return fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e   Embedding
			raw []byte
		)
		if err := rows.Scan(&e.AtomID, &e.ModelID, &e.Dimension, &raw); err != nil {
			return fmt.Errorf("scanning embedding row: %w", err)
		}
		e.Vector = decodeVector(raw)
		if err := fn(&e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close implements Store. The shared database handle is owned by the atom
// store, so this is a no-op.
func (s *SQLiteStore) Close() error { return nil }

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return v
}
