// Package atom implements the content-addressable atom store.
//
// An atom is the smallest deduplicated unit of ingested data. Identity is the
// 256-bit digest of the canonicalized content: inserting identical content a
// second time never creates a second atom, it increments the reference count
// of the existing one. That dedup path is the primary purpose of the store,
// not an error condition.
package atom

import (
	"encoding/hex"
	"time"
)

// ID is the stable surrogate identifier of an atom.
type ID uint64

// ContentHash is the 256-bit digest of an atom's canonical content bytes.
type ContentHash [32]byte

// String returns the hex encoding of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Modality describes the kind of content an atom carries.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityBinary Modality = "binary"
	ModalityImage  Modality = "image"
)

// Atom is a single content-addressable record.
// Content is never mutated after creation; only the reference count changes.
type Atom struct {
	ID             ID
	Hash           ContentHash
	Modality       Modality
	ReferenceCount int64
	CreatedAt      time.Time
}

// Relation is a typed, weighted edge between two atoms.
// Relations form an arbitrary graph; cycles are valid data.
type Relation struct {
	Source ID
	Target ID
	Type   string
	Weight float64
}
