package atom

import (
	"bytes"
	"crypto/sha256"
)

// Canonicalize normalizes content before hashing so that trivially different
// byte streams of the same logical content deduplicate to one atom.
//
// Text content gets CRLF line endings folded to LF and trailing whitespace
// stripped. Binary modalities are hashed as-is.
func Canonicalize(content []byte, modality Modality) []byte {
	if modality != ModalityText {
		return content
	}
	c := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	return bytes.TrimRight(c, " \t\n")
}

// HashContent computes the content hash of already-canonicalized bytes.
func HashContent(canonical []byte) ContentHash {
	return sha256.Sum256(canonical)
}
