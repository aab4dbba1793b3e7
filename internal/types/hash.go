// Package types defines the record shapes ingested and persisted by the
// indexer: blocks, transactions, outputs, inputs, and the natural keys
// that tie them together before surrogate ids exist.
package types

import (
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte block or transaction hash. The zero value is the
// all-zero hash used as the previous-hash of a genesis block.
//
// Storage orientation is little-endian (the order bytes arrive from the
// parser); display and hashing orientation is big-endian. Reversal
// happens uniformly at the two boundaries in this type rather than on a
// single ad hoc read path.
type Hash [32]byte

// String renders the hash in canonical big-endian display form.
func (h Hash) String() string {
	var rev [32]byte
	for i := range h {
		rev[i] = h[32-1-i]
	}
	return hex.EncodeToString(rev[:])
}

// HashFromDisplay parses a big-endian display-form hex string into its
// little-endian storage orientation.
func HashFromDisplay(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("types: invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("types: hash %q has %d bytes, want 32", s, len(b))
	}
	var h Hash
	for i := range b {
		h[i] = b[32-1-i]
	}
	return h, nil
}

// HexLiteral renders the hash's storage bytes as a backend hex-bytes
// literal (e.g. 0x0123...), used by the query builders.
func (h Hash) HexLiteral() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}
