// Package nodeid implements the 20-byte content-hash identifiers that
// key every revision in a revlog, and the hashing convention used to
// derive them: H(min(p1,p2) || max(p1,p2) || content).
package nodeid

import (
	"crypto/sha1" // nolint:gosec // the on-disk hash format is SHA-1, not a choice this code makes
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a node.
const Size = 20

// ID is a content hash identifying a revision. The zero value is Null.
type ID [Size]byte

// Null is the sentinel "no revision" node: parent of a root revision,
// unknown delta base, or "file deleted" in a manifest diff.
var Null ID

// IsNull reports whether id is the all-zero sentinel.
func (id ID) IsNull() bool { return id == Null }

// Hex returns the full 40-character lowercase hex form.
func (id ID) Hex() string { return hex.EncodeToString(id[:]) }

// Short returns the conventional 12-character abbreviated hex form.
func (id ID) Short() string {
	s := id.Hex()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func (id ID) String() string { return id.Hex() }

// FromHex parses a full 40-character hex string into an ID.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != Size*2 {
		return id, fmt.Errorf("nodeid: %q is not %d hex chars", s, Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("nodeid: %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

// FromBytes copies a 20-byte slice into an ID. It panics if b is not
// exactly Size bytes, matching the revlog index decoder's invariant
// that node fields are always fixed-width.
func FromBytes(b []byte) ID {
	if len(b) != Size {
		panic(fmt.Sprintf("nodeid: FromBytes got %d bytes, want %d", len(b), Size))
	}
	var id ID
	copy(id[:], b)
	return id
}

// Less orders two ids lexicographically by byte value. Used to derive
// the canonical (min, max) parent order fed to Hash.
func Less(a, b ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Sorted returns (p1, p2) reordered so the first returned value is
// not greater than the second, per the H(min(p1,p2) || max(p1,p2) ||
// content) convention. Sort order treats Null as the smallest value,
// which is how a root revision's two null parents and a one-parent
// revision's (p, Null) both hash deterministically.
func Sorted(p1, p2 ID) (lo, hi ID) {
	if Less(p2, p1) {
		return p2, p1
	}
	return p1, p2
}

// Hash computes H(min(p1,p2) || max(p1,p2) || content) for a normal
// (unflagged) revision. Flagged revisions reinterpret this value via a
// flag processor (see package flagprocessor) rather than changing the
// formula.
func Hash(p1, p2 ID, content []byte) ID {
	lo, hi := Sorted(p1, p2)
	h := sha1.New() // nolint:gosec
	h.Write(lo[:])
	h.Write(hi[:])
	h.Write(content)
	return FromBytes(h.Sum(nil))
}
