// Package revlog implements the append-only, delta-compressed,
// content-addressed log that backs changelog, manifest, and filelog
// (spec §4.1). This file covers the packed on-disk index format.
package revlog

import (
	"encoding/binary"
	"fmt"

	"github.com/go-revlog/revlog/nodeid"
)

// Format is the revlog index format version carried in revision 0's
// low bits.
type Format uint8

const (
	FormatV0 Format = 0
	FormatV1 Format = 1
	FormatV2 Format = 2
)

// Feature flags, packed alongside Format in revision 0's header word.
const (
	FlagInlineData   uint16 = 1 << 2
	FlagGeneralDelta uint16 = 1 << 3
)

// entrySize is the fixed width of one packed index entry (spec §6).
const entrySize = 64

// nullRev is the sentinel "no revision" value used for parents and
// delta bases that don't exist (e.g. a root revision's parents).
const nullRev int32 = -1

// IndexEntry is one fixed-size record in the packed index: one per
// revision.
type IndexEntry struct {
	Offset           int64 // byte offset of this revision's data
	Flags            uint16
	CompressedSize   int32
	UncompressedSize int32
	BaseRev          int32 // self if this revision is a full snapshot
	LinkRev          int32
	P1Rev            int32
	P2Rev            int32
	Node             nodeid.ID
}

// IsSnapshot reports whether this entry stores a full snapshot rather
// than a delta (spec §3 "If base_rev == rev, the payload is a full
// snapshot").
func (e IndexEntry) IsSnapshot(rev int) bool {
	return int(e.BaseRev) == rev
}

// header packs Format and feature flags into revision 0's 16-bit
// flags field, the convention spec §6 calls out for the first entry.
func header(format Format, generalDelta, inlineData bool) uint16 {
	h := uint16(format)
	if generalDelta {
		h |= FlagGeneralDelta
	}
	if inlineData {
		h |= FlagInlineData
	}
	return h
}

func unpackHeader(h uint16) (format Format, generalDelta, inlineData bool) {
	format = Format(h & 0x3)
	generalDelta = h&FlagGeneralDelta != 0
	inlineData = h&FlagInlineData != 0
	return
}

// encodeEntry packs one index entry into 64 bytes, big-endian, per
// spec §6. flags must already include the header word when rev==0.
func encodeEntry(e IndexEntry) []byte {
	buf := make([]byte, entrySize)
	offsetAndFlags := (uint64(e.Offset) << 16) | uint64(e.Flags)
	binary.BigEndian.PutUint64(buf[0:8], offsetAndFlags)
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.CompressedSize))
	binary.BigEndian.PutUint32(buf[12:16], uint32(e.UncompressedSize))
	binary.BigEndian.PutUint32(buf[16:20], uint32(e.BaseRev))
	binary.BigEndian.PutUint32(buf[20:24], uint32(e.LinkRev))
	binary.BigEndian.PutUint32(buf[24:28], uint32(e.P1Rev))
	binary.BigEndian.PutUint32(buf[28:32], uint32(e.P2Rev))
	copy(buf[32:52], e.Node[:])
	// buf[52:64] is padding, left zero.
	return buf
}

// decodeEntry unpacks one 64-byte record. It returns an error only for
// a record of the wrong length; invariants that need the whole index
// (parent and base ordering) are checked by Index.Validate.
func decodeEntry(buf []byte) (IndexEntry, error) {
	if len(buf) != entrySize {
		return IndexEntry{}, fmt.Errorf("revlog: index entry must be %d bytes, got %d", entrySize, len(buf))
	}
	offsetAndFlags := binary.BigEndian.Uint64(buf[0:8])
	e := IndexEntry{
		Offset:           int64(offsetAndFlags >> 16),
		Flags:            uint16(offsetAndFlags & 0xffff),
		CompressedSize:   int32(binary.BigEndian.Uint32(buf[8:12])),
		UncompressedSize: int32(binary.BigEndian.Uint32(buf[12:16])),
		BaseRev:          int32(binary.BigEndian.Uint32(buf[16:20])),
		LinkRev:          int32(binary.BigEndian.Uint32(buf[20:24])),
		P1Rev:            int32(binary.BigEndian.Uint32(buf[24:28])),
		P2Rev:            int32(binary.BigEndian.Uint32(buf[28:32])),
	}
	e.Node = nodeid.FromBytes(buf[32:52])
	return e, nil
}

// Index is the in-memory packed index plus the node->rev lookup
// table, kept current by Append, Truncate and Unmarshal.
type Index struct {
	Format       Format
	GeneralDelta bool
	InlineData   bool

	entries  []IndexEntry
	nodeToRev map[nodeid.ID]int
}

// NewIndex creates an empty index with the given format/feature bits.
func NewIndex(format Format, generalDelta bool) *Index {
	return &Index{Format: format, GeneralDelta: generalDelta, nodeToRev: map[nodeid.ID]int{}}
}

// Len returns the number of revisions.
func (ix *Index) Len() int { return len(ix.entries) }

// Append adds a new entry, which becomes revision Len(). The caller
// is responsible for ensuring e.Node is unique; Append does not
// dedupe (see Revlog.AddRevision for the idempotency check in spec
// property 6).
func (ix *Index) Append(e IndexEntry) int {
	rev := len(ix.entries)
	ix.entries = append(ix.entries, e)
	ix.nodeToRev[e.Node] = rev
	return rev
}

// Truncate drops every revision at or beyond rev, for transaction
// abort.
func (ix *Index) Truncate(rev int) {
	for _, e := range ix.entries[rev:] {
		delete(ix.nodeToRev, e.Node)
	}
	ix.entries = ix.entries[:rev]
}

// SetFlags overwrites rev's flags word in place, e.g. to set
// FlagCensored on an already-stored revision (spec §9 "a revision can
// be censored after the fact by setting its flag bit and replacing
// its content with a tombstone").
func (ix *Index) SetFlags(rev int, flags uint16) bool {
	if rev < 0 || rev >= len(ix.entries) {
		return false
	}
	ix.entries[rev].Flags = flags
	return true
}

// SetPayload repoints rev at replacement bytes written elsewhere in
// the data store, e.g. after Revlog.Censor appends a tombstone and
// needs the index entry to describe it instead of the original
// content. baseRev should be rev itself, since a tombstone is always
// stored as its own snapshot.
func (ix *Index) SetPayload(rev int, offset int64, compressedSize, uncompressedSize int32, baseRev int32) bool {
	if rev < 0 || rev >= len(ix.entries) {
		return false
	}
	e := &ix.entries[rev]
	e.Offset = offset
	e.CompressedSize = compressedSize
	e.UncompressedSize = uncompressedSize
	e.BaseRev = baseRev
	return true
}

// Entry returns the packed entry for rev.
func (ix *Index) Entry(rev int) (IndexEntry, bool) {
	if rev < 0 || rev >= len(ix.entries) {
		return IndexEntry{}, false
	}
	return ix.entries[rev], true
}

// Node returns the node for rev.
func (ix *Index) Node(rev int) (nodeid.ID, bool) {
	e, ok := ix.Entry(rev)
	if !ok {
		return nodeid.ID{}, false
	}
	return e.Node, true
}

// Rev returns the revision number for a node and whether it is
// present; the null node reports (-1, true).
func (ix *Index) Rev(n nodeid.ID) (int, bool) {
	if n.IsNull() {
		return -1, true
	}
	rev, ok := ix.nodeToRev[n]
	return rev, ok
}

// PartialMatch resolves a hex prefix to a unique node. It returns an
// error naming the ambiguity if more than one node matches, per the
// distillation's "partial/ambiguous hex node lookup" addition
// (SPEC_FULL "Supplemented features" #1).
func (ix *Index) PartialMatch(hexPrefix string) (nodeid.ID, error) {
	var match nodeid.ID
	found := 0
	for n := range ix.nodeToRev {
		if len(hexPrefix) <= len(n.Hex()) && n.Hex()[:len(hexPrefix)] == hexPrefix {
			match = n
			found++
			if found > 1 {
				return nodeid.ID{}, hgerrLookup(hexPrefix, "", "ambiguous identifier")
			}
		}
	}
	if found == 0 {
		return nodeid.ID{}, hgerrLookup(hexPrefix, "", "no match")
	}
	return match, nil
}

// ParentRevs returns (p1, p2) as revision numbers for rev.
func (ix *Index) ParentRevs(rev int) (int, int, bool) {
	e, ok := ix.Entry(rev)
	if !ok {
		return 0, 0, false
	}
	return int(e.P1Rev), int(e.P2Rev), true
}

// LinkRev returns the link-revision of rev (spec §4.2).
func (ix *Index) LinkRev(rev int) (int, bool) {
	e, ok := ix.Entry(rev)
	if !ok {
		return 0, false
	}
	return int(e.LinkRev), true
}

// Validate checks the structural invariants spec §4.1 "Integrity"
// requires before any revision is reconstructed: parents precede
// children and base precedes or equals self. Revision 0's format bits
// are checked separately, by Unmarshal.
func (ix *Index) Validate() error {
	for rev, e := range ix.entries {
		if int(e.P1Rev) >= rev && e.P1Rev != nullRev {
			return fmt.Errorf("revlog: rev %d: p1 %d is not < rev", rev, e.P1Rev)
		}
		if int(e.P2Rev) >= rev && e.P2Rev != nullRev {
			return fmt.Errorf("revlog: rev %d: p2 %d is not < rev", rev, e.P2Rev)
		}
		if int(e.BaseRev) > rev {
			return fmt.Errorf("revlog: rev %d: base_rev %d is not <= rev", rev, e.BaseRev)
		}
	}
	return nil
}

// EncodeHeaderFlags returns the 16-bit header word stored in
// revision 0's flags field, combining Format and feature bits.
func (ix *Index) EncodeHeaderFlags() uint16 {
	return header(ix.Format, ix.GeneralDelta, ix.InlineData)
}

// DecodeHeaderFlags extracts Format and feature bits from revision
// 0's raw flags word, as read off disk.
func DecodeHeaderFlags(h uint16) (Format, bool, bool) {
	return unpackHeader(h)
}

// Marshal serializes every entry to its packed 64-byte form,
// revision 0 carrying the format/feature header in its flags word.
func (ix *Index) Marshal() []byte {
	out := make([]byte, 0, len(ix.entries)*entrySize)
	for rev, e := range ix.entries {
		if rev == 0 {
			e.Flags = ix.EncodeHeaderFlags()
		}
		out = append(out, encodeEntry(e)...)
	}
	return out
}

// Unmarshal rebuilds an Index from a buffer of packed entries,
// rejecting a length that isn't a multiple of entrySize and a
// revision-0 header carrying an unknown format version.
func Unmarshal(buf []byte) (*Index, error) {
	if len(buf)%entrySize != 0 {
		return nil, fmt.Errorf("revlog: index size %d is not a multiple of %d", len(buf), entrySize)
	}
	ix := &Index{nodeToRev: map[nodeid.ID]int{}}
	n := len(buf) / entrySize
	for rev := 0; rev < n; rev++ {
		e, err := decodeEntry(buf[rev*entrySize : (rev+1)*entrySize])
		if err != nil {
			return nil, err
		}
		if rev == 0 {
			format, generalDelta, inlineData := unpackHeader(e.Flags)
			if format > FormatV2 {
				return nil, fmt.Errorf("revlog: unknown index format version %d", format)
			}
			ix.Format, ix.GeneralDelta, ix.InlineData = format, generalDelta, inlineData
			e.Flags = 0
		}
		ix.entries = append(ix.entries, e)
		ix.nodeToRev[e.Node] = rev
	}
	if err := ix.Validate(); err != nil {
		return nil, err
	}
	return ix, nil
}
