package changegroup

import (
	"encoding/binary"
	"fmt"

	"github.com/go-revlog/revlog/nodeid"
)

// Version selects the per-delta header layout (spec §4.4).
type Version int

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

func (v Version) headerSize() int {
	switch v {
	case V1:
		return nodeid.Size * 4
	case V2:
		return nodeid.Size * 5
	case V3:
		return nodeid.Size*5 + 2
	default:
		return 0
	}
}

// DeltaEntry is one wire-format group entry: a delta header plus its
// delta (or, when DeltaBase is Null, full-text) payload.
type DeltaEntry struct {
	Node      nodeid.ID
	P1, P2    nodeid.ID
	DeltaBase nodeid.ID // resolved explicitly even for v1, which carries it implicitly on the wire
	LinkNode  nodeid.ID
	Flags     uint16 // only meaningful, and only carried on the wire, for v3
	Delta     []byte
}

// encodeHeader serializes e's header fields (not Delta) per version.
func encodeHeader(version Version, e DeltaEntry) ([]byte, error) {
	switch version {
	case V1:
		buf := make([]byte, 0, version.headerSize())
		buf = append(buf, e.Node[:]...)
		buf = append(buf, e.P1[:]...)
		buf = append(buf, e.P2[:]...)
		buf = append(buf, e.LinkNode[:]...)
		return buf, nil
	case V2:
		buf := make([]byte, 0, version.headerSize())
		buf = append(buf, e.Node[:]...)
		buf = append(buf, e.P1[:]...)
		buf = append(buf, e.P2[:]...)
		buf = append(buf, e.DeltaBase[:]...)
		buf = append(buf, e.LinkNode[:]...)
		return buf, nil
	case V3:
		buf := make([]byte, 0, version.headerSize())
		buf = append(buf, e.Node[:]...)
		buf = append(buf, e.P1[:]...)
		buf = append(buf, e.P2[:]...)
		buf = append(buf, e.DeltaBase[:]...)
		buf = append(buf, e.LinkNode[:]...)
		flags := make([]byte, 2)
		binary.BigEndian.PutUint16(flags, e.Flags)
		buf = append(buf, flags...)
		return buf, nil
	default:
		return nil, fmt.Errorf("changegroup: unknown version %d", version)
	}
}

// decodeHeader parses data's leading header fields and returns the
// remaining bytes as the delta payload. For V1, DeltaBase is left
// Null; the caller fills it in from stream position (entry 0 -> P1,
// entry i>0 -> the previous entry's Node), per spec §4.4 "In v1 the
// delta is always against the previous entry in the stream".
func decodeHeader(version Version, data []byte) (DeltaEntry, []byte, error) {
	size := version.headerSize()
	if len(data) < size {
		return DeltaEntry{}, nil, fmt.Errorf("changegroup: short chunk for v%d header (%d < %d)", version, len(data), size)
	}
	var e DeltaEntry
	off := 0
	readNode := func() nodeid.ID {
		var n nodeid.ID
		copy(n[:], data[off:off+nodeid.Size])
		off += nodeid.Size
		return n
	}
	e.Node = readNode()
	e.P1 = readNode()
	e.P2 = readNode()
	switch version {
	case V1:
		e.LinkNode = readNode()
	case V2:
		e.DeltaBase = readNode()
		e.LinkNode = readNode()
	case V3:
		e.DeltaBase = readNode()
		e.LinkNode = readNode()
		e.Flags = binary.BigEndian.Uint16(data[off : off+2])
		off += 2
	default:
		return DeltaEntry{}, nil, fmt.Errorf("changegroup: unknown version %d", version)
	}
	return e, data[off:], nil
}
