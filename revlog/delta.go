package revlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Hunk is one (start, end, data) replacement: "replace source bytes
// [start,end) with data" (spec §6 "Delta format").
type Hunk struct {
	Start int32
	End   int32
	Data  []byte
}

// Delta is an ordered sequence of non-overlapping, increasing hunks.
type Delta []Hunk

// Encode serializes a delta to the wire format: repeated
// (start:i32 BE, end:i32 BE, length:i32 BE, data) records.
func (d Delta) Encode() []byte {
	var buf bytes.Buffer
	for _, h := range d {
		var hdr [12]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(h.Start))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(h.End))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(h.Data)))
		buf.Write(hdr[:])
		buf.Write(h.Data)
	}
	return buf.Bytes()
}

// DecodeDelta parses the wire format back into a Delta.
func DecodeDelta(raw []byte) (Delta, error) {
	var d Delta
	for len(raw) > 0 {
		if len(raw) < 12 {
			return nil, fmt.Errorf("revlog: truncated delta header (%d bytes left)", len(raw))
		}
		start := int32(binary.BigEndian.Uint32(raw[0:4]))
		end := int32(binary.BigEndian.Uint32(raw[4:8]))
		length := int32(binary.BigEndian.Uint32(raw[8:12]))
		raw = raw[12:]
		if int(length) < 0 || int(length) > len(raw) {
			return nil, fmt.Errorf("revlog: delta hunk length %d exceeds remaining %d bytes", length, len(raw))
		}
		data := raw[:length]
		raw = raw[length:]
		d = append(d, Hunk{Start: start, End: end, Data: data})
	}
	return d, nil
}

// Apply replays d against src, producing the patched text.
func Apply(src []byte, d Delta) ([]byte, error) {
	var out bytes.Buffer
	pos := int32(0)
	for _, h := range d {
		if h.Start < pos || h.End < h.Start || int(h.End) > len(src) {
			return nil, fmt.Errorf("revlog: invalid hunk [%d,%d) against %d-byte source (pos=%d)", h.Start, h.End, len(src), pos)
		}
		out.Write(src[pos:h.Start])
		out.Write(h.Data)
		pos = h.End
	}
	out.Write(src[pos:])
	return out.Bytes(), nil
}

// Diff computes a delta from a to b. It is not the optimal (LCS)
// diff; it computes a single hunk spanning the differing middle
// region, which is what revdiff needs to produce and what Apply needs
// to invert — the minimal useful diff, not a general-purpose one.
// A trivial diff replacing an empty source with content x is
// (0, 0, |x|, x), matching spec §6.
func Diff(a, b []byte) Delta {
	if bytes.Equal(a, b) {
		return nil
	}
	// Common prefix.
	prefix := 0
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for prefix < max && a[prefix] == b[prefix] {
		prefix++
	}
	// Common suffix, not overlapping the prefix.
	suffix := 0
	for suffix < max-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	start := int32(prefix)
	end := int32(len(a) - suffix)
	data := make([]byte, len(b)-prefix-suffix)
	copy(data, b[prefix:len(b)-suffix])
	return Delta{{Start: start, End: end, Data: data}}
}
