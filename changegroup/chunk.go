// Package changegroup implements the wire codec of spec §4.4: a
// length-prefixed chunk framing, per-version delta headers, and a
// packer/unpacker pair that drive already-decoded revisions into
// revlog.Revlog.AddGroup without revlog itself knowing about wire
// versions.
package changegroup

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrEndOfGroup is returned by readChunk when it reads the zero/short
// length chunk that terminates a group or the file section.
var ErrEndOfGroup = errors.New("changegroup: end of group")

// writeChunk writes a length-prefixed chunk: a big-endian int32 of
// len(data)+4 (the length field counts itself), followed by data.
func writeChunk(w io.Writer, data []byte) error {
	length := int32(len(data) + 4)
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// writeEnd writes the zero-length chunk that terminates a group.
func writeEnd(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, int32(0))
}

// readChunk reads one chunk. A length ≤ 4 (spec §4.4) means there is
// no payload; it returns ErrEndOfGroup rather than an empty slice so
// callers can't confuse "zero-length payload" with "end of group".
func readChunk(r io.Reader) ([]byte, error) {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length <= 4 {
		return nil, ErrEndOfGroup
	}
	data := make([]byte, length-4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
