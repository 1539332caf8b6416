package revlog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// chunk encoding byte, prefixed to every stored payload so a reader
// never has to consult policy to know how to decode it.
const (
	encRaw  byte = 'u'
	encZlib byte = 'z'
)

// DataStore reads and writes revision payloads at byte offsets,
// either in the tail of the index file (inline mode, small logs) or a
// separate data file (spec §4.1 "A data region").
type DataStore struct {
	rw io.ReadWriteSeeker
}

// NewDataStore wraps an already-open file or buffer.
func NewDataStore(rw io.ReadWriteSeeker) *DataStore {
	return &DataStore{rw: rw}
}

// Append writes a chunk at the current end of the store and returns
// its offset and on-disk (compressed) size. compress selects whether
// zlib compression is attempted; compression is skipped when it
// wouldn't shrink the payload, matching spec §4.1's choice between
// snapshot/delta storage and raw bytes when compression doesn't pay
// for itself.
func (s *DataStore) Append(raw []byte, compress bool) (offset int64, compressedSize int32, err error) {
	offset, err = s.rw.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, err
	}
	payload := s.encode(raw, compress)
	n, err := s.rw.Write(payload)
	if err != nil {
		return 0, 0, err
	}
	return offset, int32(n), nil
}

func (s *DataStore) encode(raw []byte, compress bool) []byte {
	if !compress {
		return append([]byte{encRaw}, raw...)
	}
	var buf bytes.Buffer
	buf.WriteByte(encZlib)
	w := zlib.NewWriter(&buf)
	_, _ = w.Write(raw)
	_ = w.Close()
	if buf.Len() >= len(raw)+1 {
		// Compression didn't help; store raw instead.
		return append([]byte{encRaw}, raw...)
	}
	return buf.Bytes()
}

// Read returns the uncompressedSize bytes stored at offset, whose
// on-disk footprint is compressedSize bytes (including the 1-byte
// encoding tag).
func (s *DataStore) Read(offset int64, compressedSize int32, uncompressedSize int32) ([]byte, error) {
	if compressedSize == 0 {
		return nil, nil
	}
	buf := make([]byte, compressedSize)
	if _, err := s.rw.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(s.rw, buf); err != nil {
		return nil, fmt.Errorf("revlog: reading %d bytes at offset %d: %w", compressedSize, offset, err)
	}
	tag, payload := buf[0], buf[1:]
	switch tag {
	case encRaw:
		return payload, nil
	case encZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("revlog: zlib header at offset %d: %w", offset, err)
		}
		defer zr.Close()
		out := make([]byte, 0, uncompressedSize)
		buf2 := bytes.NewBuffer(out)
		if _, err := io.Copy(buf2, zr); err != nil {
			return nil, fmt.Errorf("revlog: zlib decompress at offset %d: %w", offset, err)
		}
		return buf2.Bytes(), nil
	default:
		return nil, fmt.Errorf("revlog: unknown chunk encoding byte %q at offset %d", tag, offset)
	}
}

// Truncate drops everything at or beyond offset, for transaction
// abort (the data-file half of the journal contract in spec §4.6).
func (s *DataStore) Truncate(offset int64) error {
	if t, ok := s.rw.(interface{ Truncate(int64) error }); ok {
		if err := t.Truncate(offset); err != nil {
			return err
		}
	}
	_, err := s.rw.Seek(offset, io.SeekStart)
	return err
}

// Len returns the current end-of-store offset.
func (s *DataStore) Len() (int64, error) {
	return s.rw.Seek(0, io.SeekEnd)
}
