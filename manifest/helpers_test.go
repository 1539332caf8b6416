package manifest

import (
	"testing"

	"github.com/go-revlog/revlog/revlog"
)

// memFile is a minimal in-memory io.ReadWriteSeeker+Truncate for tests
// that don't want real filesystem state.
type memFile struct {
	buf []byte
	pos int64
}

func (m *memFile) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, errEOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	if int(m.pos)+len(p) > len(m.buf) {
		grown := make([]byte, int(m.pos)+len(p))
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func (m *memFile) Truncate(size int64) error {
	if size < int64(len(m.buf)) {
		m.buf = m.buf[:size]
	}
	if m.pos > size {
		m.pos = size
	}
	return nil
}

type eofError struct{}

func (eofError) Error() string { return "EOF" }

var errEOF error = eofError{}

func newTestRevlog(t *testing.T) *revlog.Revlog {
	t.Helper()
	index := revlog.NewIndex(revlog.FormatV1, false)
	data := revlog.NewDataStore(&memFile{})
	return revlog.New("store", "00manifest.d", index, data, revlog.DefaultPolicy, nil)
}
