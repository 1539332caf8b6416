package bundlerepo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

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

func TestBundleRevlogReadsOnDiskAndTail(t *testing.T) {
	index := revlog.NewIndex(revlog.FormatV1, true)
	data := revlog.NewDataStore(&memFile{})
	base := revlog.New("store", "f.i", index, data, revlog.DefaultPolicy, nil)

	n0, err := base.AddRevision([]byte("hello\n"), nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	tailText := []byte("hello\nworld\n")
	n1 := nodeid.Hash(n0, nodeid.Null, tailText)

	bundleBuf := tailText
	synth := []SyntheticEntry{
		{Node: n1, P1: n0, P2: nodeid.Null, DeltaBase: nodeid.Null, LinkRev: 1, Offset: 0, Length: int64(len(bundleBuf))},
	}

	br := Open(base, 0, bytes.NewReader(bundleBuf), synth)
	assert.Equal(t, 2, br.Len())
	assert.Equal(t, 0, br.RepoTipRev())

	gotN0, err := br.Node(0)
	require.NoError(t, err)
	assert.Equal(t, n0, gotN0)

	onDisk, err := br.Revision(0, true)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(onDisk))

	tail, err := br.Revision(1, true)
	require.NoError(t, err)
	assert.Equal(t, string(tailText), string(tail))

	rev1, err := br.Rev(n1)
	require.NoError(t, err)
	assert.Equal(t, 1, rev1)

	p1, p2, err := br.ParentRevs(1)
	require.NoError(t, err)
	assert.Equal(t, 0, p1)
	assert.Equal(t, -1, p2)

	heads, err := br.Heads()
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, n1, heads[0])
}

func TestBundleRevlogWritesNotSupported(t *testing.T) {
	index := revlog.NewIndex(revlog.FormatV1, true)
	data := revlog.NewDataStore(&memFile{})
	base := revlog.New("store", "f.i", index, data, revlog.DefaultPolicy, nil)
	br := Open(base, -1, bytes.NewReader(nil), nil)

	err := br.AddRevision(nodeid.ID{}, nodeid.ID{}, nodeid.ID{}, nil, 0)
	assert.Error(t, err)
	assert.Error(t, br.AddGroup())
	assert.Error(t, br.Strip(0))
	assert.Error(t, br.Checksize())
}
