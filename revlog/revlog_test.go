package revlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRevlog(t *testing.T, policy Policy) *Revlog {
	t.Helper()
	index := NewIndex(FormatV1, policy.GeneralDelta)
	data := NewDataStore(newMemFile())
	return New("store", "test.d", index, data, policy, nil)
}

// memFile is an in-memory io.ReadWriteSeeker + Truncate, standing in
// for an *os.File in tests that don't want real filesystem state.
type memFile struct {
	buf []byte
	pos int64
}

func newMemFile() *memFile { return &memFile{} }

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

func TestAddRevisionRootAndHashRoundTrip(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)
	node, err := rl.AddRevision([]byte("hello\n"), nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	rev, err := rl.Rev(node)
	require.NoError(t, err)
	assert.Equal(t, 0, rev)

	got, err := rl.Revision(rev, true)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
}

func TestAddRevisionIsIdempotent(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)
	n1, err := rl.AddRevision([]byte("x"), nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)
	n2, err := rl.AddRevision([]byte("x"), nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
	assert.Equal(t, 1, rl.Len())
}

func TestDeltaChainReconstruction(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)

	lines := make([]string, 1000)
	for i := range lines {
		lines[i] = "A"
	}
	v0 := []byte(strings.Join(lines, "\n") + "\n")
	n0, err := rl.AddRevision(v0, nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	lines1 := append([]string(nil), lines...)
	lines1[500] = "B"
	v1 := []byte(strings.Join(lines1, "\n") + "\n")
	n1, err := rl.AddRevision(v1, n0, nodeid.Null, 1, nil)
	require.NoError(t, err)

	lines2 := append([]string(nil), lines1...)
	lines2[250] = "C"
	v2 := []byte(strings.Join(lines2, "\n") + "\n")
	n2, err := rl.AddRevision(v2, n1, nodeid.Null, 2, nil)
	require.NoError(t, err)

	rev2, err := rl.Rev(n2)
	require.NoError(t, err)
	got, err := rl.Revision(rev2, true)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(v2, got))

	e, _ := rl.index.Entry(1)
	assert.NotEqual(t, 1, int(e.BaseRev), "rev 1 should be stored as a delta, not a snapshot")
}

func TestHashMismatchDetected(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)
	n0, err := rl.AddRevision([]byte("hello\n"), nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)
	rev, _ := rl.Rev(n0)

	entry, _ := rl.index.Entry(rev)
	entry.Node = nodeid.Hash(nodeid.Null, nodeid.Null, []byte("tampered"))
	rl.index.entries[rev] = entry
	rl.index.nodeToRev[entry.Node] = rev
	rl.cacheOK = false

	_, err = rl.Revision(rev, true)
	assert.Error(t, err)
	var hashErr *HashMismatchError
	assert.ErrorAs(t, err, &hashErr)
}

func TestRevdiffAndApplyRoundTrip(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)
	n0, err := rl.AddRevision([]byte("line one\nline two\n"), nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)
	n1, err := rl.AddRevision([]byte("line one\nline TWO\n"), n0, nodeid.Null, 1, nil)
	require.NoError(t, err)

	r0, _ := rl.Rev(n0)
	r1, _ := rl.Rev(n1)
	diffBytes, err := rl.Revdiff(r0, r1)
	require.NoError(t, err)

	delta, err := DecodeDelta(diffBytes)
	require.NoError(t, err)
	a, _ := rl.Revision(r0, true)
	patched, err := Apply(a, delta)
	require.NoError(t, err)
	b, _ := rl.Revision(r1, true)
	assert.Equal(t, b, patched)
}

func TestAncestorsAndHeads(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)
	n0, _ := rl.AddRevision([]byte("0"), nodeid.Null, nodeid.Null, 0, nil)
	n1, _ := rl.AddRevision([]byte("1"), n0, nodeid.Null, 1, nil)
	n2, _ := rl.AddRevision([]byte("2"), n1, nodeid.Null, 2, nil)

	r2, _ := rl.Rev(n2)
	ancestors := rl.Ancestors([]int{r2}, -1, true)
	assert.Equal(t, []int{2, 1, 0}, ancestors)

	heads, err := rl.Heads(nil, nil)
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, n2, heads[0])
}

func TestCommonAncestorsHeads(t *testing.T) {
	rl := newTestRevlog(t, DefaultPolicy)
	n0, _ := rl.AddRevision([]byte("0"), nodeid.Null, nodeid.Null, 0, nil)
	n1, _ := rl.AddRevision([]byte("1"), n0, nodeid.Null, 1, nil)
	nA, _ := rl.AddRevision([]byte("a"), n1, nodeid.Null, 2, nil)
	nB, _ := rl.AddRevision([]byte("b"), n1, nodeid.Null, 3, nil)

	common, err := rl.CommonAncestorsHeads(nA, nB)
	require.NoError(t, err)
	require.Len(t, common, 1)
	assert.Equal(t, n1, common[0])
}
