package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVFSCreateReadRoundTrip(t *testing.T) {
	v, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("a/b/c.txt", []byte("hi"), 0644))
	got, err := v.ReadFile("a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
	assert.True(t, v.Exists("a/b/c.txt"))
	assert.False(t, v.Exists("a/b/missing.txt"))
}

func TestAcquireLockExclusive(t *testing.T) {
	v, err := New(t.TempDir())
	require.NoError(t, err)

	l1, err := Acquire(v, "lock", nil)
	require.NoError(t, err)

	_, err = Acquire(v, "lock", nil)
	assert.Error(t, err, "a second acquire while the first is held must fail")

	require.NoError(t, l1.Unlock())
	l2, err := Acquire(v, "lock", nil)
	require.NoError(t, err)
	require.NoError(t, l2.Unlock())
}

func TestAcquireBreaksStaleLockFromDeadPid(t *testing.T) {
	v, err := New(t.TempDir())
	require.NoError(t, err)

	host, _ := os.Hostname()
	// A pid this high is vanishingly unlikely to be alive.
	stale := fmt.Sprintf("%s:999999", host)
	require.NoError(t, v.WriteFile("lock", []byte(stale), 0644))

	l, err := Acquire(v, "lock", nil)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}

func TestEncodeDecodePathRoundTrip(t *testing.T) {
	cases := []string{
		"README.md",
		"src/Main.go",
		"a_b/c__d",
		"dir/CON.txt",
	}
	for _, c := range cases {
		encoded := EncodePath(c)
		assert.Equal(t, c, DecodePath(encoded), "round trip for %q", c)
	}
}

func TestEncodePathFoldsCaseAndEscapesReserved(t *testing.T) {
	assert.Equal(t, "_r_e_a_d_m_e.md", EncodePath("README.md"))
	assert.Contains(t, EncodePath("con.txt"), ".hg")
}

func TestLayoutRequiresRoundTrip(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), ".hg"))
	require.NoError(t, err)

	require.NoError(t, l.WriteRequires([]string{"revlogv1", "store"}))
	tags, err := l.Requires()
	require.NoError(t, err)
	assert.Equal(t, []string{"revlogv1", "store"}, tags)
}

func TestFncacheTracksAddedPaths(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), ".hg"))
	require.NoError(t, err)

	fc, err := LoadFncache(l.Store)
	require.NoError(t, err)
	fc.Add("a.txt")
	fc.Add("dir/b.txt")
	require.NoError(t, fc.Save())

	reloaded, err := LoadFncache(l.Store)
	require.NoError(t, err)
	assert.Equal(t, []string{DataPath("a.txt"), DataPath("dir/b.txt")}, reloaded.Paths())
}
