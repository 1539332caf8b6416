package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-revlog/revlog/flagprocessor"
	"github.com/go-revlog/revlog/repo"
)

// commitTwoRevs creates a repo with two commits to path, so the
// censored revision (rev 1) isn't subject to revision 0's special
// flags-word/format-header aliasing in the packed index.
func commitTwoRevs(t *testing.T, path string, v1, v2 []byte) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), ".hg")
	r, err := repo.Open(root, nil)
	require.NoError(t, err)
	first, err := r.Commit(repo.CommitRequest{
		Files:       map[string][]byte{path: v1},
		User:        "u",
		Description: "first",
	})
	require.NoError(t, err)
	_, err = r.Commit(repo.CommitRequest{
		Files:       map[string][]byte{path: v2},
		User:        "u",
		Description: "second",
		P1:          first,
	})
	require.NoError(t, err)
	return root
}

func TestRunReplacesContentWithTombstone(t *testing.T) {
	root := commitTwoRevs(t, "secret.txt", []byte("line one\n"), []byte("leaked credentials\n"))

	require.NoError(t, run(nil, root, "secret.txt", "", 1))

	r2, err := repo.Open(root, nil)
	require.NoError(t, err)
	fl, err := r2.Filelog("secret.txt")
	require.NoError(t, err)

	data, err := fl.Revision(1, false)
	require.NoError(t, err)
	assert.Equal(t, flagprocessor.CensorTombstone, data)

	flags, err := fl.Flags(1)
	require.NoError(t, err)
	assert.NotZero(t, flags&flagprocessor.FlagCensored)

	// The uncensored revision is untouched.
	prior, err := fl.Revision(0, false)
	require.NoError(t, err)
	assert.Equal(t, "line one\n", string(prior))
}

func TestRunResolvesByNode(t *testing.T) {
	root := commitTwoRevs(t, "f", []byte("v1\n"), []byte("v2\n"))

	r, err := repo.Open(root, nil)
	require.NoError(t, err)
	fl, err := r.Filelog("f")
	require.NoError(t, err)
	node, err := fl.Node(1)
	require.NoError(t, err)

	require.NoError(t, run(nil, root, "f", node.Hex(), 0))

	r2, err := repo.Open(root, nil)
	require.NoError(t, err)
	fl2, err := r2.Filelog("f")
	require.NoError(t, err)
	flags, err := fl2.Flags(1)
	require.NoError(t, err)
	assert.NotZero(t, flags&flagprocessor.FlagCensored)
}

func TestRunRefusesWhenLaterRevisionDeltasAgainstIt(t *testing.T) {
	// Rev 0 is long enough that rev 1's 21-byte delta stays within the
	// default quarter-of-text snapshot ratio, so rev 1 deltas against it.
	base := strings.Repeat("line one\n", 20)
	root := commitTwoRevs(t, "f", []byte(base), []byte(base+"line two\n"))

	err := run(nil, root, "f", "", 0)
	assert.Error(t, err)
}
