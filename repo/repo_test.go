package repo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/phases"
)

func TestCommitInitialRevision(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), ".hg"), nil)
	require.NoError(t, err)

	node, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("hello\n")},
		User:        "u",
		Description: "m",
	})
	require.NoError(t, err)
	assert.False(t, node.IsNull())

	cs, err := r.Changelog.ReadByNode(node)
	require.NoError(t, err)
	assert.Equal(t, "m", cs.Description)
	assert.Equal(t, []string{"a.txt"}, cs.Files)

	phase, err := r.Phases.Phase(0)
	require.NoError(t, err)
	assert.Equal(t, phases.Draft, phase, "new commits are draft by default")

	fl, err := r.Filelog("a.txt")
	require.NoError(t, err)
	raw, err := fl.Revision(0, false)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(raw))
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".hg")
	r, err := Open(root, nil)
	require.NoError(t, err)
	node, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("v1\n")},
		User:        "u",
		Description: "first",
	})
	require.NoError(t, err)

	r2, err := Open(root, nil)
	require.NoError(t, err)
	cs, err := r2.Changelog.ReadByNode(node)
	require.NoError(t, err)
	assert.Equal(t, "first", cs.Description)

	fl, err := r2.Filelog("a.txt")
	require.NoError(t, err)
	raw, err := fl.Revision(0, false)
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(raw))
}

func TestCommitChainsAcrossParent(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), ".hg"), nil)
	require.NoError(t, err)

	first, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("v1\n"), "b.txt": []byte("keep\n")},
		User:        "u",
		Description: "first",
	})
	require.NoError(t, err)

	second, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("v2\n")},
		User:        "u",
		Description: "second",
		P1:          first,
	})
	require.NoError(t, err)

	entries, err := r.manifestEntriesAt(second)
	require.NoError(t, err)
	var sawB bool
	for _, e := range entries {
		if e.Path == "b.txt" {
			sawB = true
		}
	}
	assert.True(t, sawB, "unmodified file must carry forward from the parent manifest")

	fl, err := r.Filelog("a.txt")
	require.NoError(t, err)
	raw, err := fl.Revision(1, false)
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(raw))
}

func TestCommitRemovingFileDropsManifestEntry(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), ".hg"), nil)
	require.NoError(t, err)

	first, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("v1\n")},
		User:        "u",
		Description: "first",
	})
	require.NoError(t, err)

	second, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": nil},
		User:        "u",
		Description: "remove a",
		P1:          first,
	})
	require.NoError(t, err)

	entries, err := r.manifestEntriesAt(second)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommitFailurePreservesPriorState(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), ".hg"), nil)
	require.NoError(t, err)

	first, err := r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("v1\n")},
		User:        "u",
		Description: "first",
	})
	require.NoError(t, err)

	// A bogus P1 that doesn't resolve must fail before anything is
	// appended, and leave the repository exactly as it was.
	_, err = r.Commit(CommitRequest{
		Files:       map[string][]byte{"a.txt": []byte("v2\n")},
		User:        "u",
		Description: "bad parent",
		P1:          nodeid.Hash(nodeid.Null, nodeid.Null, []byte("nonexistent")),
	})
	require.Error(t, err)

	assert.Equal(t, 1, r.Changelog.Len())
	cs, err := r.Changelog.ReadByNode(first)
	require.NoError(t, err)
	assert.Equal(t, "first", cs.Description)
}
