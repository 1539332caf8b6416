package manifest

import (
	"fmt"
	"testing"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(s string) nodeid.ID {
	return nodeid.Hash(nodeid.Null, nodeid.Null, []byte(s))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Path: "b.txt", Node: node("b")},
		{Path: "a.txt", Node: node("a"), Flag: FlagExec},
		{Path: "link", Node: node("l"), Flag: FlagLink},
	}
	raw := Encode(entries)
	got, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a.txt", got[0].Path, "entries must come back sorted")
	assert.Equal(t, FlagExec, got[0].Flag)
	assert.Equal(t, "b.txt", got[1].Path)
	assert.Equal(t, FlagNone, got[1].Flag)
	assert.Equal(t, "link", got[2].Path)
	assert.Equal(t, FlagLink, got[2].Flag)
}

func TestDiffAddedChangedRemoved(t *testing.T) {
	a := []Entry{
		{Path: "keep", Node: node("keep")},
		{Path: "change", Node: node("old")},
		{Path: "remove", Node: node("gone")},
	}
	b := []Entry{
		{Path: "keep", Node: node("keep")},
		{Path: "change", Node: node("new")},
		{Path: "add", Node: node("added")},
	}
	d := Diff(a, b)
	require.Len(t, d, 3)
	byPath := map[string]Entry{}
	for _, e := range d {
		byPath[e.Path] = e
	}
	assert.Equal(t, node("added"), byPath["add"].Node)
	assert.Equal(t, node("new"), byPath["change"].Node)
	assert.Equal(t, nodeid.Null, byPath["remove"].Node)
	_, ok := byPath["keep"]
	assert.False(t, ok, "unchanged entries must not appear in the diff")
}

// mapResolver satisfies DirResolver from a fixed set of child
// manifests keyed by directory path, for tests that don't need a real
// repository to exercise tree-mode recursion.
type mapResolver map[string]*Manifest

func (r mapResolver) Dir(path string) (*Manifest, error) {
	m, ok := r[path]
	if !ok {
		return nil, fmt.Errorf("manifest: no child manifest for %q", path)
	}
	return m, nil
}

func TestReadTreeRecursesIntoChildDirectories(t *testing.T) {
	// root/
	//   a.txt
	//   sub/        (FlagDir, resolved by mapResolver)
	//     b.txt
	//     deep/     (FlagDir, nested another level)
	//       c.txt
	deepRL := newTestRevlog(t)
	deep := NewDir(deepRL, "sub/deep/")
	deepNode, err := deep.Add([]Entry{{Path: "c.txt", Node: node("c")}}, nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	subRL := newTestRevlog(t)
	sub := NewDir(subRL, "sub/")
	subNode, err := sub.Add([]Entry{
		{Path: "b.txt", Node: node("b")},
		{Path: "deep", Node: deepNode, Flag: FlagDir},
	}, nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	rootRL := newTestRevlog(t)
	root := New(rootRL)
	_, err = root.Add([]Entry{
		{Path: "a.txt", Node: node("a")},
		{Path: "sub", Node: subNode, Flag: FlagDir},
	}, nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	resolver := mapResolver{"sub/": sub, "sub/deep/": deep}
	got, err := root.ReadTree(0, resolver)
	require.NoError(t, err)

	byPath := map[string]Entry{}
	for _, e := range got {
		byPath[e.Path] = e
	}
	require.Len(t, got, 3, "FlagDir entries must be replaced by their flattened children, not kept")
	assert.Equal(t, node("a"), byPath["a.txt"].Node)
	assert.Equal(t, node("b"), byPath["sub/b.txt"].Node)
	assert.Equal(t, node("c"), byPath["sub/deep/c.txt"].Node)
}

func TestManifestAddAndRead(t *testing.T) {
	rl := newTestRevlog(t)
	m := New(rl)

	entries := []Entry{
		{Path: "a.txt", Node: node("a")},
		{Path: "b.txt", Node: node("b"), Flag: FlagExec},
	}
	mnode, err := m.Add(entries, nodeid.Null, nodeid.Null, 0, nil)
	require.NoError(t, err)

	got, err := m.ReadByNode(mnode)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	n, flag, ok, err := m.Lookup(0, "b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, node("b"), n)
	assert.Equal(t, FlagExec, flag)
}
