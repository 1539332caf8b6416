package revlog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/go-revlog/revlog/nodeid"
)

// TestIndexMarshalUnmarshalRoundTrip packs a handful of entries
// (general-delta parents, a non-trivial base_rev, distinct flags) and
// checks the whole index survives Marshal/Unmarshal unchanged. A
// testify equality assert's failure message collapses the whole
// struct slice into one diff-less blob; cmp.Diff instead points at the
// exact differing field, which matters here since rev 0's flags word
// is deliberately rewritten to carry the format header on the wire.
func TestIndexMarshalUnmarshalRoundTrip(t *testing.T) {
	ix := NewIndex(FormatV1, true)
	ix.InlineData = true
	ix.Append(IndexEntry{
		Offset: 0, CompressedSize: 10, UncompressedSize: 10,
		BaseRev: 0, LinkRev: 0, P1Rev: nullRev, P2Rev: nullRev,
		Node: nodeid.Hash(nodeid.Null, nodeid.Null, []byte("a")),
	})
	ix.Append(IndexEntry{
		Offset: 10, Flags: 0x4, CompressedSize: 5, UncompressedSize: 20,
		BaseRev: 0, LinkRev: 1, P1Rev: 0, P2Rev: nullRev,
		Node: nodeid.Hash(nodeid.Null, nodeid.Null, []byte("b")),
	})
	ix.Append(IndexEntry{
		Offset: 15, CompressedSize: 8, UncompressedSize: 8,
		BaseRev: 2, LinkRev: 2, P1Rev: 1, P2Rev: 0,
		Node: nodeid.Hash(nodeid.Null, nodeid.Null, []byte("c")),
	})

	got, err := Unmarshal(ix.Marshal())
	require.NoError(t, err)

	opts := []cmp.Option{
		cmp.AllowUnexported(Index{}),
		cmpopts.IgnoreFields(Index{}, "nodeToRev"),
	}
	if diff := cmp.Diff(ix, got, opts...); diff != "" {
		t.Errorf("index round trip mismatch (-want +got):\n%s", diff)
	}
	// nodeToRev is rebuilt from entries, not serialized; check it
	// separately rather than asking cmp to look inside a map keyed by
	// an array type alongside the ignored field above.
	for rev := 0; rev < ix.Len(); rev++ {
		n, _ := ix.Node(rev)
		gotRev, ok := got.Rev(n)
		require.True(t, ok)
		require.Equal(t, rev, gotRev)
	}
}
