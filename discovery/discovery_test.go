package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-revlog/revlog/nodeid"
)

// fakeGraph is a minimal in-memory DAG used to stand in for a real
// peer on either side of a discovery exchange: parents[i] gives node
// i's parent node IDs, heads is the node's own idea of its heads, and
// has is the set of nodes it possesses (for answering Known).
type fakeGraph struct {
	parents map[nodeid.ID][]nodeid.ID
	heads   []nodeid.ID
	has     map[nodeid.ID]bool
}

func (g fakeGraph) Heads() ([]nodeid.ID, error) { return g.heads, nil }

func (g fakeGraph) Known(nodes []nodeid.ID) ([]bool, error) {
	out := make([]bool, len(nodes))
	for i, n := range nodes {
		out[i] = g.has[n]
	}
	return out, nil
}

func (g fakeGraph) Parents(n nodeid.ID) ([]nodeid.ID, error) {
	return g.parents[n], nil
}

// linearChain builds n nodes where node i's parent is node i-1 (node 0
// is a root, parent nodeid.Null).
func linearChain(n int) []nodeid.ID {
	out := make([]nodeid.ID, n)
	prev := nodeid.Null
	for i := range out {
		out[i] = nodeid.Hash(prev, nodeid.Null, []byte{byte(i)})
		prev = out[i]
	}
	return out
}

func chainParents(chain []nodeid.ID) map[nodeid.ID][]nodeid.ID {
	parents := map[nodeid.ID][]nodeid.ID{}
	prev := nodeid.Null
	for _, n := range chain {
		if prev != nodeid.Null {
			parents[n] = []nodeid.ID{prev}
		}
		prev = n
	}
	return parents
}

func TestFindCommonIncomingSplitsSharedPrefix(t *testing.T) {
	chain := linearChain(5)
	parents := chainParents(chain)

	local := fakeGraph{has: map[nodeid.ID]bool{chain[0]: true, chain[1]: true, chain[2]: true}}
	remote := fakeGraph{parents: parents, heads: []nodeid.ID{chain[4]}}

	res, err := FindCommonIncoming(local, remote)
	require.NoError(t, err)
	assert.ElementsMatch(t, []nodeid.ID{chain[4]}, res.RemoteHeads)
	assert.Contains(t, res.Common, chain[2])
	assert.Contains(t, res.Missing, chain[3])
	assert.Contains(t, res.Missing, chain[4])
	assert.NotContains(t, res.Common, chain[3])
}

func TestFindCommonOutgoingIdentifiesMissingHeads(t *testing.T) {
	chain := linearChain(5)
	parents := chainParents(chain)

	local := fakeGraph{parents: parents, heads: []nodeid.ID{chain[4]}}
	remote := fakeGraph{has: map[nodeid.ID]bool{chain[0]: true, chain[1]: true}}

	res, err := FindCommonOutgoing(local, remote)
	require.NoError(t, err)
	assert.Contains(t, res.Common, chain[1])
	assert.Contains(t, res.Missing, chain[2])
	assert.Contains(t, res.Missing, chain[3])
	assert.Contains(t, res.Missing, chain[4])
	assert.Equal(t, []nodeid.ID{chain[4]}, res.MissingHeads)
}

func TestFindCommonIncomingBothSidesEqual(t *testing.T) {
	chain := linearChain(3)
	parents := chainParents(chain)

	has := map[nodeid.ID]bool{}
	for _, n := range chain {
		has[n] = true
	}
	local := fakeGraph{has: has}
	remote := fakeGraph{parents: parents, heads: []nodeid.ID{chain[2]}}

	res, err := FindCommonIncoming(local, remote)
	require.NoError(t, err)
	assert.ElementsMatch(t, chain, res.Common)
	assert.Empty(t, res.Missing)
}

func TestFindCommonOutgoingNothingNew(t *testing.T) {
	chain := linearChain(3)
	parents := chainParents(chain)

	has := map[nodeid.ID]bool{}
	for _, n := range chain {
		has[n] = true
	}
	local := fakeGraph{parents: parents, heads: []nodeid.ID{chain[2]}}
	remote := fakeGraph{has: has}

	res, err := FindCommonOutgoing(local, remote)
	require.NoError(t, err)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.MissingHeads)
}
