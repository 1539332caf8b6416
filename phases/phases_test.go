package phases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-revlog/revlog/nodeid"
)

// linearResolver treats rev i as a direct child of rev i-1, a minimal
// stand-in for a linear changelog.
type linearResolver struct {
	nodes []nodeid.ID
}

func (r linearResolver) Rev(n nodeid.ID) (int, error) {
	for i, x := range r.nodes {
		if x == n {
			return i, nil
		}
	}
	return -1, assertErr{}
}

func (r linearResolver) Ancestors(revs []int, stopRev int, inclusive bool) []int {
	max := -1
	for _, rv := range revs {
		if rv > max {
			max = rv
		}
	}
	var out []int
	for rv := max; rv > stopRev; rv-- {
		out = append(out, rv)
	}
	if !inclusive && len(out) > 0 {
		out = out[1:]
	}
	return out
}

type assertErr struct{}

func (assertErr) Error() string { return "not found" }

func nodes(n int) []nodeid.ID {
	out := make([]nodeid.ID, n)
	for i := range out {
		out[i] = nodeid.Hash(nodeid.Null, nodeid.Null, []byte{byte(i)})
	}
	return out
}

func TestDefaultPhaseIsPublic(t *testing.T) {
	ns := nodes(3)
	s := New(linearResolver{nodes: ns}, nil)
	p, err := s.Phase(2)
	require.NoError(t, err)
	assert.Equal(t, Public, p)
}

func TestRetractBoundaryRaisesPhase(t *testing.T) {
	ns := nodes(3)
	s := New(linearResolver{nodes: ns}, nil)
	require.NoError(t, s.RetractBoundary(Draft, []nodeid.ID{ns[1]}))

	p0, _ := s.Phase(0)
	p1, _ := s.Phase(1)
	p2, _ := s.Phase(2)
	assert.Equal(t, Public, p0)
	assert.Equal(t, Draft, p1)
	assert.Equal(t, Draft, p2, "descendant of a draft root is also draft")
}

func TestAdvanceBoundaryLowersPhase(t *testing.T) {
	ns := nodes(3)
	s := New(linearResolver{nodes: ns}, nil)
	require.NoError(t, s.RetractBoundary(Secret, []nodeid.ID{ns[0]}))
	// Advancing exactly the root node back to public clears the whole
	// chain, since nothing else roots it at a higher phase.
	require.NoError(t, s.AdvanceBoundary(Public, []nodeid.ID{ns[0]}))

	p0, _ := s.Phase(0)
	p2, _ := s.Phase(2)
	assert.Equal(t, Public, p0)
	assert.Equal(t, Public, p2)
}

func TestAdvanceBoundaryNeverRaisesPhase(t *testing.T) {
	ns := nodes(2)
	s := New(linearResolver{nodes: ns}, nil)
	require.NoError(t, s.AdvanceBoundary(Secret, []nodeid.ID{ns[0]}))
	p, _ := s.Phase(0)
	assert.Equal(t, Public, p, "advanceboundary must never move a node away from public")
}

func TestRetractBoundaryNeverLowersPhase(t *testing.T) {
	ns := nodes(2)
	s := New(linearResolver{nodes: ns}, nil)
	require.NoError(t, s.RetractBoundary(Secret, []nodeid.ID{ns[0]}))
	require.NoError(t, s.RetractBoundary(Public, []nodeid.ID{ns[0]}))
	p, _ := s.Phase(0)
	assert.Equal(t, Secret, p)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ns := nodes(2)
	s := New(linearResolver{nodes: ns}, nil)
	require.NoError(t, s.RetractBoundary(Draft, []nodeid.ID{ns[0]}))

	raw := s.Encode()
	got, err := Decode(raw, linearResolver{nodes: ns}, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Roots(Draft), got.Roots(Draft))
}
