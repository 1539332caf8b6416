// Package discovery implements the sample-based set-reconciliation of
// spec §4.7: findcommonincoming/findcommonoutgoing walk from each
// side's heads toward its roots, exchanging "do you have this node"
// boolean vectors over sampled subsets, until the common frontier is
// isolated.
package discovery

import (
	"github.com/go-revlog/revlog/nodeid"
)

// maxRounds bounds the walk so a pathologically long history can't
// loop forever; in practice the frontier empties out well before this.
const maxRounds = 64

// sampleSize caps how many frontier nodes are queried per round, the
// same role Mercurial's own discovery sampling plays in bounding a
// real network round trip's payload size.
const sampleSize = 200

// Source is the minimal surface either side of a discovery exchange
// exposes: its heads, a boolean-vector "do you have these" query, and
// parent lookup for walking the frontier toward the roots.
type Source interface {
	Heads() ([]nodeid.ID, error)
	Known(nodes []nodeid.ID) ([]bool, error)
	Parents(node nodeid.ID) ([]nodeid.ID, error)
}

// IncomingResult is findcommonincoming's result: the nodes present on
// both sides, the nodes missing locally, and the remote's heads.
type IncomingResult struct {
	Common      []nodeid.ID
	Missing     []nodeid.ID
	RemoteHeads []nodeid.ID
}

// OutgoingResult is findcommonoutgoing's result: the common set, the
// local nodes missing from the remote, and the heads of that missing
// set.
type OutgoingResult struct {
	Common       []nodeid.ID
	Missing      []nodeid.ID
	MissingHeads []nodeid.ID
}

// FindCommonIncoming walks the remote's history from its heads,
// classifying each sampled node via local.Known, and descending into
// a missing node's parents until the common frontier is isolated.
func FindCommonIncoming(local, remote Source) (IncomingResult, error) {
	remoteHeads, err := remote.Heads()
	if err != nil {
		return IncomingResult{}, err
	}
	common, missing, err := findCommon(remoteHeads, remote.Parents, local.Known)
	if err != nil {
		return IncomingResult{}, err
	}
	return IncomingResult{
		Common:      keys(common),
		Missing:     keys(missing),
		RemoteHeads: remoteHeads,
	}, nil
}

// FindCommonOutgoing is the dual: walk local's history from its
// heads, classifying via remote.Known. Since a node only enters the
// missing set by being a parent of another missing node, every
// missing node is a local head or an ancestor of one — so the heads
// of the missing set are exactly the local heads that are missing.
func FindCommonOutgoing(local, remote Source) (OutgoingResult, error) {
	localHeads, err := local.Heads()
	if err != nil {
		return OutgoingResult{}, err
	}
	common, missing, err := findCommon(localHeads, local.Parents, remote.Known)
	if err != nil {
		return OutgoingResult{}, err
	}
	var missingHeads []nodeid.ID
	for _, h := range localHeads {
		if missing[h] {
			missingHeads = append(missingHeads, h)
		}
	}
	return OutgoingResult{
		Common:       keys(common),
		Missing:      keys(missing),
		MissingHeads: missingHeads,
	}, nil
}

// findCommon runs the round-based sampling walk shared by both
// directions: startHeads seeds the frontier, parentsOf expands it
// downward from a node classified missing, knownIn classifies a
// sampled batch.
func findCommon(startHeads []nodeid.ID, parentsOf func(nodeid.ID) ([]nodeid.ID, error), knownIn func([]nodeid.ID) ([]bool, error)) (common, missing map[nodeid.ID]bool, err error) {
	common = map[nodeid.ID]bool{}
	missing = map[nodeid.ID]bool{}
	visited := map[nodeid.ID]bool{}

	frontier := dedupe(startHeads)
	for round := 0; len(frontier) > 0 && round < maxRounds; round++ {
		sample := frontier
		if len(sample) > sampleSize {
			sample = sample[:sampleSize]
		}
		known, err := knownIn(sample)
		if err != nil {
			return nil, nil, err
		}

		var nextFrontier []nodeid.ID
		for i, n := range sample {
			visited[n] = true
			if known[i] {
				stack := []nodeid.ID{n}
				for len(stack) > 0 {
					c := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					if common[c] {
						continue
					}
					common[c] = true
					visited[c] = true
					ps, err := parentsOf(c)
					if err != nil {
						return nil, nil, err
					}
					for _, p := range ps {
						if !p.IsNull() {
							stack = append(stack, p)
						}
					}
				}
				continue
			}
			missing[n] = true
			parents, err := parentsOf(n)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range parents {
				if !p.IsNull() && !visited[p] {
					nextFrontier = append(nextFrontier, p)
				}
			}
		}
		if len(sample) < len(frontier) {
			nextFrontier = append(nextFrontier, frontier[len(sample):]...)
		}
		frontier = dedupe(nextFrontier)
	}
	return common, missing, nil
}

func dedupe(nodes []nodeid.ID) []nodeid.ID {
	seen := map[nodeid.ID]bool{}
	out := make([]nodeid.ID, 0, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func keys(m map[nodeid.ID]bool) []nodeid.ID {
	out := make([]nodeid.ID, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	return out
}
