package changegroup

import (
	"io"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

const nullRev = -1

// writeGroup emits entries as a sequence of length-prefixed chunks,
// each carrying a per-version header followed by its delta bytes, and
// terminates with a zero-length chunk (spec §4.4 "A group is a
// sequence of length-prefixed chunks terminated by a zero-length
// chunk").
func writeGroup(w io.Writer, version Version, entries []DeltaEntry) error {
	for _, e := range entries {
		header, err := encodeHeader(version, e)
		if err != nil {
			return err
		}
		chunk := append(header, e.Delta...)
		if err := writeChunk(w, chunk); err != nil {
			return err
		}
	}
	return writeEnd(w)
}

// readGroup reads chunks until the end-of-group marker, decoding each
// into a DeltaEntry with DeltaBase fully resolved (v1's implicit
// previous-in-stream convention resolved here, once, so downstream
// code never special-cases version).
func readGroup(r io.Reader, version Version) ([]DeltaEntry, error) {
	var entries []DeltaEntry
	for {
		chunk, err := readChunk(r)
		if err == ErrEndOfGroup {
			break
		}
		if err != nil {
			return nil, err
		}
		e, delta, err := decodeHeader(version, chunk)
		if err != nil {
			return nil, err
		}
		e.Delta = delta
		if version == V1 {
			if len(entries) == 0 {
				e.DeltaBase = e.P1
			} else {
				e.DeltaBase = entries[len(entries)-1].Node
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// toGroupRevisions adapts wire DeltaEntry values to revlog's
// version-agnostic ingestion type.
func toGroupRevisions(entries []DeltaEntry) []revlog.GroupRevision {
	out := make([]revlog.GroupRevision, len(entries))
	for i, e := range entries {
		out[i] = revlog.GroupRevision{
			Node:      e.Node,
			P1:        e.P1,
			P2:        e.P2,
			DeltaBase: e.DeltaBase,
			Delta:     e.Delta,
			LinkNode:  e.LinkNode,
			Flags:     e.Flags,
		}
	}
	return out
}

// buildEntries reads revs (already in the order they should be sent)
// out of rl and builds their wire DeltaEntry form: v1 deltas are
// always computed against the previous entry in revs (or p1 for the
// first), v2/v3 deltas are computed against p1 when present,
// falling back to a full-text snapshot when p1 is null (spec §4.4
// "Per-delta header" and §4.1 "Delta selection on write").
// linkNode supplies the changelog node to record as each entry's
// linknode: identity for the changelog group itself, the introducing
// changelog node for manifest/file groups (spec §4.4 step 4's
// fastpath/slowpath distinction lives in what the caller passes here).
func buildEntries(rl *revlog.Revlog, revs []int, version Version, linkNode func(rev int) (nodeid.ID, error)) ([]DeltaEntry, error) {
	entries := make([]DeltaEntry, 0, len(revs))
	for i, rev := range revs {
		node, err := rl.Node(rev)
		if err != nil {
			return nil, err
		}
		p1, p2, err := rl.Parents(node)
		if err != nil {
			return nil, err
		}
		var baseRev int
		if version == V1 {
			if i == 0 {
				baseRev = revOrNull(rl, p1)
			} else {
				baseRev = revs[i-1]
			}
		} else {
			baseRev = revOrNull(rl, p1)
		}

		var deltaBytes []byte
		var deltaBaseNode nodeid.ID
		if baseRev == nullRev {
			text, err := rl.Revision(rev, true)
			if err != nil {
				return nil, err
			}
			deltaBytes = text
			deltaBaseNode = nodeid.Null
		} else {
			diff, err := rl.Revdiff(baseRev, rev)
			if err != nil {
				return nil, err
			}
			deltaBytes = diff
			deltaBaseNode, err = rl.Node(baseRev)
			if err != nil {
				return nil, err
			}
		}

		ln, err := linkNode(rev)
		if err != nil {
			return nil, err
		}
		flags, err := rl.Flags(rev)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DeltaEntry{
			Node:      node,
			P1:        p1,
			P2:        p2,
			DeltaBase: deltaBaseNode,
			LinkNode:  ln,
			Flags:     flags,
			Delta:     deltaBytes,
		})
	}
	return entries, nil
}

func revOrNull(rl *revlog.Revlog, n nodeid.ID) int {
	if n.IsNull() {
		return nullRev
	}
	rev, err := rl.Rev(n)
	if err != nil {
		return nullRev
	}
	return rev
}
