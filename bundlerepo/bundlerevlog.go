// Package bundlerepo implements the bundle-repo overlay of spec
// §4.5: a revlog whose first N revisions are an on-disk repository's
// and whose tail is read on demand from a bundle file by recorded
// offset, so the contents of a changegroup bundle can be browsed
// exactly like an ordinary repository without first unbundling it.
package bundlerepo

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-revlog/revlog/flagprocessor"
	"github.com/go-revlog/revlog/hgerr"
	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

// SyntheticEntry is one bundle-tail revision: its identity, its delta
// base (which may itself be on-disk or in-bundle), and where in the
// bundle file its payload bytes live.
type SyntheticEntry struct {
	Node      nodeid.ID
	P1, P2    nodeid.ID
	DeltaBase nodeid.ID // Null means Offset/Length name a full-text snapshot
	LinkRev   int
	Flags     uint16
	Offset    int64
	Length    int64
}

// BundleRevlog composes an on-disk revlog with a bundle file's tail
// revisions (spec §4.5 "Contract"). Revisions ≤ RepoTipRev route to
// the underlying revlog; revisions beyond it are synthetic.
type BundleRevlog struct {
	base       *revlog.Revlog
	repoTipRev int
	bundle     io.ReaderAt
	synth      []SyntheticEntry
	nodeToRev  map[nodeid.ID]int
}

// Open composes base (the on-disk revlog, possibly empty) with the
// synthetic tail revisions decoded from a changegroup read against
// bundle. repoTipRev is the last revision that came from base; it is
// normally base.Len()-1 but is taken explicitly since a caller may
// choose to expose fewer of the on-disk revisions.
func Open(base *revlog.Revlog, repoTipRev int, bundle io.ReaderAt, synth []SyntheticEntry) *BundleRevlog {
	nodeToRev := make(map[nodeid.ID]int, len(synth))
	for i, e := range synth {
		nodeToRev[e.Node] = repoTipRev + 1 + i
	}
	return &BundleRevlog{base: base, repoTipRev: repoTipRev, bundle: bundle, synth: synth, nodeToRev: nodeToRev}
}

// RepoTipRev returns the last revision sourced from the on-disk
// store; every revision beyond it is bundle-sourced.
func (b *BundleRevlog) RepoTipRev() int { return b.repoTipRev }

// Len returns the total revision count across base and the bundle
// tail.
func (b *BundleRevlog) Len() int { return b.repoTipRev + 1 + len(b.synth) }

func (b *BundleRevlog) synthAt(rev int) (SyntheticEntry, bool) {
	i := rev - b.repoTipRev - 1
	if i < 0 || i >= len(b.synth) {
		return SyntheticEntry{}, false
	}
	return b.synth[i], true
}

// Node returns the node identity for rev.
func (b *BundleRevlog) Node(rev int) (nodeid.ID, error) {
	if rev <= b.repoTipRev {
		return b.base.Node(rev)
	}
	e, ok := b.synthAt(rev)
	if !ok {
		return nodeid.ID{}, fmt.Errorf("bundlerepo: no such revision %d", rev)
	}
	return e.Node, nil
}

// Rev resolves a node to its revision number, on-disk or in-bundle.
func (b *BundleRevlog) Rev(n nodeid.ID) (int, error) {
	if n.IsNull() {
		return -1, nil
	}
	if rev, err := b.base.Rev(n); err == nil {
		return rev, nil
	}
	if rev, ok := b.nodeToRev[n]; ok {
		return rev, nil
	}
	return 0, hgerr.NewLookupError(n.Hex(), "bundlerepo", "no match found")
}

// ParentRevs returns rev's parents as revision numbers.
func (b *BundleRevlog) ParentRevs(rev int) (int, int, error) {
	if rev <= b.repoTipRev {
		return b.base.ParentRevs(rev)
	}
	e, ok := b.synthAt(rev)
	if !ok {
		return -1, -1, fmt.Errorf("bundlerepo: no such revision %d", rev)
	}
	p1, err := b.Rev(e.P1)
	if err != nil {
		p1 = -1
	}
	p2, err := b.Rev(e.P2)
	if err != nil {
		p2 = -1
	}
	return p1, p2, nil
}

// LinkRev returns rev's link-revision.
func (b *BundleRevlog) LinkRev(rev int) (int, error) {
	if rev <= b.repoTipRev {
		return b.base.LinkRev(rev)
	}
	e, ok := b.synthAt(rev)
	if !ok {
		return -1, fmt.Errorf("bundlerepo: no such revision %d", rev)
	}
	return e.LinkRev, nil
}

// Flags returns rev's stored flag bits.
func (b *BundleRevlog) Flags(rev int) (uint16, error) {
	if rev <= b.repoTipRev {
		return b.base.Flags(rev)
	}
	e, ok := b.synthAt(rev)
	if !ok {
		return 0, fmt.Errorf("bundlerepo: no such revision %d", rev)
	}
	return e.Flags, nil
}

// chainText reconstructs rev's raw stored text, recursing through the
// delta chain whether it crosses the on-disk/bundle boundary or not.
func (b *BundleRevlog) chainText(rev int) ([]byte, error) {
	if rev <= b.repoTipRev {
		return b.base.Revision(rev, true)
	}
	e, ok := b.synthAt(rev)
	if !ok {
		return nil, fmt.Errorf("bundlerepo: no such revision %d", rev)
	}
	payload := make([]byte, e.Length)
	if _, err := b.bundle.ReadAt(payload, e.Offset); err != nil {
		return nil, fmt.Errorf("bundlerepo: reading bundle tail for %s: %w", e.Node.Hex(), err)
	}
	if e.DeltaBase.IsNull() {
		return payload, nil
	}
	baseRev, err := b.Rev(e.DeltaBase)
	if err != nil {
		return nil, err
	}
	baseText, err := b.chainText(baseRev)
	if err != nil {
		return nil, err
	}
	delta, err := revlog.DecodeDelta(payload)
	if err != nil {
		return nil, fmt.Errorf("bundlerepo: decoding delta for %s: %w", e.Node.Hex(), err)
	}
	return revlog.Apply(baseText, delta)
}

// Revision reconstructs and, unless raw, un-flag-processes rev's
// content, matching revlog.Revlog.Revision's contract (spec §4.5
// "behaves exactly like an ordinary revlog for read operations").
func (b *BundleRevlog) Revision(rev int, raw bool) ([]byte, error) {
	text, err := b.chainText(rev)
	if err != nil {
		return nil, err
	}
	if raw {
		return text, nil
	}
	flags, err := b.Flags(rev)
	if err != nil {
		return nil, err
	}
	out, _, err := flagprocessor.Apply(text, flags)
	return out, err
}

// RevisionByNode resolves node to a revision and reconstructs it.
func (b *BundleRevlog) RevisionByNode(n nodeid.ID, raw bool) ([]byte, error) {
	rev, err := b.Rev(n)
	if err != nil {
		return nil, err
	}
	return b.Revision(rev, raw)
}

// Ancestors mirrors revlog.Revlog.Ancestors across both ranges.
func (b *BundleRevlog) Ancestors(revs []int, stopRev int, inclusive bool) []int {
	seen := map[int]bool{}
	var stack []int
	for _, rv := range revs {
		if inclusive {
			stack = append(stack, rv)
		} else {
			p1, p2, err := b.ParentRevs(rv)
			if err == nil {
				if p1 >= 0 {
					stack = append(stack, p1)
				}
				if p2 >= 0 {
					stack = append(stack, p2)
				}
			}
		}
	}
	var out []int
	for len(stack) > 0 {
		rv := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if rv <= stopRev || seen[rv] {
			continue
		}
		seen[rv] = true
		out = append(out, rv)
		p1, p2, err := b.ParentRevs(rv)
		if err != nil {
			continue
		}
		if p1 >= 0 && !seen[p1] {
			stack = append(stack, p1)
		}
		if p2 >= 0 && !seen[p2] {
			stack = append(stack, p2)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Heads returns the revisions with no child, across the whole
// composed revlog.
func (b *BundleRevlog) Heads() ([]nodeid.ID, error) {
	n := b.Len()
	isChild := make([]bool, n)
	for rv := 0; rv < n; rv++ {
		p1, p2, err := b.ParentRevs(rv)
		if err != nil {
			return nil, err
		}
		if p1 >= 0 {
			isChild[p1] = true
		}
		if p2 >= 0 {
			isChild[p2] = true
		}
	}
	var heads []nodeid.ID
	for rv := 0; rv < n; rv++ {
		if !isChild[rv] {
			node, err := b.Node(rv)
			if err != nil {
				return nil, err
			}
			heads = append(heads, node)
		}
	}
	return heads, nil
}

// AddRevision, AddGroup, Strip, and Checksize all fail: a bundle-repo
// overlay is read-only (spec §4.5 "Write operations... fail with
// NotSupported").
func (b *BundleRevlog) AddRevision(nodeid.ID, nodeid.ID, nodeid.ID, []byte, int) error {
	return &hgerr.NotSupported{Op: "addrevision on a bundle-repo overlay"}
}

func (b *BundleRevlog) AddGroup() error {
	return &hgerr.NotSupported{Op: "addgroup on a bundle-repo overlay"}
}

func (b *BundleRevlog) Strip(int) error {
	return &hgerr.NotSupported{Op: "strip on a bundle-repo overlay"}
}

func (b *BundleRevlog) Checksize() error {
	return &hgerr.NotSupported{Op: "checksize on a bundle-repo overlay"}
}
