package revlog

import (
	"fmt"
	"sort"

	"github.com/go-revlog/revlog/metrics"
	"github.com/go-revlog/revlog/nodeid"
	"github.com/sirupsen/logrus"
)

// Transactioner is the minimal surface a transaction handle exposes
// to a revlog: a place to record "this file had this length before I
// touched it" so it can be truncated back on abort (spec §4.6). A
// concrete *txn.Handle satisfies this without revlog needing to
// import package txn.
type Transactioner interface {
	JournalEntry(tag, path string, preLength int64)
}

// Policy is the write-path configuration a Revlog needs: how
// aggressively to build delta chains and when to fall back to a
// snapshot (spec §4.1 "Delta selection on write").
type Policy struct {
	GeneralDelta  bool
	MaxChainLen   int
	SnapshotRatio float64
	Compress      bool
}

// DefaultPolicy matches config.Config's own defaults.
var DefaultPolicy = Policy{GeneralDelta: true, MaxChainLen: 1000, SnapshotRatio: 0.25, Compress: true}

// Revlog is one append-only delta-compressed log: the engine behind
// changelog, manifest, and filelog.
type Revlog struct {
	Tag      string // vfs tag for journal bookkeeping, e.g. "store"
	DataPath string // path recorded in journal entries

	index  *Index
	data   *DataStore
	policy Policy
	log    *logrus.Logger

	cacheRev  int
	cacheText []byte
	cacheOK   bool
}

// New creates a Revlog over an already-loaded index and data store.
func New(tag, dataPath string, index *Index, data *DataStore, policy Policy, log *logrus.Logger) *Revlog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Revlog{Tag: tag, DataPath: dataPath, index: index, data: data, policy: policy, log: log}
}

// Len returns the number of revisions.
func (r *Revlog) Len() int { return r.index.Len() }

// Rollback discards every in-memory revision at or beyond toRev. The
// data file's own bytes are restored separately by the transaction's
// journal (each AddRevision/AddGroup call already records a
// JournalEntry against r.DataPath); this only undoes the in-process
// index state an aborted transaction appended, so a repository object
// that survives a failed commit doesn't keep serving revisions whose
// backing bytes were just truncated away.
func (r *Revlog) Rollback(toRev int) {
	if toRev < r.index.Len() {
		r.index.Truncate(toRev)
	}
	r.cacheOK = false
}

// IndexBytes packs the full in-memory index back to its on-disk form,
// for a caller (the repo package) that owns when to persist it; the
// index itself has no append-in-place file of its own the way the
// data store does, so it's written out in full at transaction commit.
func (r *Revlog) IndexBytes() []byte {
	return r.index.Marshal()
}

// Node returns the node for rev.
func (r *Revlog) Node(rev int) (nodeid.ID, error) {
	n, ok := r.index.Node(rev)
	if !ok {
		return nodeid.ID{}, hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	return n, nil
}

// Rev returns the revision number for a node.
func (r *Revlog) Rev(n nodeid.ID) (int, error) {
	rev, ok := r.index.Rev(n)
	if !ok {
		return 0, hgerrLookup(n.Hex(), r.Tag, "no such node")
	}
	return rev, nil
}

// Parents returns the parent nodes of n.
func (r *Revlog) Parents(n nodeid.ID) (nodeid.ID, nodeid.ID, error) {
	rev, err := r.Rev(n)
	if err != nil {
		return nodeid.ID{}, nodeid.ID{}, err
	}
	p1, p2, err := r.ParentRevs(rev)
	if err != nil {
		return nodeid.ID{}, nodeid.ID{}, err
	}
	p1n, _ := r.Node(p1)
	p2n, _ := r.Node(p2)
	return p1n, p2n, nil
}

// ParentRevs returns (p1, p2) as revision numbers; nullRev (-1) means
// no parent.
func (r *Revlog) ParentRevs(rev int) (int, int, error) {
	p1, p2, ok := r.index.ParentRevs(rev)
	if !ok {
		return 0, 0, hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	return p1, p2, nil
}

// LinkRev returns the link-revision of rev (spec §4.2).
func (r *Revlog) LinkRev(rev int) (int, error) {
	lr, ok := r.index.LinkRev(rev)
	if !ok {
		return 0, hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	return lr, nil
}

// Flags returns the flags word of rev.
func (r *Revlog) Flags(rev int) (uint16, error) {
	e, ok := r.index.Entry(rev)
	if !ok {
		return 0, hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	if rev == 0 {
		// Revision 0's raw flags word doubles as the format header; the
		// real per-revision flags for rev 0 are always 0 in this
		// encoding (see Index.Marshal).
		return 0, nil
	}
	return e.Flags, nil
}

func (r *Revlog) chainBaseText(rev int) ([]byte, error) {
	if r.cacheOK && r.cacheRev == rev {
		return r.cacheText, nil
	}
	var chain []int
	cur := rev
	for {
		chain = append(chain, cur)
		if r.cacheOK && r.cacheRev == cur {
			break
		}
		e, ok := r.index.Entry(cur)
		if !ok {
			return nil, hgerrLookup(fmt.Sprintf("rev %d", cur), r.Tag, "no such revision")
		}
		if int(e.BaseRev) == cur {
			break // snapshot
		}
		cur = int(e.BaseRev)
	}

	// chain is ordered rev .. snapshot (or cached rev), walk it backwards.
	last := chain[len(chain)-1]
	var text []byte
	var err error
	if r.cacheOK && r.cacheRev == last {
		text = r.cacheText
	} else {
		text, err = r.readStored(last)
		if err != nil {
			return nil, err
		}
	}
	for i := len(chain) - 2; i >= 0; i-- {
		stepRev := chain[i]
		deltaBytes, err := r.readStored(stepRev)
		if err != nil {
			return nil, err
		}
		delta, err := DecodeDelta(deltaBytes)
		if err != nil {
			return nil, fmt.Errorf("revlog: %s: decoding delta at rev %d: %w", r.Tag, stepRev, err)
		}
		text, err = Apply(text, delta)
		if err != nil {
			return nil, fmt.Errorf("revlog: %s: applying delta at rev %d: %w", r.Tag, stepRev, err)
		}
	}
	return text, nil
}

func (r *Revlog) readStored(rev int) ([]byte, error) {
	e, ok := r.index.Entry(rev)
	if !ok {
		return nil, hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	return r.data.Read(e.Offset, e.CompressedSize, e.UncompressedSize)
}

// Revision reconstructs revision rev, verifies its hash, and — unless
// raw is true — runs it through the flag-processor registry (spec
// §4.1 step 5).
func (r *Revlog) Revision(rev int, raw bool) ([]byte, error) {
	metrics.RevlogReads.WithLabelValues(r.Tag).Inc()
	text, err := r.chainBaseText(rev)
	if err != nil {
		return nil, err
	}
	e, ok := r.index.Entry(rev)
	if !ok {
		return nil, hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	p1, _ := r.Node(int(e.P1Rev))
	p2, _ := r.Node(int(e.P2Rev))
	flags := e.Flags
	if rev == 0 {
		flags = 0
	}

	var out []byte
	var hashCovers bool
	if flags != 0 {
		out, hashCovers, err = applyFlags(text, flags)
		if err != nil {
			return nil, err
		}
	}

	// A processor that declares HashCovers (e.g. a censored revision's
	// tombstone) has already certified its own output in place of the
	// node hash, which text can no longer satisfy once censored.
	if !hashCovers {
		got := nodeid.Hash(p1, p2, text)
		if got != e.Node {
			return nil, &HashMismatchError{Index: r.Tag, Rev: int64(rev), Expected: e.Node.Hex(), Got: got.Hex()}
		}
	}

	r.cacheRev, r.cacheText, r.cacheOK = rev, text, true

	if raw || flags == 0 {
		return text, nil
	}
	return out, nil
}

// Censor irrecoverably replaces rev's stored content with tombstone and
// sets FlagCensored, the write side of flagprocessor's censor
// processor (spec §9 "a revision can be censored after the fact").
// Mercurial's own censor has the same restriction this does: a revision
// other revisions hold deltas against can't be censored without
// rewriting those deltas' base text, which Censor does not attempt, so
// it refuses when any later revision in this log is delta-encoded
// against rev.
func (r *Revlog) Censor(rev int, tombstone []byte) error {
	if _, ok := r.index.Entry(rev); !ok {
		return hgerrLookup(fmt.Sprintf("rev %d", rev), r.Tag, "no such revision")
	}
	for other := rev + 1; other < r.index.Len(); other++ {
		oe, _ := r.index.Entry(other)
		if int(oe.BaseRev) == rev {
			return fmt.Errorf("revlog: %s: rev %d is a delta base for rev %d, censor refused", r.Tag, rev, other)
		}
	}

	offset, compressedSize, err := r.data.Append(tombstone, false)
	if err != nil {
		return fmt.Errorf("revlog: %s: censoring rev %d: %w", r.Tag, rev, err)
	}
	r.index.SetPayload(rev, offset, compressedSize, int32(len(tombstone)), int32(rev))
	e, _ := r.index.Entry(rev)
	r.index.SetFlags(rev, e.Flags|FlagCensored)

	if r.cacheOK && r.cacheRev == rev {
		r.cacheOK = false
	}
	return nil
}

// RevisionByNode resolves n to a revision and reconstructs it.
func (r *Revlog) RevisionByNode(n nodeid.ID, raw bool) ([]byte, error) {
	rev, err := r.Rev(n)
	if err != nil {
		return nil, err
	}
	return r.Revision(rev, raw)
}

// Revdiff computes a delta from revision a to revision b.
func (r *Revlog) Revdiff(a, b int) ([]byte, error) {
	ta, err := r.Revision(a, true)
	if err != nil {
		return nil, err
	}
	tb, err := r.Revision(b, true)
	if err != nil {
		return nil, err
	}
	return Diff(ta, tb).Encode(), nil
}

func (r *Revlog) chainLen(rev int) int {
	n := 1
	for {
		e, ok := r.index.Entry(rev)
		if !ok || int(e.BaseRev) == rev {
			return n
		}
		rev = int(e.BaseRev)
		n++
	}
}

// pickDeltaBase implements the policy of spec §4.1 "Delta selection
// on write": prefer p1 under general-delta, fall back to prev, and
// give up (forcing a snapshot, represented as nullRev) once the chain
// would exceed MaxChainLen.
func (r *Revlog) pickDeltaBase(p1rev, p2rev int) int {
	prevRev := r.Len() - 1
	candidate := int(nullRev)
	if prevRev >= 0 {
		candidate = prevRev
	}
	if r.policy.GeneralDelta && p1rev != int(nullRev) {
		candidate = p1rev
	}
	if candidate == int(nullRev) {
		return int(nullRev)
	}
	if r.chainLen(candidate)+1 > r.policy.MaxChainLen {
		if prevRev != candidate && prevRev >= 0 && r.chainLen(prevRev)+1 <= r.policy.MaxChainLen {
			return prevRev
		}
		return int(nullRev)
	}
	return candidate
}

// AddRevision appends text as a new revision with the given parents
// and link-revision, choosing a delta base per Policy. It is
// idempotent on node identity (spec property 6): adding the same
// (text, p1, p2) twice returns the existing node without duplicating
// an entry.
func (r *Revlog) AddRevision(text []byte, p1, p2 nodeid.ID, link int, tx Transactioner) (nodeid.ID, error) {
	node := nodeid.Hash(p1, p2, text)
	if existing, ok := r.index.Rev(node); ok {
		return r.index.entries[existing].Node, nil
	}

	rev := r.Len()
	p1rev, _ := r.index.Rev(p1)
	p2rev, _ := r.index.Rev(p2)
	if p1.IsNull() {
		p1rev = int(nullRev)
	}
	if p2.IsNull() {
		p2rev = int(nullRev)
	}

	baseRev := r.pickDeltaBase(p1rev, p2rev)
	var payload []byte
	storedAsDelta := false
	if baseRev != int(nullRev) {
		baseText, err := r.chainBaseText(baseRev)
		if err != nil {
			return nodeid.ID{}, err
		}
		delta := Diff(baseText, text)
		encoded := delta.Encode()
		if float64(len(encoded)) <= r.policy.SnapshotRatio*float64(len(text)) {
			payload = encoded
			storedAsDelta = true
		}
	}
	if !storedAsDelta {
		baseRev = rev
		payload = text
	}

	preLen, err := r.data.Len()
	if err != nil {
		return nodeid.ID{}, err
	}
	if tx != nil {
		tx.JournalEntry(r.Tag, r.DataPath, preLen)
	}
	offset, compressedSize, err := r.data.Append(payload, r.policy.Compress)
	if err != nil {
		return nodeid.ID{}, err
	}

	entry := IndexEntry{
		Offset:           offset,
		CompressedSize:   compressedSize,
		UncompressedSize: int32(len(payload)),
		BaseRev:          int32(baseRev),
		LinkRev:          int32(link),
		P1Rev:            int32(p1rev),
		P2Rev:            int32(p2rev),
		Node:             node,
	}
	r.index.Append(entry)
	r.cacheRev, r.cacheText, r.cacheOK = rev, text, true
	metrics.RevlogWrites.WithLabelValues(r.Tag).Inc()
	return node, nil
}

// GroupRevision is one already-decoded changegroup entry ready for
// ingestion; package changegroup resolves its wire-format-specific
// delta-base convention (explicit for v2/v3, previous-in-stream for
// v1) into DeltaBase before calling AddGroup, so AddGroup itself is
// version-agnostic (spec §4.4 "Unpacker").
type GroupRevision struct {
	Node      nodeid.ID
	P1, P2    nodeid.ID
	DeltaBase nodeid.ID // Null means this entry is a full snapshot
	Delta     []byte    // encoded Delta bytes, or full text if DeltaBase is Null
	LinkNode  nodeid.ID
	Flags     uint16
}

// AddGroup bulk-appends revisions from a changegroup stream. Each
// entry's link is resolved from LinkNode through linkMapper (the
// changelog node -> changelog rev map), deferring to the caller
// whether that's the fastpath (manifest-node -> introducing
// changelog rev) or the slow per-file map built to avoid
// linkrev-shadowing (spec §4.4 "Progress, fastpath, safety").
func (r *Revlog) AddGroup(revisions []GroupRevision, linkMapper func(nodeid.ID) (int, error), tx Transactioner) ([]nodeid.ID, error) {
	var added []nodeid.ID
	for _, gr := range revisions {
		link, err := linkMapper(gr.LinkNode)
		if err != nil {
			return added, fmt.Errorf("revlog: %s: resolving link for %s: %w", r.Tag, gr.Node.Hex(), err)
		}

		if existing, ok := r.index.Rev(gr.Node); ok {
			added = append(added, r.index.entries[existing].Node)
			continue
		}

		p1rev, ok1 := r.index.Rev(gr.P1)
		if !ok1 {
			p1rev = int(nullRev)
		}
		p2rev, ok2 := r.index.Rev(gr.P2)
		if !ok2 {
			p2rev = int(nullRev)
		}

		rev := r.Len()
		var text []byte
		var baseRev int
		var payload []byte
		// DeltaBase == Null means gr.Delta is the full text of a
		// snapshot revision, not a delta against an empty base.
		if baseRev2, ok := r.index.Rev(gr.DeltaBase); ok && !gr.DeltaBase.IsNull() {
			baseText, err := r.chainBaseText(baseRev2)
			if err != nil {
				return added, err
			}
			delta, err := DecodeDelta(gr.Delta)
			if err != nil {
				return added, fmt.Errorf("revlog: %s: decoding delta for %s: %w", r.Tag, gr.Node.Hex(), err)
			}
			text, err = Apply(baseText, delta)
			if err != nil {
				return added, fmt.Errorf("revlog: %s: applying delta for %s: %w", r.Tag, gr.Node.Hex(), err)
			}
			baseRev = baseRev2
			payload = gr.Delta
		} else {
			text = gr.Delta
			baseRev = rev
			payload = text
		}

		got := nodeid.Hash(gr.P1, gr.P2, text)
		if got != gr.Node {
			return added, &HashMismatchError{Index: r.Tag, Rev: int64(rev), Expected: gr.Node.Hex(), Got: got.Hex()}
		}

		preLen, err := r.data.Len()
		if err != nil {
			return added, err
		}
		if tx != nil {
			tx.JournalEntry(r.Tag, r.DataPath, preLen)
		}
		offset, compressedSize, err := r.data.Append(payload, r.policy.Compress)
		if err != nil {
			return added, err
		}
		entry := IndexEntry{
			Offset:           offset,
			Flags:            gr.Flags,
			CompressedSize:   compressedSize,
			UncompressedSize: int32(len(payload)),
			BaseRev:          int32(baseRev),
			LinkRev:          int32(link),
			P1Rev:            int32(p1rev),
			P2Rev:            int32(p2rev),
			Node:             gr.Node,
		}
		r.index.Append(entry)
		r.cacheRev, r.cacheText, r.cacheOK = rev, text, true
		metrics.RevlogWrites.WithLabelValues(r.Tag).Inc()
		added = append(added, gr.Node)
	}
	return added, nil
}

// Ancestors returns every ancestor revision of revs (in descending
// order, highest rev first), stopping at stopRev (exclusive lower
// bound) and including the starting revs themselves iff inclusive.
func (r *Revlog) Ancestors(revs []int, stopRev int, inclusive bool) []int {
	seen := map[int]bool{}
	var stack []int
	for _, rv := range revs {
		if inclusive {
			stack = append(stack, rv)
		} else {
			p1, p2, ok := r.index.ParentRevs(rv)
			if ok {
				if p1 != int(nullRev) {
					stack = append(stack, p1)
				}
				if p2 != int(nullRev) {
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
		p1, p2, ok := r.index.ParentRevs(rv)
		if !ok {
			continue
		}
		if p1 != int(nullRev) && !seen[p1] {
			stack = append(stack, p1)
		}
		if p2 != int(nullRev) && !seen[p2] {
			stack = append(stack, p2)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Descendant reports whether b is a (possibly indirect) descendant of
// a, i.e. a is an ancestor of b.
func (r *Revlog) Descendant(a, b int) bool {
	if a == b {
		return true
	}
	for _, rv := range r.Ancestors([]int{b}, -1, true) {
		if rv == a {
			return true
		}
	}
	return false
}

// CommonAncestorsHeads returns the heads of the set of revisions that
// are ancestors of both a and b.
func (r *Revlog) CommonAncestorsHeads(a, b nodeid.ID) ([]nodeid.ID, error) {
	arev, err := r.Rev(a)
	if err != nil {
		return nil, err
	}
	brev, err := r.Rev(b)
	if err != nil {
		return nil, err
	}
	aset := map[int]bool{}
	for _, rv := range r.Ancestors([]int{arev}, -1, true) {
		aset[rv] = true
	}
	var common []int
	for _, rv := range r.Ancestors([]int{brev}, -1, true) {
		if aset[rv] {
			common = append(common, rv)
		}
	}
	commonSet := map[int]bool{}
	for _, rv := range common {
		commonSet[rv] = true
	}
	var heads []nodeid.ID
	for _, rv := range common {
		p1, p2, _ := r.index.ParentRevs(rv)
		isParent := false
		for _, c := range common {
			if c == rv {
				continue
			}
			cp1, cp2, _ := r.index.ParentRevs(c)
			if cp1 == rv || cp2 == rv {
				isParent = true
				break
			}
		}
		_ = p1
		_ = p2
		if !isParent {
			n, _ := r.Node(rv)
			heads = append(heads, n)
		}
	}
	return heads, nil
}

// Heads returns the revisions within [start, stop] (stop exclusive
// list of upper-bound revs, nil meaning Len()-1) that have no child
// also within the set.
func (r *Revlog) Heads(start []int, stop []int) ([]nodeid.ID, error) {
	startSet := map[int]bool{}
	for _, rv := range start {
		for _, a := range r.Ancestors([]int{rv}, -1, true) {
			startSet[a] = true
		}
	}
	stopSet := map[int]bool{}
	for _, rv := range stop {
		stopSet[rv] = true
	}
	isChild := map[int]bool{}
	n := r.Len()
	for rv := 0; rv < n; rv++ {
		if len(start) > 0 && !startSet[rv] {
			continue
		}
		if stopSet[rv] {
			continue
		}
		p1, p2, _ := r.index.ParentRevs(rv)
		if p1 != int(nullRev) {
			isChild[p1] = true
		}
		if p2 != int(nullRev) {
			isChild[p2] = true
		}
	}
	var heads []nodeid.ID
	for rv := 0; rv < n; rv++ {
		if len(start) > 0 && !startSet[rv] {
			continue
		}
		if stopSet[rv] {
			continue
		}
		if !isChild[rv] {
			node, _ := r.Node(rv)
			heads = append(heads, node)
		}
	}
	return heads, nil
}

func applyFlags(raw []byte, flags uint16) ([]byte, bool, error) {
	return applyFlagsImpl(raw, flags)
}
