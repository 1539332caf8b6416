// Package peer implements the RPC contracts of spec §6 ("Peer RPCs
// (contracts, not wire)"): heads, known, branchmap, getbundle,
// unbundle, pushkey, listkeys, lookup. These are specified only as
// contracts, independent of transport, so Peer is a plain Go
// interface and LocalPeer is the in-process implementation a
// same-process exchange (or a future transport adapter) drives.
package peer

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/go-revlog/revlog/changegroup"
	"github.com/go-revlog/revlog/changelog"
	"github.com/go-revlog/revlog/filelog"
	"github.com/go-revlog/revlog/manifest"
	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/phases"
	"github.com/go-revlog/revlog/txn"
)

// Peer is the contract spec §6 lists. bundlecaps and the "**opts"
// grab-bag are left to the caller to fold into heads/common — this
// core only needs the node sets, not capability negotiation.
type Peer interface {
	Heads() ([]nodeid.ID, error)
	Known(nodes []nodeid.ID) ([]bool, error)
	BranchMap() (map[string][]nodeid.ID, error)
	GetBundle(w io.Writer, version changegroup.Version, heads, common []nodeid.ID) error
	Unbundle(r io.Reader, version changegroup.Version, heads []nodeid.ID) (changegroup.Result, error)
	PushKey(ns, key, old, new string) (bool, error)
	ListKeys(ns string) (map[string]string, error)
	Lookup(key string) (nodeid.ID, error)
}

// TxnFactory opens a fresh transaction rooted at a journal path of
// the caller's choosing; LocalPeer.Unbundle begins and closes it.
type TxnFactory func() (*txn.Transaction, error)

// LocalPeer answers Peer RPCs against an already-open repository's
// revlogs: no network, no subprocess, the same shape a future
// wireprotocol server would sit in front of.
type LocalPeer struct {
	Changelog  *changelog.Changelog
	Manifest   *manifest.Manifest
	Filelog    func(path string) (*filelog.Filelog, error)
	Phases     *phases.Store
	NewTxn     TxnFactory
	Log        *logrus.Logger

	mu       sync.Mutex
	bookmark map[string]map[string]string // namespace -> key -> value, for anything other than "phases"
}

// New creates a LocalPeer over the given revlogs.
func New(cl *changelog.Changelog, mf *manifest.Manifest, fl func(path string) (*filelog.Filelog, error), ph *phases.Store, newTxn TxnFactory, log *logrus.Logger) *LocalPeer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalPeer{
		Changelog: cl,
		Manifest:  mf,
		Filelog:   fl,
		Phases:    ph,
		NewTxn:    newTxn,
		Log:       log,
		bookmark:  map[string]map[string]string{},
	}
}

// Heads returns the changelog's current heads.
func (p *LocalPeer) Heads() ([]nodeid.ID, error) {
	return p.Changelog.Heads(nil, nil)
}

// Known reports, for each node, whether it resolves to a changelog
// revision here.
func (p *LocalPeer) Known(nodes []nodeid.ID) ([]bool, error) {
	out := make([]bool, len(nodes))
	for i, n := range nodes {
		if _, err := p.Changelog.Rev(n); err == nil {
			out[i] = true
		}
	}
	return out, nil
}

// BranchMap has no branch concept in this core (spec's Non-goals
// exclude named branches from the revlog/changegroup layer); it
// reports every head under a single "default" branch, the minimal
// answer that satisfies callers expecting at least one entry.
func (p *LocalPeer) BranchMap() (map[string][]nodeid.ID, error) {
	heads, err := p.Heads()
	if err != nil {
		return nil, err
	}
	return map[string][]nodeid.ID{"default": heads}, nil
}

// Lookup resolves a full 40-digit hex node, present in the changelog,
// to a node ID; a shorter hex prefix is rejected.
func (p *LocalPeer) Lookup(key string) (nodeid.ID, error) {
	n, err := nodeid.FromHex(key)
	if err != nil {
		return nodeid.ID{}, err
	}
	if _, err := p.Changelog.Rev(n); err != nil {
		return nodeid.ID{}, err
	}
	return n, nil
}

// GetBundle assembles a changegroup covering every changelog
// ancestor of heads that is not already an ancestor of common, and
// streams it to w (spec §6 "getbundle(source, heads, common,
// bundlecaps, **opts) -> stream"). An empty heads means "all current
// heads"; common may be empty ("send everything").
func (p *LocalPeer) GetBundle(w io.Writer, version changegroup.Version, heads, common []nodeid.ID) error {
	if len(heads) == 0 {
		var err error
		heads, err = p.Heads()
		if err != nil {
			return err
		}
	}

	headRevs, err := revsOf(p.Changelog, heads)
	if err != nil {
		return err
	}
	commonRevs, err := revsOf(p.Changelog, common)
	if err != nil {
		return err
	}

	outgoing := map[int]bool{}
	for _, hr := range headRevs {
		for _, a := range p.Changelog.Ancestors([]int{hr}, -1, true) {
			outgoing[a] = true
		}
	}
	for _, cr := range commonRevs {
		for _, a := range p.Changelog.Ancestors([]int{cr}, -1, true) {
			delete(outgoing, a)
		}
	}

	clRevs := make([]int, 0, len(outgoing))
	for rv := range outgoing {
		clRevs = append(clRevs, rv)
	}
	sort.Ints(clRevs)

	manifestRevs := make([]int, 0, len(clRevs))
	fileRevs := map[string][]int{}
	fileLinkRevs := map[string]map[int]int{}
	seenFile := map[string]map[int]bool{}

	for _, rev := range clRevs {
		cs, err := p.Changelog.Read(rev)
		if err != nil {
			return err
		}
		mrev, err := p.Manifest.Rev(cs.Manifest)
		if err != nil {
			return err
		}
		manifestRevs = append(manifestRevs, mrev)

		mraw, err := p.Manifest.Revision(mrev, false)
		if err != nil {
			return err
		}
		entries, err := manifest.Decode(mraw)
		if err != nil {
			return err
		}

		for _, path := range cs.Files {
			fl, err := p.Filelog(path)
			if err != nil {
				return err
			}
			node := lookupPath(entries, path)
			if node.IsNull() {
				continue
			}
			frev, err := fl.Rev(node)
			if err != nil {
				return err
			}
			if seenFile[path] == nil {
				seenFile[path] = map[int]bool{}
			}
			if seenFile[path][frev] {
				continue
			}
			seenFile[path][frev] = true
			fileRevs[path] = append(fileRevs[path], frev)
			if fileLinkRevs[path] == nil {
				fileLinkRevs[path] = map[int]int{}
			}
			fileLinkRevs[path][frev] = rev
		}
	}
	for path := range fileRevs {
		sort.Ints(fileRevs[path])
	}

	src := changegroup.Source{Changelog: p.Changelog, Manifest: p.Manifest, Filelog: p.Filelog}
	spec := changegroup.Spec{
		ChangelogRevs: clRevs,
		ManifestRevs:  manifestRevs,
		FileRevs:      fileRevs,
		FileLinkRevs:  fileLinkRevs,
	}
	return changegroup.Pack(w, version, src, spec, p.Log)
}

// Unbundle reads a changegroup from r and applies it inside a fresh
// transaction, committing on success and aborting on any failure
// (spec §6 "unbundle(stream, heads, url) -> result").
func (p *LocalPeer) Unbundle(r io.Reader, version changegroup.Version, heads []nodeid.ID) (changegroup.Result, error) {
	tr, err := p.NewTxn()
	if err != nil {
		return changegroup.Result{}, err
	}
	if err := tr.Begin(); err != nil {
		return changegroup.Result{}, err
	}

	sink := changegroup.Sink{Changelog: p.Changelog, Manifest: p.Manifest, Filelog: p.Filelog, Tx: tr}
	result, err := changegroup.Unpack(r, version, sink, p.Log)
	if err != nil {
		if abortErr := tr.Abort(); abortErr != nil {
			return changegroup.Result{}, fmt.Errorf("unbundle failed (%w), and abort also failed: %v", err, abortErr)
		}
		return changegroup.Result{}, err
	}
	if err := tr.Close(); err != nil {
		return changegroup.Result{}, err
	}
	return result, nil
}

// PushKey applies a compare-and-swap to a namespaced key. The
// "phases" namespace is special-cased onto the phase store (key is a
// hex node, old/new are phase digit strings); every other namespace
// (bookmarks and the like) is a generic string map, matching spec
// §6's "pushkey(ns, key, old, new) -> bool" as a contract with no
// mandated namespace set beyond phases.
func (p *LocalPeer) PushKey(ns, key, old, new string) (bool, error) {
	if ns == "phases" {
		return p.pushPhase(key, old, new)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bookmark[ns] == nil {
		p.bookmark[ns] = map[string]string{}
	}
	if p.bookmark[ns][key] != old {
		return false, nil
	}
	p.bookmark[ns][key] = new
	return true, nil
}

func (p *LocalPeer) pushPhase(key, old, new string) (bool, error) {
	n, err := nodeid.FromHex(key)
	if err != nil {
		return false, err
	}
	oldPhase, err := parsePhase(old)
	if err != nil {
		return false, err
	}
	newPhase, err := parsePhase(new)
	if err != nil {
		return false, err
	}
	rev, err := p.Changelog.Rev(n)
	if err != nil {
		return false, err
	}
	cur, err := p.Phases.Phase(rev)
	if err != nil {
		return false, err
	}
	if cur != oldPhase {
		return false, nil
	}
	if newPhase > cur {
		if err := p.Phases.RetractBoundary(newPhase, []nodeid.ID{n}); err != nil {
			return false, err
		}
	} else if newPhase < cur {
		if err := p.Phases.AdvanceBoundary(newPhase, []nodeid.ID{n}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func parsePhase(s string) (phases.Phase, error) {
	switch s {
	case "0":
		return phases.Public, nil
	case "1":
		return phases.Draft, nil
	case "2":
		return phases.Secret, nil
	default:
		return 0, fmt.Errorf("peer: malformed phase value %q", s)
	}
}

// ListKeys returns every key/value pair in namespace ns.
func (p *LocalPeer) ListKeys(ns string) (map[string]string, error) {
	if ns == "phases" {
		out := map[string]string{}
		for _, phase := range []phases.Phase{phases.Secret, phases.Draft} {
			for _, n := range p.Phases.Roots(phase) {
				out[n.Hex()] = fmt.Sprintf("%d", int(phase))
			}
		}
		return out, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.bookmark[ns]))
	for k, v := range p.bookmark[ns] {
		out[k] = v
	}
	return out, nil
}

func revsOf(cl *changelog.Changelog, nodes []nodeid.ID) ([]int, error) {
	revs := make([]int, 0, len(nodes))
	for _, n := range nodes {
		rev, err := cl.Rev(n)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

func lookupPath(entries []manifest.Entry, path string) nodeid.ID {
	for _, e := range entries {
		if e.Path == path {
			return e.Node
		}
	}
	return nodeid.Null
}
