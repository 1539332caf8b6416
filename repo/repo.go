// Package repo wires store, revlog, changegroup, txn and phases
// together into the transactional commit pipeline of spec §4
// ("transactional commit pipeline that writes new revisions to
// changelog, manifest and filelogs atomically, with journal/rollback
// and phase bookkeeping").
package repo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/go-revlog/revlog/changelog"
	"github.com/go-revlog/revlog/filelog"
	"github.com/go-revlog/revlog/manifest"
	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/phases"
	"github.com/go-revlog/revlog/revlog"
	"github.com/go-revlog/revlog/store"
	"github.com/go-revlog/revlog/txn"
)

// Repository is the top-level handle: the on-disk layout plus the
// changelog/manifest/filelog revlogs and phase store opened over it.
type Repository struct {
	Layout    *store.Layout
	Changelog *changelog.Changelog
	Manifest  *manifest.Manifest
	Phases    *phases.Store

	filelogs map[string]*filelog.Filelog
	log      *logrus.Logger
}

// Open opens (creating if necessary) the repository rooted at root.
func Open(root string, log *logrus.Logger) (*Repository, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	layout, err := store.Open(root)
	if err != nil {
		return nil, err
	}

	if layout.Store.Exists("journal") {
		log.Warn("repo: found leftover journal at open, recovering aborted transaction")
		if err := txn.Recover(layout.Store.Join("journal"), log); err != nil {
			return nil, fmt.Errorf("repo: recovering journal: %w", err)
		}
	}

	clRL, err := openRevlog(layout.Store, "00changelog.i", "00changelog.d", log)
	if err != nil {
		return nil, err
	}
	cl := changelog.New(clRL)

	mfRL, err := openRevlog(layout.Store, "00manifest.i", "00manifest.d", log)
	if err != nil {
		return nil, err
	}
	mf := manifest.New(mfRL)

	ph, err := phases.Load(layout.Store.Join("phaseroots"), cl, log)
	if err != nil {
		return nil, err
	}

	return &Repository{
		Layout:    layout,
		Changelog: cl,
		Manifest:  mf,
		Phases:    ph,
		filelogs:  map[string]*filelog.Filelog{},
		log:       log,
	}, nil
}

// Filelog returns (opening on demand) the filelog for path.
func (r *Repository) Filelog(path string) (*filelog.Filelog, error) {
	if fl, ok := r.filelogs[path]; ok {
		return fl, nil
	}
	indexPath := store.DataPath(path)
	dataPath := strings.TrimSuffix(indexPath, ".i") + ".d"
	rl, err := openRevlog(r.Layout.Store, indexPath, dataPath, r.log)
	if err != nil {
		return nil, err
	}
	fl := filelog.New(rl, path)
	r.filelogs[path] = fl
	return fl, nil
}

// openRevlog loads an index file (or creates an empty one) and opens
// its data file for read/write, wiring both into a *revlog.Revlog
// whose DataPath is the real filesystem path the journal truncates on
// abort.
func openRevlog(vfs *store.VFS, indexPath, dataPath string, log *logrus.Logger) (*revlog.Revlog, error) {
	var index *revlog.Index
	if vfs.Exists(indexPath) {
		raw, err := vfs.ReadFile(indexPath)
		if err != nil {
			return nil, err
		}
		index, err = revlog.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("repo: loading index %q: %w", indexPath, err)
		}
	} else {
		index = revlog.NewIndex(revlog.FormatV1, revlog.DefaultPolicy.GeneralDelta)
	}

	f, err := vfs.OpenAppend(dataPath)
	if err != nil {
		return nil, err
	}
	data := revlog.NewDataStore(f)

	tag := "store"
	return revlog.New(tag, vfs.Join(dataPath), index, data, revlog.DefaultPolicy, log), nil
}

// CommitRequest names one new changeset: the full content of every
// file it touches relative to P1 (a nil byte slice value means the
// path was removed), commit metadata, and up to two parents.
type CommitRequest struct {
	Files       map[string][]byte
	User        string
	Seconds     int64
	TZOffset    int
	Extras      map[string]string
	Description string
	P1, P2      nodeid.ID
}

// Commit runs the pipeline of spec §4: append changed filelogs, build
// and append the new manifest revision, append the changelog entry,
// all inside one transaction, then mark the new changeset draft (spec
// §4.7 "new commits are draft by default"). Any failure before the
// transaction closes aborts it and rolls back every revlog's in-memory
// state to what it held before Commit was called. A failure while
// recording the draft phase comes after the commit: the changeset
// stays, and its node is returned with the error.
func (r *Repository) Commit(req CommitRequest) (nodeid.ID, error) {
	lock, err := store.Acquire(r.Layout.Store, "lock", r.log)
	if err != nil {
		return nodeid.ID{}, err
	}
	defer lock.Unlock()

	clPreLen := r.Changelog.Len()
	mfPreLen := r.Manifest.Len()

	tr := txn.New(r.Layout.Store.Join("journal"), r.log)
	if err := tr.Begin(); err != nil {
		return nodeid.ID{}, err
	}

	node, touched, filePreLens, err := r.commitInTxn(req, tr)
	if err != nil {
		if abortErr := tr.Abort(); abortErr != nil {
			r.log.WithError(abortErr).Error("repo: abort failed after commit error")
		}
		r.rollback(clPreLen, mfPreLen, touched, filePreLens)
		return nodeid.ID{}, err
	}

	tr.OnPretxnclose(func() error { return r.persistIndexes(touched) })

	if err := tr.Close(); err != nil {
		r.rollback(clPreLen, mfPreLen, touched, filePreLens)
		return nodeid.ID{}, err
	}

	if err := r.Phases.RetractBoundary(phases.Draft, []nodeid.ID{node}); err != nil {
		return node, err
	}
	if err := r.Phases.Save(r.Layout.Store.Join("phaseroots")); err != nil {
		return node, err
	}
	return node, nil
}

// commitInTxn does the actual revlog writes; it returns the set of
// touched filelogs (for index persistence and rollback) regardless of
// whether it errors partway through.
func (r *Repository) commitInTxn(req CommitRequest, tr *txn.Transaction) (nodeid.ID, map[string]*filelog.Filelog, map[string]int, error) {
	touched := map[string]*filelog.Filelog{}
	filePreLens := map[string]int{}

	parentEntries, err := r.manifestEntriesAt(req.P1)
	if err != nil {
		return nodeid.ID{}, touched, filePreLens, err
	}
	entryMap := make(map[string]manifest.Entry, len(parentEntries))
	for _, e := range parentEntries {
		entryMap[e.Path] = e
	}

	paths := make([]string, 0, len(req.Files))
	for path := range req.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var files []string
	for _, path := range paths {
		content := req.Files[path]
		fl, err := r.Filelog(path)
		if err != nil {
			return nodeid.ID{}, touched, filePreLens, err
		}
		if _, ok := touched[path]; !ok {
			touched[path] = fl
			filePreLens[path] = fl.Len()
		}
		if content == nil {
			delete(entryMap, path)
			continue
		}
		files = append(files, path)
		var p1fnode nodeid.ID
		if e, ok := entryMap[path]; ok {
			p1fnode = e.Node
		}
		fnode, err := fl.Add(content, nil, p1fnode, nodeid.Null, r.Changelog.Len(), tr)
		if err != nil {
			return nodeid.ID{}, touched, filePreLens, err
		}
		entryMap[path] = manifest.Entry{Path: path, Node: fnode}
	}
	sort.Strings(files)

	entries := make([]manifest.Entry, 0, len(entryMap))
	for _, e := range entryMap {
		entries = append(entries, e)
	}

	p1mnode, err := r.manifestNodeAt(req.P1)
	if err != nil {
		return nodeid.ID{}, touched, filePreLens, err
	}
	p2mnode, err := r.manifestNodeAt(req.P2)
	if err != nil {
		return nodeid.ID{}, touched, filePreLens, err
	}

	mnode, err := r.Manifest.Add(entries, p1mnode, p2mnode, r.Changelog.Len(), tr)
	if err != nil {
		return nodeid.ID{}, touched, filePreLens, err
	}

	cs := changelog.Changeset{
		Manifest:    mnode,
		User:        req.User,
		Seconds:     req.Seconds,
		TZOffset:    req.TZOffset,
		Files:       files,
		Extras:      req.Extras,
		Description: req.Description,
	}
	node, err := r.Changelog.Add(cs, req.P1, req.P2, tr)
	if err != nil {
		return nodeid.ID{}, touched, filePreLens, err
	}
	return node, touched, filePreLens, nil
}

func (r *Repository) manifestNodeAt(parent nodeid.ID) (nodeid.ID, error) {
	if parent.IsNull() {
		return nodeid.Null, nil
	}
	cs, err := r.Changelog.ReadByNode(parent)
	if err != nil {
		return nodeid.ID{}, err
	}
	return cs.Manifest, nil
}

func (r *Repository) manifestEntriesAt(parent nodeid.ID) ([]manifest.Entry, error) {
	mnode, err := r.manifestNodeAt(parent)
	if err != nil {
		return nil, err
	}
	if mnode.IsNull() {
		return nil, nil
	}
	mrev, err := r.Manifest.Rev(mnode)
	if err != nil {
		return nil, err
	}
	raw, err := r.Manifest.Revision(mrev, false)
	if err != nil {
		return nil, err
	}
	return manifest.Decode(raw)
}

// persistIndexes flushes the changelog, manifest, and every touched
// filelog's packed index to disk; registered as a pretxnclose
// validator so a write failure here aborts the transaction rather
// than committing a journal whose index files were never written
// (spec §4.6 "Fsync discipline: index and data files synced before
// the journal is unlinked").
func (r *Repository) persistIndexes(touched map[string]*filelog.Filelog) error {
	if err := r.Layout.Store.WriteFile("00changelog.i", r.Changelog.IndexBytes(), 0644); err != nil {
		return err
	}
	if err := r.Layout.Store.WriteFile("00manifest.i", r.Manifest.IndexBytes(), 0644); err != nil {
		return err
	}
	for path, fl := range touched {
		if err := r.Layout.Store.WriteFile(store.DataPath(path), fl.IndexBytes(), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) rollback(clPreLen, mfPreLen int, touched map[string]*filelog.Filelog, filePreLens map[string]int) {
	r.Changelog.Rollback(clPreLen)
	r.Manifest.Rollback(mfPreLen)
	for path, fl := range touched {
		fl.Rollback(filePreLens[path])
	}
}

// NewTxn opens a fresh, un-begun transaction rooted at this
// repository's journal path, satisfying peer.TxnFactory so a
// peer.LocalPeer can be built directly over an open Repository.
func (r *Repository) NewTxn() (*txn.Transaction, error) {
	return txn.New(r.Layout.Store.Join("journal"), r.log), nil
}

// Flush persists the changelog, manifest, and every filelog this
// Repository has opened so far to disk. Unlike persistIndexes (which
// only writes what a single Commit touched, as a pretxnclose
// validator), Flush is for callers driving revlogs directly through a
// peer.LocalPeer — e.g. after Unbundle — where there's no CommitRequest
// to tell this Repository which filelogs changed.
func (r *Repository) Flush() error {
	return r.persistIndexes(r.filelogs)
}
