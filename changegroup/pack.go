package changegroup

import (
	"io"
	"sort"
	"sync"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/go-revlog/revlog/changelog"
	"github.com/go-revlog/revlog/filelog"
	"github.com/go-revlog/revlog/manifest"
	"github.com/go-revlog/revlog/metrics"
	"github.com/go-revlog/revlog/node"
	"github.com/go-revlog/revlog/nodeid"
)

// countingWriter tallies bytes written so Pack can report changegroup
// size to metrics without every writeXxx helper threading a counter
// through.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Source is everything the packer needs to read already-stored
// revisions out of a repository.
type Source struct {
	Changelog *changelog.Changelog
	Manifest  *manifest.Manifest
	// DirManifest resolves a v3 tree-mode directory path (trailing
	// "/") to its own manifest revlog, opening it on demand. Nil for
	// flat-mode repositories, which send zero dirmanifest groups.
	DirManifest func(dir string) (*manifest.Manifest, error)
	// Filelog resolves a path to its filelog, opening it on demand.
	Filelog func(path string) (*filelog.Filelog, error)
}

// Spec names exactly what to send: the changelog revisions (in the
// order they should stream), the manifest revisions referenced by
// those changelog revisions (index-aligned with ChangelogRevs; a
// repeat of the previous entry is elided automatically), and, per
// path, the filelog revisions to send plus the changelog revision
// that introduced each one. Discovery of these sets (set
// reconciliation, linkrev-shadowing avoidance) is the discovery
// package's job, not the packer's — this type is the boundary between
// them (spec §4.4 "Packer (send side)").
type Spec struct {
	ChangelogRevs []int
	ManifestRevs  []int
	// DirManifestRevs/DirManifestLinkRevs are the v3 tree-mode analog
	// of FileRevs/FileLinkRevs, keyed by directory path (trailing
	// "/"). Unused in v1/v2.
	DirManifestRevs     map[string][]int
	DirManifestLinkRevs map[string]map[int]int
	FileRevs            map[string][]int
	FileLinkRevs        map[string]map[int]int // path -> filelog rev -> introducing changelog rev
}

// Pack writes a complete changegroup: changelog group, manifest
// group, then one (path header, file group) pair per path in
// lexicographic order, terminated by the end-of-files marker.
func Pack(w io.Writer, version Version, src Source, spec Spec, log *logrus.Logger) error {
	cw := &countingWriter{w: w}
	w = cw
	defer func() { metrics.ChangegroupBytes.WithLabelValues("pack").Observe(float64(cw.n)) }()

	clEntries, err := buildEntries(src.Changelog.Revlog, spec.ChangelogRevs, version, func(rev int) (nodeid.ID, error) {
		return src.Changelog.Node(rev)
	})
	if err != nil {
		return err
	}
	if len(clEntries) == 0 && log != nil {
		log.Info("changegroup: empty changelog group")
	}
	if err := writeGroup(w, version, clEntries); err != nil {
		return err
	}

	mfRevs := dedupConsecutive(spec.ManifestRevs)
	mfEntries, err := buildEntries(src.Manifest.Revlog, mfRevs, version, func(rev int) (nodeid.ID, error) {
		return linkForManifestRev(src, spec, rev)
	})
	if err != nil {
		return err
	}
	if err := writeGroup(w, version, mfEntries); err != nil {
		return err
	}

	if version == V3 {
		if err := packDirManifests(w, version, src, spec); err != nil {
			return err
		}
	}

	paths := make([]string, 0, len(spec.FileRevs))
	for path := range spec.FileRevs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	pool := pond.New(4, 0)
	defer pool.StopAndWait()

	type fileResult struct {
		path    string
		entries []DeltaEntry
		err     error
	}
	results := make([]fileResult, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		i, path := i, path
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			fl, err := src.Filelog(path)
			if err != nil {
				results[i] = fileResult{path: path, err: err}
				return
			}
			linkRevs := spec.FileLinkRevs[path]
			entries, err := buildEntries(fl.Revlog, spec.FileRevs[path], version, func(rev int) (nodeid.ID, error) {
				clrev := linkRevs[rev]
				return src.Changelog.Node(clrev)
			})
			results[i] = fileResult{path: path, entries: entries, err: err}
		})
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			return res.err
		}
		if err := writeChunk(w, []byte(res.path)); err != nil {
			return err
		}
		if err := writeGroup(w, version, res.entries); err != nil {
			return err
		}
	}
	return writeEnd(w)
}

// packDirManifests emits the v3 tree-mode dirmanifest group list (spec
// §4.4 wire layout: "[<dirmanifest group>]… <empty>" between the flat
// manifest group and the file groups). It walks a node.Tree built from
// the paths being sent so directories are visited in the same
// lexicographic order the unpacker expects (spec §4.4 step 3), then
// emits a (dir-path chunk, group) pair for each directory that actually
// has pending revisions, terminated by the empty end-of-list marker.
func packDirManifests(w io.Writer, version Version, src Source, spec Spec) error {
	if len(spec.DirManifestRevs) == 0 {
		return writeEnd(w)
	}
	tree := node.NewTree()
	for path := range spec.FileRevs {
		tree.AddFile(path)
	}
	for _, dir := range tree.Dirs() {
		revs := spec.DirManifestRevs[dir]
		if len(revs) == 0 {
			continue
		}
		dm, err := src.DirManifest(dir)
		if err != nil {
			return err
		}
		linkRevs := spec.DirManifestLinkRevs[dir]
		entries, err := buildEntries(dm.Revlog, revs, version, func(rev int) (nodeid.ID, error) {
			return src.Changelog.Node(linkRevs[rev])
		})
		if err != nil {
			return err
		}
		if err := writeChunk(w, []byte(dir)); err != nil {
			return err
		}
		if err := writeGroup(w, version, entries); err != nil {
			return err
		}
	}
	return writeEnd(w)
}

// linkForManifestRev resolves the changelog node that introduced
// manifest revision rev by finding its position in spec.ManifestRevs.
func linkForManifestRev(src Source, spec Spec, rev int) (nodeid.ID, error) {
	for i, mrev := range spec.ManifestRevs {
		if mrev == rev {
			return src.Changelog.Node(spec.ChangelogRevs[i])
		}
	}
	return nodeid.Null, nil
}

// dedupConsecutive drops runs of repeated revision numbers, keeping
// the first of each run, since an unchanged manifest referenced by
// several consecutive changelog entries should only be sent once.
func dedupConsecutive(revs []int) []int {
	out := make([]int, 0, len(revs))
	for i, rev := range revs {
		if i > 0 && revs[i-1] == rev {
			continue
		}
		out = append(out, rev)
	}
	return out
}
