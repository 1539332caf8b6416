package changegroup

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/go-revlog/revlog/changelog"
	"github.com/go-revlog/revlog/filelog"
	"github.com/go-revlog/revlog/manifest"
	"github.com/go-revlog/revlog/metrics"
	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

// countingReader tallies bytes read so Unpack can report changegroup
// size to metrics.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Sink is everything the unpacker needs to write incoming revisions
// into a repository, inside an already-open transaction.
type Sink struct {
	Changelog *changelog.Changelog
	Manifest  *manifest.Manifest
	// DirManifest resolves a v3 tree-mode directory path (trailing
	// "/") to its own manifest revlog, creating it on demand. Nil for
	// flat-mode repositories, which never receive dirmanifest groups.
	DirManifest func(dir string) (*manifest.Manifest, error)
	// Filelog resolves a path to its filelog, creating it on demand.
	Filelog func(path string) (*filelog.Filelog, error)
	Tx      revlog.Transactioner
}

// Result reports what Unpack actually added.
type Result struct {
	ChangelogNodes   []nodeid.ID
	ManifestNodes    []nodeid.ID
	DirManifestNodes map[string][]nodeid.ID
	FileNodes        map[string][]nodeid.ID
}

// Unpack mirrors Pack: read the changelog group, then the manifest
// group, then each (path header, file group) pair until the
// end-of-files marker (spec §4.4 "Unpacker (receive side)").
func Unpack(r io.Reader, version Version, sink Sink, log *logrus.Logger) (Result, error) {
	var result Result

	cr := &countingReader{r: r}
	r = cr
	defer func() { metrics.ChangegroupBytes.WithLabelValues("unpack").Observe(float64(cr.n)) }()

	clEntries, err := readGroup(r, version)
	if err != nil {
		return result, fmt.Errorf("changegroup: reading changelog group: %w", err)
	}
	if len(clEntries) == 0 && log != nil {
		log.Info("changegroup: empty changelog group")
	}
	startRev := sink.Changelog.Len()
	i := 0
	clLinkMapper := func(nodeid.ID) (int, error) {
		rev := startRev + i
		i++
		return rev, nil
	}
	clNodes, err := sink.Changelog.AddGroup(toGroupRevisions(clEntries), clLinkMapper, sink.Tx)
	if err != nil {
		return result, fmt.Errorf("changegroup: unpacking changelog group: %w", err)
	}
	result.ChangelogNodes = clNodes

	clLinkResolver := func(n nodeid.ID) (int, error) { return sink.Changelog.Rev(n) }

	mfEntries, err := readGroup(r, version)
	if err != nil {
		return result, fmt.Errorf("changegroup: reading manifest group: %w", err)
	}
	mfNodes, err := sink.Manifest.AddGroup(toGroupRevisions(mfEntries), clLinkResolver, sink.Tx)
	if err != nil {
		return result, fmt.Errorf("changegroup: unpacking manifest group: %w", err)
	}
	result.ManifestNodes = mfNodes

	if version == V3 {
		dirNodes, err := unpackDirManifests(r, version, sink, clLinkResolver)
		if err != nil {
			return result, err
		}
		result.DirManifestNodes = dirNodes
	}

	result.FileNodes = map[string][]nodeid.ID{}
	for {
		pathBytes, err := readChunk(r)
		if err == ErrEndOfGroup {
			break
		}
		if err != nil {
			return result, fmt.Errorf("changegroup: reading file path chunk: %w", err)
		}
		path := string(pathBytes)

		fileEntries, err := readGroup(r, version)
		if err != nil {
			return result, fmt.Errorf("changegroup: reading file group for %q: %w", path, err)
		}
		fl, err := sink.Filelog(path)
		if err != nil {
			return result, fmt.Errorf("changegroup: resolving filelog for %q: %w", path, err)
		}
		fileNodes, err := fl.AddGroup(toGroupRevisions(fileEntries), clLinkResolver, sink.Tx)
		if err != nil {
			return result, fmt.Errorf("changegroup: unpacking file group for %q: %w", path, err)
		}
		result.FileNodes[path] = fileNodes
	}

	return result, nil
}

// unpackDirManifests mirrors packDirManifests: it reads (dir-path
// chunk, group) pairs until the empty end-of-list marker, applying
// each group to the directory's own manifest via sink.DirManifest
// (spec §4.4 wire layout, v3 only).
func unpackDirManifests(r io.Reader, version Version, sink Sink, linkResolver func(nodeid.ID) (int, error)) (map[string][]nodeid.ID, error) {
	nodes := map[string][]nodeid.ID{}
	for {
		dirBytes, err := readChunk(r)
		if err == ErrEndOfGroup {
			return nodes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("changegroup: reading dirmanifest path chunk: %w", err)
		}
		dir := string(dirBytes)

		entries, err := readGroup(r, version)
		if err != nil {
			return nil, fmt.Errorf("changegroup: reading dirmanifest group for %q: %w", dir, err)
		}
		dm, err := sink.DirManifest(dir)
		if err != nil {
			return nil, fmt.Errorf("changegroup: resolving dirmanifest for %q: %w", dir, err)
		}
		dirNodes, err := dm.AddGroup(toGroupRevisions(entries), linkResolver, sink.Tx)
		if err != nil {
			return nil, fmt.Errorf("changegroup: unpacking dirmanifest group for %q: %w", dir, err)
		}
		nodes[dir] = dirNodes
	}
}
