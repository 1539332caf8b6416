// Package manifest specializes revlog.Revlog with the manifest
// payload format (spec §4.3): a sorted `path\0hex_node[flag]\n`
// listing per file. The tree variant keys a directory's own manifest
// revlog by its directory path, with the root keyed by "".
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

// Flag marks a manifest entry's file mode. A directory entry in tree
// mode uses FlagDir; FlagNone is a plain file.
type Flag byte

const (
	FlagNone Flag = 0
	FlagExec Flag = 'x'
	FlagLink Flag = 'l'
	FlagDir  Flag = 't' // entry is a subdirectory manifest reference
)

// Entry is one line of a manifest listing.
type Entry struct {
	Path string
	Node nodeid.ID
	Flag Flag
}

// Encode serializes entries sorted by path, one per line:
// "path\0hexnode[flag]\n". A zero node (spec §3: "all-zero node...
// 'file deleted' marker in manifest diffs") is still emitted — callers
// computing a diff against a manifest, not building one for storage,
// are responsible for omitting deleted entries from what they persist.
func Encode(entries []Entry) []byte {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(e.Path)
		buf.WriteByte(0)
		buf.WriteString(e.Node.Hex())
		if e.Flag != FlagNone {
			buf.WriteByte(byte(e.Flag))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses the listing produced by Encode.
func Decode(raw []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, 0)
		if idx < 0 {
			return nil, fmt.Errorf("manifest: missing NUL separator in %q", line)
		}
		path := line[:idx]
		rest := line[idx+1:]
		hexLen := nodeid.Size * 2
		if len(rest) < hexLen {
			return nil, fmt.Errorf("manifest: short node field for %q", path)
		}
		n, err := nodeid.FromHex(rest[:hexLen])
		if err != nil {
			return nil, fmt.Errorf("manifest: %q: %w", path, err)
		}
		flag := FlagNone
		if len(rest) > hexLen {
			flag = Flag(rest[hexLen])
		}
		entries = append(entries, Entry{Path: path, Node: n, Flag: flag})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Manifest is a flat (one revlog, all paths) or directory-level (one
// revlog per directory, in tree mode) manifest log.
type Manifest struct {
	*revlog.Revlog
	// Dir is "" for the root manifest, or a directory path with a
	// trailing "/" in tree mode.
	Dir string
}

// New wraps an already-open Revlog as a flat-mode root manifest.
func New(rl *revlog.Revlog) *Manifest { return &Manifest{Revlog: rl} }

// NewDir wraps an already-open Revlog as a tree-mode directory
// manifest keyed by dir.
func NewDir(rl *revlog.Revlog, dir string) *Manifest { return &Manifest{Revlog: rl, Dir: dir} }

// Add encodes entries and appends them as a new revision.
func (m *Manifest) Add(entries []Entry, p1, p2 nodeid.ID, link int, tx revlog.Transactioner) (nodeid.ID, error) {
	return m.AddRevision(Encode(entries), p1, p2, link, tx)
}

// Read reconstructs and decodes manifest revision rev.
func (m *Manifest) Read(rev int) ([]Entry, error) {
	raw, err := m.Revision(rev, false)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// ReadByNode resolves node to a revision and decodes it.
func (m *Manifest) ReadByNode(node nodeid.ID) ([]Entry, error) {
	rev, err := m.Rev(node)
	if err != nil {
		return nil, err
	}
	return m.Read(rev)
}

// Lookup finds path's node and flag within manifest revision rev.
func (m *Manifest) Lookup(rev int, path string) (nodeid.ID, Flag, bool, error) {
	entries, err := m.Read(rev)
	if err != nil {
		return nodeid.ID{}, 0, false, err
	}
	for _, e := range entries {
		if e.Path == path {
			return e.Node, e.Flag, true, nil
		}
	}
	return nodeid.ID{}, 0, false, nil
}

// DirResolver opens a child directory's tree-mode Manifest on demand,
// keyed by its full path from the root, trailing "/" included (e.g.
// "a/b/"). changegroup.Unpack's v3 path and tests both satisfy this
// with a simple map or closure over already-open Manifests;
// Repository itself only runs in flat mode and has no DirResolver of
// its own.
type DirResolver interface {
	Dir(path string) (*Manifest, error)
}

// ReadTree reconstructs manifest revision rev and, for every FlagDir
// entry, recurses into the child directory's own manifest via
// resolver, producing one flat listing sorted by path, with every
// Entry.Path prefixed by m.Dir, so a root manifest (Dir "") yields
// paths from the repository root (spec §4.3: "a parent manifest reconstruction may
// recurse into child directory manifests"). Flat-mode manifests (no
// FlagDir entries) behave exactly like Read.
func (m *Manifest) ReadTree(rev int, resolver DirResolver) ([]Entry, error) {
	entries, err := m.Read(rev)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if e.Flag != FlagDir {
			out = append(out, Entry{Path: m.Dir + e.Path, Node: e.Node, Flag: e.Flag})
			continue
		}
		childDir := m.Dir + e.Path + "/"
		child, err := resolver.Dir(childDir)
		if err != nil {
			return nil, fmt.Errorf("manifest: resolving %q: %w", childDir, err)
		}
		crev, err := child.Rev(e.Node)
		if err != nil {
			return nil, fmt.Errorf("manifest: %q: %w", childDir, err)
		}
		childEntries, err := child.ReadTree(crev, resolver)
		if err != nil {
			return nil, err
		}
		out = append(out, childEntries...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Diff compares two decoded manifests and reports every path whose
// node or flag changed, added, or was removed (removed paths carry
// nodeid.Null, matching the "file deleted" sentinel of spec §3).
func Diff(a, b []Entry) []Entry {
	am := make(map[string]Entry, len(a))
	for _, e := range a {
		am[e.Path] = e
	}
	bm := make(map[string]Entry, len(b))
	for _, e := range b {
		bm[e.Path] = e
	}
	var out []Entry
	for path, be := range bm {
		if ae, ok := am[path]; !ok || ae.Node != be.Node || ae.Flag != be.Flag {
			out = append(out, be)
		}
	}
	for path, ae := range am {
		if _, ok := bm[path]; !ok {
			out = append(out, Entry{Path: ae.Path, Node: nodeid.Null})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
