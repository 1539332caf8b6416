package store

import (
	"bufio"
	"sort"
	"strings"
)

// Layout is the on-disk repository tree of spec §6 ("On-disk
// layout"): .hg/requires, .hg/store (changelog, manifest, per-file
// revlogs, phaseroots, journal/undo, fncache) and .hg/cache.
type Layout struct {
	Root  *VFS
	Store *VFS
	Cache *VFS
}

// Open creates (if missing) and returns the .hg/{store,cache} tree
// rooted at root.
func Open(root string) (*Layout, error) {
	rootVFS, err := New(root)
	if err != nil {
		return nil, err
	}
	storeVFS, err := New(rootVFS.Join("store"))
	if err != nil {
		return nil, err
	}
	cacheVFS, err := New(rootVFS.Join("cache"))
	if err != nil {
		return nil, err
	}
	return &Layout{Root: rootVFS, Store: storeVFS, Cache: cacheVFS}, nil
}

// Requires returns the newline-separated feature tags recorded in
// .hg/requires, or nil if the file doesn't exist yet.
func (l *Layout) Requires() ([]string, error) {
	if !l.Root.Exists("requires") {
		return nil, nil
	}
	raw, err := l.Root.ReadFile("requires")
	if err != nil {
		return nil, err
	}
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

// WriteRequires overwrites .hg/requires with tags, one per line,
// sorted for deterministic output.
func (l *Layout) WriteRequires(tags []string) error {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return l.Root.WriteFile("requires", []byte(strings.Join(sorted, "\n")+"\n"), 0644)
}

// DataPath returns the store-relative path of path's filelog index,
// through the case/reserved-name encoding of EncodePath.
func DataPath(path string) string {
	return "data/" + EncodePath(path) + ".i"
}

// Fncache tracks the set of encoded data paths in use, the feature
// spec §6 names as "fncache — list of encoded paths (when feature
// on)": a plain sorted text listing, one path per line.
type Fncache struct {
	store   *VFS
	entries map[string]bool
}

// LoadFncache reads store/fncache, treating a missing file as empty.
func LoadFncache(storeVFS *VFS) (*Fncache, error) {
	fc := &Fncache{store: storeVFS, entries: map[string]bool{}}
	if !storeVFS.Exists("fncache") {
		return fc, nil
	}
	raw, err := storeVFS.ReadFile("fncache")
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fc.entries[line] = true
		}
	}
	return fc, scanner.Err()
}

// Add records path (logical, un-encoded) as tracked.
func (fc *Fncache) Add(path string) {
	fc.entries[DataPath(path)] = true
}

// Paths returns the tracked encoded paths, sorted.
func (fc *Fncache) Paths() []string {
	out := make([]string, 0, len(fc.entries))
	for p := range fc.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Save writes store/fncache.
func (fc *Fncache) Save() error {
	lines := fc.Paths()
	return fc.store.WriteFile("fncache", []byte(strings.Join(lines, "\n")+"\n"), 0644)
}
