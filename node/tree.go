// Package node builds an in-memory directory tree over a flat set of
// tracked paths. It backs the changegroup v3 packer, which must visit
// directories in lexicographic order (spec §4.4 step 3).
//
// Adapted from a git-branch path-reconciliation tree: here the tree
// tracks which directories hold pending manifest revisions rather than
// pending git-fast-import file actions.
package node

import (
	"sort"
	"strings"
)

// Tree is a node in the directory tree. The root Tree has Name "" and
// Path "".
type Tree struct {
	Name     string
	Path     string // full path, including trailing "/" for directories
	IsFile   bool
	Children []*Tree
}

// NewTree creates an empty root.
func NewTree() *Tree {
	return &Tree{}
}

func (t *Tree) child(name string) *Tree {
	for _, c := range t.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddFile registers a tracked file path, creating any intermediate
// directory nodes that do not yet exist.
func (t *Tree) AddFile(path string) {
	t.addSub(path, path)
}

func (t *Tree) addSub(fullPath, subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	if len(parts) == 1 {
		if t.child(parts[0]) == nil {
			t.Children = append(t.Children, &Tree{Name: parts[0], IsFile: true, Path: fullPath})
		}
		return
	}
	c := t.child(parts[0])
	if c == nil {
		c = &Tree{Name: parts[0], Path: dirPath(t.Path, parts[0])}
		t.Children = append(t.Children, c)
	}
	c.addSub(fullPath, parts[1])
}

func dirPath(parentPath, name string) string {
	return parentPath + name + "/"
}

// RemoveFile deletes a tracked file path from the tree, if present.
func (t *Tree) RemoveFile(path string) {
	t.removeSub(path)
}

func (t *Tree) removeSub(subPath string) {
	parts := strings.SplitN(subPath, "/", 2)
	for i, c := range t.Children {
		if c.Name != parts[0] {
			continue
		}
		if len(parts) == 1 {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			return
		}
		c.removeSub(parts[1])
		if !c.IsFile && len(c.Children) == 0 {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
		}
		return
	}
}

// Files returns every tracked file path beneath dir (or the whole
// tree if dir is empty), sorted lexicographically.
func (t *Tree) Files(dir string) []string {
	start := t
	if dir != "" {
		for _, part := range strings.Split(strings.TrimSuffix(dir, "/"), "/") {
			c := start.child(part)
			if c == nil {
				return nil
			}
			start = c
		}
	}
	files := start.collectFiles()
	sort.Strings(files)
	return files
}

func (t *Tree) collectFiles() []string {
	if t.IsFile {
		return []string{t.Path}
	}
	var files []string
	for _, c := range t.Children {
		files = append(files, c.collectFiles()...)
	}
	return files
}

// Dirs returns every directory path beneath the root that contains at
// least one tracked file, in lexicographic order, for the changegroup
// v3 packer's directory-manifest walk.
func (t *Tree) Dirs() []string {
	var dirs []string
	t.collectDirs(&dirs)
	sort.Strings(dirs)
	return dirs
}

func (t *Tree) collectDirs(out *[]string) {
	for _, c := range t.Children {
		if c.IsFile {
			continue
		}
		*out = append(*out, c.Path)
		c.collectDirs(out)
	}
}

// HasFile reports whether fileName is tracked anywhere in the tree.
func (t *Tree) HasFile(fileName string) bool {
	dir := ""
	if idx := strings.LastIndex(fileName, "/"); idx >= 0 {
		dir = fileName[:idx]
	}
	for _, f := range t.Files(dir) {
		if f == fileName {
			return true
		}
	}
	return false
}
