package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndListFiles(t *testing.T) {
	tr := NewTree()
	tr.AddFile("a.txt")
	tr.AddFile("dir/b.txt")
	tr.AddFile("dir/sub/c.txt")

	assert.ElementsMatch(t, []string{"a.txt", "dir/b.txt", "dir/sub/c.txt"}, tr.Files(""))
	assert.Equal(t, []string{"dir/b.txt", "dir/sub/c.txt"}, tr.Files("dir"))
	assert.True(t, tr.HasFile("dir/sub/c.txt"))
	assert.False(t, tr.HasFile("dir/sub/missing.txt"))
}

func TestRemoveFile(t *testing.T) {
	tr := NewTree()
	tr.AddFile("dir/b.txt")
	tr.AddFile("dir/c.txt")
	tr.RemoveFile("dir/b.txt")
	assert.Equal(t, []string{"dir/c.txt"}, tr.Files("dir"))
}

func TestDirsLexicographic(t *testing.T) {
	tr := NewTree()
	tr.AddFile("zeta/f.txt")
	tr.AddFile("alpha/f.txt")
	tr.AddFile("alpha/beta/f.txt")
	assert.Equal(t, []string{"alpha/", "alpha/beta/", "zeta/"}, tr.Dirs())
}
