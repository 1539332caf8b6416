package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	jpath := filepath.Join(dir, "journal")
	j := New(jpath, nil)
	j.AddEntry("store", filepath.Join(dir, "00changelog.i"), 64)

	orig := filepath.Join(dir, "phaseroots")
	require.NoError(t, os.WriteFile(orig, []byte("0 deadbeef\n"), 0644))
	require.NoError(t, j.AddBackup("phaseroots", orig, filepath.Join(dir, "journal.phaseroots")))
	require.NoError(t, j.Write())

	loaded, err := Load(jpath, nil)
	require.NoError(t, err)
	assert.Equal(t, j.Entries, loaded.Entries)
	assert.Equal(t, j.Backups, loaded.Backups)
}

func TestAbortTruncatesAndRestores(t *testing.T) {
	dir := t.TempDir()
	jpath := filepath.Join(dir, "journal")
	j := New(jpath, nil)

	logPath := filepath.Join(dir, "00changelog.i")
	require.NoError(t, os.WriteFile(logPath, make([]byte, 4096), 0644))
	j.AddEntry("store", logPath, 4096)

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 128))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	phPath := filepath.Join(dir, "phaseroots")
	require.NoError(t, os.WriteFile(phPath, []byte("1 aaaa\n"), 0644))
	require.NoError(t, j.AddBackup("phaseroots", phPath, filepath.Join(dir, "journal.phaseroots")))
	require.NoError(t, os.WriteFile(phPath, []byte("2 bbbb\n"), 0644))

	require.NoError(t, j.Write())
	require.NoError(t, j.Abort())

	st, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, st.Size())

	content, err := os.ReadFile(phPath)
	require.NoError(t, err)
	assert.Equal(t, "1 aaaa\n", string(content))

	assert.False(t, Exists(jpath))
}

func TestCommitRemovesJournal(t *testing.T) {
	dir := t.TempDir()
	jpath := filepath.Join(dir, "journal")
	j := New(jpath, nil)
	require.NoError(t, j.Write())
	require.NoError(t, j.Commit())
	assert.False(t, Exists(jpath))
}
