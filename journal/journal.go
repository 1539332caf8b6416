// Package journal implements the on-disk transaction journal: the
// record format a transaction writes before mutating any store file,
// and the abort/recover logic that truncates files and restores
// backups from it (spec §4.6).
//
// Adapted from a line-oriented record writer for an external VCS's
// metadata dump: here each line names either a file to truncate on
// abort (an "entry") or a non-appendable file to restore from a
// backup copy (a "backup"), instead of a changelist/revision record.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

// Entry records that the file at Path (opened through the vfs named
// by Tag) had length PreLength before the transaction began. On
// abort, the file is truncated back to PreLength.
type Entry struct {
	Tag       string
	Path      string
	PreLength int64
}

// Backup records a non-appendable file (dirstate, bookmarks,
// phaseroots, branch cache, ...) that was copied aside before the
// transaction began. On abort, BackupPath is copied back over
// OriginalPath after its digest is checked against Digest.
type Backup struct {
	Category     string
	OriginalPath string
	BackupPath   string
	Digest       digest.Digest
}

// Journal accumulates entries and backups for one transaction and
// knows how to serialize itself to, and reload itself from, a single
// file at Path.
type Journal struct {
	Path    string
	Entries []Entry
	Backups []Backup
	log     *logrus.Logger
}

// New creates a journal that will be written to path.
func New(path string, log *logrus.Logger) *Journal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{Path: path, log: log}
}

// AddEntry records a file's pre-transaction length.
func (j *Journal) AddEntry(tag, path string, preLength int64) {
	j.Entries = append(j.Entries, Entry{Tag: tag, Path: path, PreLength: preLength})
}

// AddBackup copies originalPath to backupPath and records its digest.
// It must be called before the transaction's first mutation to
// originalPath.
func (j *Journal) AddBackup(category, originalPath, backupPath string) error {
	content, err := os.ReadFile(originalPath)
	if os.IsNotExist(err) {
		content = nil
	} else if err != nil {
		return fmt.Errorf("journal: backing up %s: %w", originalPath, err)
	}
	if err := os.WriteFile(backupPath, content, 0644); err != nil {
		return fmt.Errorf("journal: writing backup %s: %w", backupPath, err)
	}
	j.Backups = append(j.Backups, Backup{
		Category:     category,
		OriginalPath: originalPath,
		BackupPath:   backupPath,
		Digest:       digest.FromBytes(content),
	})
	return nil
}

// Write serializes the journal to j.Path. It must be written in full
// before any store mutation begins (spec §4.6 "Journal file").
func (j *Journal) Write() error {
	f, err := os.Create(j.Path)
	if err != nil {
		return fmt.Errorf("journal: create %s: %w", j.Path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range j.Entries {
		if _, err := fmt.Fprintf(w, "ENTRY %s %s %d\n", e.Tag, e.Path, e.PreLength); err != nil {
			return err
		}
	}
	for _, b := range j.Backups {
		if _, err := fmt.Fprintf(w, "BACKUP %s %s %s %s\n", b.Category, b.OriginalPath, b.BackupPath, b.Digest); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// Load reads a journal back from disk, e.g. during crash recovery
// when a stale journal is found without a matching lock.
func Load(path string, log *logrus.Logger) (*Journal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	j := New(path, log)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "ENTRY":
			if len(fields) != 4 {
				return nil, fmt.Errorf("journal: malformed ENTRY line %q", line)
			}
			n, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("journal: malformed ENTRY length %q: %w", line, err)
			}
			j.Entries = append(j.Entries, Entry{Tag: fields[1], Path: fields[2], PreLength: n})
		case "BACKUP":
			if len(fields) != 5 {
				return nil, fmt.Errorf("journal: malformed BACKUP line %q", line)
			}
			j.Backups = append(j.Backups, Backup{
				Category:     fields[1],
				OriginalPath: fields[2],
				BackupPath:   fields[3],
				Digest:       digest.Digest(fields[4]),
			})
		default:
			return nil, fmt.Errorf("journal: unknown record type %q", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return j, nil
}

// Abort truncates every journaled entry back to its pre-transaction
// length and restores every backup, in that order, then unlinks the
// journal file last so a crash mid-abort is itself recoverable.
func (j *Journal) Abort() error {
	for _, e := range j.Entries {
		if err := truncateTo(e.Path, e.PreLength); err != nil {
			return fmt.Errorf("journal: truncating %s: %w", e.Path, err)
		}
	}
	for _, b := range j.Backups {
		if err := j.restoreBackup(b); err != nil {
			return err
		}
	}
	return os.Remove(j.Path)
}

func (j *Journal) restoreBackup(b Backup) error {
	content, err := os.ReadFile(b.BackupPath)
	if err != nil {
		return fmt.Errorf("journal: reading backup %s: %w", b.BackupPath, err)
	}
	got := digest.FromBytes(content)
	if got != b.Digest {
		// Per spec §9 open questions, treat this as a lint hint, not a
		// hard failure: warn and restore anyway rather than leaving the
		// repository in a half-aborted state.
		j.log.WithFields(logrus.Fields{
			"path":     b.BackupPath,
			"expected": b.Digest,
			"got":      got,
		}).Warn("journal: backup digest mismatch on restore")
	}
	return os.WriteFile(b.OriginalPath, content, 0644)
}

func truncateTo(path string, length int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if os.IsNotExist(err) && length == 0 {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(length)
}

// Commit removes the journal file. Backups are left in place for the
// caller to garbage-collect, since some deployments keep them briefly
// for audit purposes.
func (j *Journal) Commit() error {
	err := os.Remove(j.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether a journal file is present at path, the
// signal used at repo-open time to trigger the recover path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
