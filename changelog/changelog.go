// Package changelog specializes revlog.Revlog with the changeset
// payload format (spec §4.3): manifest node, user, date, sorted
// touched-file list, optional extras, free-form description. A
// changelog entry's link-revision is itself.
package changelog

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

// Changeset is the decoded payload of one changelog revision.
type Changeset struct {
	Manifest    nodeid.ID
	User        string
	Seconds     int64
	TZOffset    int // seconds west of UTC, matching the stored "seconds tz" pair
	Files       []string
	Extras      map[string]string
	Description string
}

// Encode serializes a Changeset into the on-disk text block:
//
//	<manifest hex>
//	<user>
//	<seconds> <tzoffset> [extra1=v1\0extra2=v2...]
//	<file1>
//	<file2>
//	...
//	(blank line)
//	<description>
func (c Changeset) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n", c.Manifest.Hex())
	fmt.Fprintf(&buf, "%s\n", c.User)
	dateLine := fmt.Sprintf("%d %d", c.Seconds, c.TZOffset)
	if len(c.Extras) > 0 {
		keys := make([]string, 0, len(c.Extras))
		for k := range c.Extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+escapeExtra(c.Extras[k]))
		}
		dateLine += " " + strings.Join(parts, "\x00")
	}
	fmt.Fprintf(&buf, "%s\n", dateLine)
	files := append([]string(nil), c.Files...)
	sort.Strings(files)
	for _, f := range files {
		fmt.Fprintf(&buf, "%s\n", f)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Description)
	return buf.Bytes()
}

func escapeExtra(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return strings.ReplaceAll(s, "\x00", "\\0")
}

func unescapeExtra(s string) string {
	s = strings.ReplaceAll(s, "\\0", "\x00")
	s = strings.ReplaceAll(s, "\\r", "\r")
	s = strings.ReplaceAll(s, "\\n", "\n")
	return strings.ReplaceAll(s, "\\\\", "\\")
}

// Decode parses the text block produced by Encode.
func Decode(raw []byte) (Changeset, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)

	if !scanner.Scan() {
		return Changeset{}, fmt.Errorf("changelog: empty payload")
	}
	manifest, err := nodeid.FromHex(scanner.Text())
	if err != nil {
		return Changeset{}, fmt.Errorf("changelog: manifest node: %w", err)
	}
	if !scanner.Scan() {
		return Changeset{}, fmt.Errorf("changelog: missing user line")
	}
	user := scanner.Text()
	if !scanner.Scan() {
		return Changeset{}, fmt.Errorf("changelog: missing date line")
	}
	seconds, tz, extras, err := parseDateLine(scanner.Text())
	if err != nil {
		return Changeset{}, err
	}

	var files []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		files = append(files, line)
	}

	var descBuf bytes.Buffer
	first := true
	for scanner.Scan() {
		if !first {
			descBuf.WriteByte('\n')
		}
		descBuf.WriteString(scanner.Text())
		first = false
	}
	if err := scanner.Err(); err != nil {
		return Changeset{}, err
	}

	return Changeset{
		Manifest:    manifest,
		User:        user,
		Seconds:     seconds,
		TZOffset:    tz,
		Files:       files,
		Extras:      extras,
		Description: descBuf.String(),
	}, nil
}

func parseDateLine(line string) (int64, int, map[string]string, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, 0, nil, fmt.Errorf("changelog: malformed date line %q", line)
	}
	seconds, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("changelog: bad seconds %q: %w", parts[0], err)
	}
	tz, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("changelog: bad tz offset %q: %w", parts[1], err)
	}
	var extras map[string]string
	if len(parts) == 3 {
		extras = map[string]string{}
		for _, kv := range strings.Split(parts[2], "\x00") {
			if kv == "" {
				continue
			}
			idx := strings.Index(kv, "=")
			if idx < 0 {
				return 0, 0, nil, fmt.Errorf("changelog: malformed extra %q", kv)
			}
			extras[kv[:idx]] = unescapeExtra(kv[idx+1:])
		}
	}
	return seconds, tz, extras, nil
}

// Changelog is the root revlog: the one whose own revision number is
// also its own link-revision.
type Changelog struct {
	*revlog.Revlog
}

// New wraps an already-open Revlog as a Changelog.
func New(rl *revlog.Revlog) *Changelog { return &Changelog{Revlog: rl} }

// Add encodes cs and appends it, using the new revision's own number
// as its link-revision (spec §3 "Changelog... link_rev of a changelog
// entry is the entry itself").
func (c *Changelog) Add(cs Changeset, p1, p2 nodeid.ID, tx revlog.Transactioner) (nodeid.ID, error) {
	rev := c.Len()
	node, err := c.AddRevision(cs.Encode(), p1, p2, rev, tx)
	if err != nil {
		return nodeid.ID{}, err
	}
	return node, nil
}

// Read reconstructs and decodes changeset rev.
func (c *Changelog) Read(rev int) (Changeset, error) {
	raw, err := c.Revision(rev, false)
	if err != nil {
		return Changeset{}, err
	}
	return Decode(raw)
}

// ReadByNode resolves node to a revision and decodes it.
func (c *Changelog) ReadByNode(node nodeid.ID) (Changeset, error) {
	rev, err := c.Rev(node)
	if err != nil {
		return Changeset{}, err
	}
	return c.Read(rev)
}
