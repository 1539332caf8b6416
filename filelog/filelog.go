// Package filelog specializes revlog.Revlog for file content (spec
// §4.2/§4.3): raw bytes, an optional copy-metadata prefix on the first
// revision of a rename, and introrev resolution for shadowed
// link-revisions.
package filelog

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/h2non/filetype"

	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/revlog"
)

const metaMarker = "\x01\n"

// CopyMeta records the rename/copy source recorded on the first
// revision after a file is renamed or copied.
type CopyMeta struct {
	Path string
	Rev  nodeid.ID
}

// Filelog is a per-path revlog of file content.
type Filelog struct {
	*revlog.Revlog
	Path string
}

// New wraps an already-open Revlog as the filelog for path.
func New(rl *revlog.Revlog, path string) *Filelog { return &Filelog{Revlog: rl, Path: path} }

// addMeta prepends the copy-metadata block, per spec §4.3.
func addMeta(content []byte, copy *CopyMeta) []byte {
	if copy == nil {
		return content
	}
	var buf bytes.Buffer
	buf.WriteString(metaMarker)
	fmt.Fprintf(&buf, "copy: %s\n", copy.Path)
	fmt.Fprintf(&buf, "copyrev: %s\n", copy.Rev.Hex())
	buf.WriteString(metaMarker)
	buf.Write(content)
	return buf.Bytes()
}

// splitMeta strips a leading copy-metadata block, if present, and
// returns the metadata decoded plus the remaining content.
func splitMeta(raw []byte) (*CopyMeta, []byte, error) {
	if !bytes.HasPrefix(raw, []byte(metaMarker)) {
		return nil, raw, nil
	}
	rest := raw[len(metaMarker):]
	end := bytes.Index(rest, []byte(metaMarker))
	if end < 0 {
		return nil, nil, fmt.Errorf("filelog: unterminated copy-metadata block")
	}
	header := string(rest[:end])
	content := rest[end+len(metaMarker):]

	var meta CopyMeta
	for _, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ": ", 2)
		if len(kv) != 2 {
			return nil, nil, fmt.Errorf("filelog: malformed copy-metadata line %q", line)
		}
		switch kv[0] {
		case "copy":
			meta.Path = kv[1]
		case "copyrev":
			n, err := nodeid.FromHex(kv[1])
			if err != nil {
				return nil, nil, fmt.Errorf("filelog: copyrev: %w", err)
			}
			meta.Rev = n
		}
	}
	return &meta, content, nil
}

// Add appends a new revision. copy is non-nil only on the first
// revision after a rename or copy.
func (f *Filelog) Add(content []byte, copy *CopyMeta, p1, p2 nodeid.ID, link int, tx revlog.Transactioner) (nodeid.ID, error) {
	return f.AddRevision(addMeta(content, copy), p1, p2, link, tx)
}

// Revision reconstructs revision rev and strips the copy-metadata
// prefix unless raw is true, matching spec §4.3's "revision() strips
// this prefix unless raw=true".
func (f *Filelog) Revision(rev int, raw bool) ([]byte, error) {
	text, err := f.Revlog.Revision(rev, true)
	if err != nil {
		return nil, err
	}
	if raw {
		return text, nil
	}
	_, content, err := splitMeta(text)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Copy returns the copy metadata attached to rev, if any.
func (f *Filelog) Copy(rev int) (*CopyMeta, error) {
	text, err := f.Revlog.Revision(rev, true)
	if err != nil {
		return nil, err
	}
	meta, _, err := splitMeta(text)
	return meta, err
}

// IsBinary sniffs rev's content to decide whether it should be treated
// as binary for storage/censor heuristics (flagprocessor, spec §4.3's
// storage-policy hooks).
func (f *Filelog) IsBinary(rev int) (bool, error) {
	content, err := f.Revision(rev, false)
	if err != nil {
		return false, err
	}
	if len(content) == 0 {
		return false, nil
	}
	head := content
	if len(head) > 8192 {
		head = head[:8192]
	}
	kind, err := filetype.Match(head)
	if err != nil {
		return false, err
	}
	if kind != filetype.Unknown {
		return true, nil
	}
	return bytes.IndexByte(head, 0) >= 0, nil
}

// LinkRevResolver looks up the changeset at crev and reports whether
// its touched-files set contains path, and whether that changeset's
// manifest maps path to the expected file node.
type LinkRevResolver interface {
	// Ancestors walks changelog ancestors of crev, including crev
	// itself, in descending (closest-first) order.
	Ancestors(crev int) ([]int, error)
	// Introduces reports whether changelog revision crev's manifest
	// maps path to node (i.e. crev is where this file revision was
	// introduced on that line of history).
	Introduces(crev int, path string, node nodeid.ID) (bool, error)
}

// Introrev implements spec §4.2's introrev: starting from srcrev, walk
// changelog ancestors until finding the one that actually introduced
// this file revision, rather than trusting the stored (possibly
// shadowed) link_rev.
func Introrev(resolver LinkRevResolver, srcrev int, path string, node nodeid.ID) (int, error) {
	ancestors, err := resolver.Ancestors(srcrev)
	if err != nil {
		return -1, err
	}
	for _, crev := range ancestors {
		ok, err := resolver.Introduces(crev, path, node)
		if err != nil {
			return -1, err
		}
		if ok {
			return crev, nil
		}
	}
	return -1, fmt.Errorf("filelog: introrev: no ancestor of %d introduces %s@%s", srcrev, path, node.Short())
}
