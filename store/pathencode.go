package store

import (
	"strings"
)

// reservedNames are Windows device names that collide with reserved
// file handles if used literally as path components.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
}

func init() {
	for i := 1; i <= 9; i++ {
		reservedNames["com"+string(rune('0'+i))] = true
		reservedNames["lpt"+string(rune('0'+i))] = true
	}
}

// EncodePath encodes a tracked file's logical path into the name of
// its filelog under store/data (spec §6 "Path encoding for filelogs
// folds case on case-insensitive filesystems and escapes reserved
// names"). Every uppercase letter and literal underscore is escaped
// ("_" + lowercase letter, "__" for a literal underscore) so the
// result is safe to store unchanged on a case-folding filesystem;
// each path component colliding with a Windows reserved device name
// gets a ".hg" suffix inserted to avoid the collision.
func EncodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = encodeSegment(seg)
	}
	return strings.Join(segments, "/")
}

func encodeSegment(seg string) string {
	var buf strings.Builder
	for _, r := range seg {
		switch {
		case r == '_':
			buf.WriteString("__")
		case r >= 'A' && r <= 'Z':
			buf.WriteByte('_')
			buf.WriteRune(r - 'A' + 'a')
		default:
			buf.WriteRune(r)
		}
	}
	encoded := buf.String()
	if reservedNames[strings.ToLower(baseBeforeExt(seg))] {
		encoded += ".hg"
	}
	return encoded
}

// baseBeforeExt returns seg up to its first '.', the part Windows
// actually matches against a reserved device name.
func baseBeforeExt(seg string) string {
	if i := strings.IndexByte(seg, '.'); i >= 0 {
		return seg[:i]
	}
	return seg
}

// DecodePath reverses EncodePath.
func DecodePath(encoded string) string {
	segments := strings.Split(encoded, "/")
	for i, seg := range segments {
		segments[i] = decodeSegment(seg)
	}
	return strings.Join(segments, "/")
}

func decodeSegment(seg string) string {
	seg = strings.TrimSuffix(seg, ".hg")
	var buf strings.Builder
	for i := 0; i < len(seg); i++ {
		if seg[i] != '_' {
			buf.WriteByte(seg[i])
			continue
		}
		if i+1 < len(seg) && seg[i+1] == '_' {
			buf.WriteByte('_')
			i++
			continue
		}
		if i+1 < len(seg) {
			buf.WriteByte(seg[i+1] - 'a' + 'A')
			i++
			continue
		}
		buf.WriteByte('_')
	}
	return buf.String()
}
