package revlog

import (
	"github.com/go-revlog/revlog/flagprocessor"
	"github.com/go-revlog/revlog/hgerr"
)

// HashMismatchError is raised when a reconstructed revision's content
// hash disagrees with the node recorded in the index (spec §7).
type HashMismatchError = hgerr.HashMismatchError

// FlagCensored mirrors flagprocessor.FlagCensored so a caller driving
// Revlog.Censor doesn't need its own import of package flagprocessor.
const FlagCensored = flagprocessor.FlagCensored

func hgerrLookup(name, index, reason string) error {
	return hgerr.NewLookupError(name, index, reason)
}

func applyFlagsImpl(raw []byte, flags uint16) ([]byte, bool, error) {
	out, hashCovers, err := flagprocessor.Apply(raw, flags)
	return out, hashCovers, err
}
