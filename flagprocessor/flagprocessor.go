// Package flagprocessor implements the fixed, ordered registry of
// flag processors that revlog.Revision consults when a revision's
// flags word is non-zero (spec §4.1 step 5, §9 "Flag processors").
//
// The registry is static at program start, not runtime-mutable, so
// that what a given flag bit does is reproducible across the whole
// process lifetime rather than depending on plugin load order.
package flagprocessor

import (
	"fmt"

	"github.com/go-revlog/revlog/hgerr"
)

// Flag bits, processed in ascending order when more than one is set.
const (
	FlagCensored    uint16 = 1 << 0
	FlagLargeFile   uint16 = 1 << 1
	FlagNarrowStub  uint16 = 1 << 2
)

// Result carries the outcome of one processor's pass over a revision.
type Result struct {
	Raw []byte
	// HashCovers, when true, means the processor already certified
	// that the stored node hash covers this Raw form directly, so the
	// caller should skip its own hash re-check against Raw.
	HashCovers bool
}

// Processor transforms or certifies the raw stored bytes of a
// revision carrying its flag bit.
type Processor interface {
	// Process is called with the bytes as read from the store (already
	// passed through any earlier processor in flag-bit order) and the
	// full flags word of the revision.
	Process(raw []byte, flags uint16) (Result, error)
}

// registry is the static, ordered list of (flag bit, processor)
// pairs. Order matters: censor should see the raw bytes before
// anything else reinterprets them.
var registry = []struct {
	bit  uint16
	proc Processor
}{
	{FlagCensored, censorProcessor{}},
	{FlagLargeFile, largeFileProcessor{}},
	{FlagNarrowStub, narrowStubProcessor{}},
}

// Apply runs every registered processor whose bit is set in flags,
// in registry order, threading Raw through each.
func Apply(raw []byte, flags uint16) ([]byte, bool, error) {
	if flags == 0 {
		return raw, false, nil
	}
	hashCovers := false
	for _, reg := range registry {
		if flags&reg.bit == 0 {
			continue
		}
		res, err := reg.proc.Process(raw, flags)
		if err != nil {
			return nil, false, fmt.Errorf("flagprocessor: flag %#x: %w", reg.bit, err)
		}
		raw = res.Raw
		if res.HashCovers {
			hashCovers = true
		}
	}
	return raw, hashCovers, nil
}

// CensorTombstone is substituted for a censored revision's content
// when CensorPolicySubstitute is in effect.
var CensorTombstone = []byte{}

// CensorPolicy controls what a censored revision's Process returns.
type CensorPolicy int

const (
	// CensorPolicySubstitute returns CensorTombstone instead of erroring.
	CensorPolicySubstitute CensorPolicy = iota
	// CensorPolicyFail returns a *hgerr.CensoredNodeError for every
	// read of the revision.
	CensorPolicyFail
)

// ActiveCensorPolicy is process-global, matching the registry's own
// static-at-startup posture; callers that need per-repo policy should
// gate at a higher layer instead of mutating this concurrently.
var ActiveCensorPolicy = CensorPolicySubstitute

type censorProcessor struct{}

func (censorProcessor) Process(raw []byte, flags uint16) (Result, error) {
	if ActiveCensorPolicy == CensorPolicyFail {
		return Result{}, &hgerr.CensoredNodeError{Tombstone: string(raw)}
	}
	return Result{Raw: CensorTombstone, HashCovers: true}, nil
}

// largeFileProcessor is a stub: in full Mercurial this indirects
// through a second store keyed by the large file's own hash. Out of
// scope here (no large-file store is specified), so it passes bytes
// through unchanged but keeps the flag bit wired so callers that set
// it don't silently lose the marker.
type largeFileProcessor struct{}

func (largeFileProcessor) Process(raw []byte, flags uint16) (Result, error) {
	return Result{Raw: raw}, nil
}

// narrowStubProcessor is a stub for narrow-clone placeholder
// revisions; narrow-repo support itself is out of scope (spec §1
// Non-goals list working-directory/narrow concerns), but the bit is
// recognized so a narrow-aware producer's flags don't trip "unknown
// flag" handling.
type narrowStubProcessor struct{}

func (narrowStubProcessor) Process(raw []byte, flags uint16) (Result, error) {
	return Result{Raw: raw}, nil
}
