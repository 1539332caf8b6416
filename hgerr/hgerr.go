// Package hgerr defines the error taxonomy shared by the revlog core.
//
// Callers type-switch or use errors.As against these rather than
// comparing strings; every constructor attaches enough context (node,
// rev, path) to make a log line useful without a stack trace.
package hgerr

import "fmt"

// LookupError is raised for an unknown node, rev, path, or an
// ambiguous hex prefix. Recoverable by the caller; never logged at
// the revlog layer itself.
type LookupError struct {
	Name   string // the node/rev/path that failed to resolve
	Index  string // which revlog/index was being searched
	Reason string
}

func (e *LookupError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("%s@%s: %s", e.Name, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

func NewLookupError(name, index, reason string) *LookupError {
	return &LookupError{Name: name, Index: index, Reason: reason}
}

// FilteredLookupError means the target exists but is hidden by the
// current view (e.g. a censored or stripped revision). It embeds
// LookupError so callers that only check for "not found" keep working.
type FilteredLookupError struct {
	LookupError
}

func NewFilteredLookupError(name, index, reason string) *FilteredLookupError {
	return &FilteredLookupError{LookupError{Name: name, Index: index, Reason: reason}}
}

// HashMismatchError means the stored hash disagrees with the
// recomputed content. Fatal for the operation; the data is corrupt.
type HashMismatchError struct {
	Index    string
	Rev      int64
	Expected string
	Got      string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s@%d: integrity check failed: expected %s, got %s", e.Index, e.Rev, e.Expected, e.Got)
}

// CensoredNodeError signals that content was intentionally redacted.
// Policy (see flagprocessor) decides whether to substitute empty
// bytes or propagate this to the caller.
type CensoredNodeError struct {
	Index string
	Rev   int64
	Tombstone string
}

func (e *CensoredNodeError) Error() string {
	return fmt.Sprintf("%s@%d: content is censored: %s", e.Index, e.Rev, e.Tombstone)
}

// Abort is a higher-level precondition failure meant for a human:
// uncommitted changes, an unknown branch, a missing merge tool. It
// carries an optional Hint with a suggested remedy.
type Abort struct {
	Message string
	Hint    string
}

func (e *Abort) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("abort: %s (%s)", e.Message, e.Hint)
	}
	return fmt.Sprintf("abort: %s", e.Message)
}

func NewAbort(message string, hintf string, args ...interface{}) *Abort {
	a := &Abort{Message: message}
	if hintf != "" {
		a.Hint = fmt.Sprintf(hintf, args...)
	}
	return a
}

// LockError is the base for lock acquisition failures.
type LockError struct {
	Path   string
	Reason string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("could not lock %s: %s", e.Path, e.Reason)
}

// LockHeld means the lock is held by another live process. Owner is
// the raw "host:pid" content of the lock file.
type LockHeld struct {
	LockError
	Owner string
}

func (e *LockHeld) Error() string {
	return fmt.Sprintf("could not lock %s: held by %s", e.Path, e.Owner)
}

// LockUnavailable means the lock could not even be attempted, e.g.
// the containing directory does not exist or isn't writable.
type LockUnavailable struct {
	LockError
}

// InterventionRequired means an unfinished multistep operation
// (graft, merge, transplant) blocks this request until the caller
// runs a --continue or --abort equivalent.
type InterventionRequired struct {
	Message string
}

func (e *InterventionRequired) Error() string { return e.Message }

// ProgrammingError means an invariant was violated by caller code. It
// must never be raised in response to user input or on-disk data.
type ProgrammingError struct {
	Message string
}

func (e *ProgrammingError) Error() string { return fmt.Sprintf("programming error: %s", e.Message) }

// PushRaced means a concurrent push was observed mid-operation; the
// client must re-run discovery and retry.
type PushRaced struct {
	Message string
}

func (e *PushRaced) Error() string { return fmt.Sprintf("push raced: %s", e.Message) }

// NotSupported is raised by read-only overlays (bundlerepo) for any
// mutating operation.
type NotSupported struct {
	Op string
}

func (e *NotSupported) Error() string { return fmt.Sprintf("%s: not supported", e.Op) }
