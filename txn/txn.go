// Package txn implements the transaction manager of spec §4.6:
// registered pretxnclose/txnclose/txnabort hooks around a journal,
// nested transactions that defer the real close to the outermost
// handle, and the commit/abort control flow itself.
package txn

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/go-revlog/revlog/journal"
	"github.com/go-revlog/revlog/metrics"
)

// Transaction is one top-level transaction: a journal plus the hook
// registry that fires around its commit or abort. It satisfies
// revlog.Transactioner via JournalEntry.
type Transaction struct {
	journal *journal.Journal
	log     *logrus.Logger

	depth  int
	closed bool

	pretxnclose []func() error
	txnclose    []func()
	txnabort    []func()
}

// New creates a transaction that will journal to path.
func New(path string, log *logrus.Logger) *Transaction {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transaction{journal: journal.New(path, log), log: log}
}

// Begin writes the journal file in full, before any store mutation,
// per spec §4.6 "Journal file".
func (t *Transaction) Begin() error {
	return t.journal.Write()
}

// JournalEntry satisfies revlog.Transactioner: record that path (via
// vfs tag) had preLength bytes before this transaction touched it.
func (t *Transaction) JournalEntry(tag, path string, preLength int64) {
	t.journal.AddEntry(tag, path, preLength)
}

// AddBackup copies a non-appendable file aside before the transaction
// mutates it (dirstate, bookmarks, phaseroots, branch, desc — spec
// §4.6 "Additional per-category backups").
func (t *Transaction) AddBackup(category, originalPath, backupPath string) error {
	return t.journal.AddBackup(category, originalPath, backupPath)
}

// OnPretxnclose registers a validator run during Close, before the
// journal is committed. Any error aborts the transaction instead.
func (t *Transaction) OnPretxnclose(fn func() error) {
	t.pretxnclose = append(t.pretxnclose, fn)
}

// OnClose registers a hook fired after a successful commit. Per spec
// §4.6 ("trigger txnclose... hooks asynchronously; they may not see
// later states"), these run in their own goroutine rather than
// blocking the committing caller.
func (t *Transaction) OnClose(fn func()) {
	t.txnclose = append(t.txnclose, fn)
}

// OnAbort registers a hook fired after abort.
func (t *Transaction) OnAbort(fn func()) {
	t.txnabort = append(t.txnabort, fn)
}

// Handle is what callers actually hold: either the outermost
// Transaction or a Nest()ed wrapper around it.
type Handle interface {
	JournalEntry(tag, path string, preLength int64)
	Close() error
	Abort() error
}

// Nest returns a handle whose Close only decrements the nesting depth;
// the real close (and its pre-close validators) runs once, when the
// outermost Transaction's own Close is called, per spec §4.6 "Nested
// transactions". Abort on the last open nested handle aborts the whole
// transaction.
func (t *Transaction) Nest() Handle {
	t.depth++
	return &nested{t: t}
}

type nested struct {
	t        *Transaction
	resolved bool
}

func (n *nested) JournalEntry(tag, path string, preLength int64) {
	n.t.JournalEntry(tag, path, preLength)
}

func (n *nested) Close() error {
	if n.resolved {
		return nil
	}
	n.resolved = true
	n.t.depth--
	return nil
}

func (n *nested) Abort() error {
	if n.resolved {
		return nil
	}
	n.resolved = true
	n.t.depth--
	if n.t.depth > 0 {
		return nil
	}
	return n.t.Abort()
}

// Close runs pretxnclose validators, commits the journal, and fires
// txnclose hooks. It is a no-op if already closed or aborted.
func (t *Transaction) Close() error {
	if t.closed {
		return nil
	}
	for _, fn := range t.pretxnclose {
		if err := fn(); err != nil {
			if abortErr := t.Abort(); abortErr != nil {
				return fmt.Errorf("txn: pretxnclose validator failed (%w), and abort also failed: %v", err, abortErr)
			}
			return fmt.Errorf("txn: pretxnclose validator failed: %w", err)
		}
	}
	if err := t.journal.Commit(); err != nil {
		return fmt.Errorf("txn: committing journal: %w", err)
	}
	t.closed = true
	metrics.TransactionCommits.Inc()
	for _, fn := range t.txnclose {
		go fn()
	}
	return nil
}

// Abort truncates and restores every journaled file, then fires
// txnabort hooks. It is a no-op if already closed or aborted.
func (t *Transaction) Abort() error {
	if t.closed {
		return nil
	}
	err := t.journal.Abort()
	t.closed = true
	metrics.TransactionAborts.Inc()
	for _, fn := range t.txnabort {
		fn()
	}
	if err != nil {
		return fmt.Errorf("txn: aborting: %w", err)
	}
	return nil
}

// Recover runs the abort path against a journal left behind by a
// crashed process, found without a matching lock (spec §4.6
// "Recover").
func Recover(path string, log *logrus.Logger) error {
	if !journal.Exists(path) {
		return nil
	}
	j, err := journal.Load(path, log)
	if err != nil {
		return fmt.Errorf("txn: loading stale journal: %w", err)
	}
	return j.Abort()
}
