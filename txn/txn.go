// Package txn implements strict two-phase-locked transactions: a
// transaction queues operations, runs them under record-level locks
// acquired as it goes, and aborts-and-retries the whole queue on any
// conflict or failure, per spec.md §4.7.
package txn

import (
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"lstore/lock"
)

// ErrAbort is returned (optionally wrapped with extra context via
// fmt.Errorf("...: %w", ErrAbort)) by an Op to request that the owning
// Transaction abort and retry, mirroring
// original_source/lstore/transaction.py's AbortSignal. Run also treats
// any other non-nil error the same way — a transaction has no notion
// of a "non-retryable" failure once it has started acquiring locks.
var ErrAbort = errors.New("txn: aborted")

// Undo reverses one previously-applied Op during Abort.
type Undo func()

// Op is one unit of queued work. Run performs it against whatever
// table/index state the closure captures, acquiring any locks it needs
// via Transaction.Acquire itself (only the Op knows which RIDs are
// involved). On success it returns an Undo that Abort will invoke, in
// reverse queue order, to reverse it.
type Op struct {
	Name string
	Run  func(tx *Transaction) (Undo, error)
}

// Transaction is a queue of Ops executed under strict 2PL: every lock
// acquired is held until the whole queue commits or aborts together.
type Transaction struct {
	id      uint64
	lockMgr *lock.Manager
	log     *logrus.Logger

	ops     []Op
	undoLog []Undo
}

// New returns an empty transaction identified by id, using lockMgr for
// record locking.
func New(id uint64, lockMgr *lock.Manager, log *logrus.Logger) *Transaction {
	if log == nil {
		log = logrus.New()
	}
	return &Transaction{id: id, lockMgr: lockMgr, log: log}
}

// ID returns the transaction's identifier, also used as its lock
// manager token.
func (tx *Transaction) ID() uint64 { return tx.id }

// AddQuery appends op to the transaction's queue, to run (in order) on
// the next call to Run.
func (tx *Transaction) AddQuery(op Op) {
	tx.ops = append(tx.ops, op)
}

// Acquire attempts to lock (table, rid) in mode on the transaction's
// behalf, non-blocking. An Op should treat a false return as grounds
// to return ErrAbort immediately.
func (tx *Transaction) Acquire(table string, rid uint64, mode lock.Mode) bool {
	return tx.lockMgr.TryAcquire(tx.id, lock.Key{Table: table, RID: rid}, mode) == lock.Acquired
}

func (tx *Transaction) pushUndo(u Undo) {
	if u != nil {
		tx.undoLog = append(tx.undoLog, u)
	}
}

// Run executes every queued Op in order. On any error — a lock
// conflict, an Op-level failure, anything — it undoes whatever already
// ran this attempt, releases every lock the transaction holds, and
// retries the whole queue from the top after a jittered backoff, up to
// retryLimit attempts. Returns whether it ultimately committed.
func (tx *Transaction) Run(retryLimit int) bool {
	for attempt := 1; ; attempt++ {
		tx.undoLog = tx.undoLog[:0]

		if tx.runOnce() {
			return true
		}

		tx.log.WithFields(logrus.Fields{"txn": tx.id, "attempt": attempt}).Debug("txn: aborted, retrying")
		tx.rollback()

		if attempt >= retryLimit {
			tx.log.WithField("txn", tx.id).Warn("txn: retry limit exceeded, giving up")
			return false
		}
		time.Sleep(time.Duration(1+rand.Intn(10*attempt)) * time.Millisecond)
	}
}

func (tx *Transaction) runOnce() bool {
	for _, op := range tx.ops {
		undo, err := op.Run(tx)
		if err != nil {
			tx.log.WithFields(logrus.Fields{"txn": tx.id, "op": op.Name}).WithError(err).Debug("txn: op failed")
			return false
		}
		tx.pushUndo(undo)
	}
	tx.commit()
	return true
}

// commit drops the undo log (nothing left to reverse) and releases
// every lock the transaction holds.
func (tx *Transaction) commit() {
	tx.undoLog = tx.undoLog[:0]
	tx.lockMgr.ReleaseAll(tx.id)
}

// rollback runs the undo log newest-first, then releases every lock.
func (tx *Transaction) rollback() {
	for i := len(tx.undoLog) - 1; i >= 0; i-- {
		tx.undoLog[i]()
	}
	tx.undoLog = tx.undoLog[:0]
	tx.lockMgr.ReleaseAll(tx.id)
}
