// Package lock implements record-level shared/exclusive locking for
// strict two-phase locking. Every call is non-blocking: a conflict is
// reported immediately and it is the caller's (Transaction/Worker's)
// job to decide whether to abort and retry.
package lock

import (
	"sync"
)

// Mode is the lock mode requested for a record.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Result is the outcome of a TryAcquire call.
type Result int

const (
	Acquired Result = iota
	Conflict
)

// Key identifies a lockable record: a table name plus a RID.
type Key struct {
	Table string
	RID   uint64
}

type recordLock struct {
	mu      sync.Mutex
	mode    Mode
	holders map[uint64]struct{} // txn IDs holding this lock
	// waiters records FIFO arrival order of txns that have ever been
	// refused this lock since it was last free (spec.md §4.6). Once
	// non-empty, TryAcquire refuses any txn other than waiters[0],
	// even one requesting a mode compatible with the current holders —
	// otherwise a stream of new Shared requests could starve a queued
	// Exclusive waiter indefinitely.
	waiters []uint64
}

// Manager is a table of per-record locks. The table itself is a single
// map guarded by one mutex; each record lock has its own mutex.
type Manager struct {
	mu    sync.Mutex
	locks map[Key]*recordLock
	// held tracks, per transaction, the set of keys it currently
	// holds a lock on — mirrors leftmike-maho.v1's per-Locker
	// locks map, so ReleaseAll doesn't need to scan every key in the
	// manager.
	held map[uint64]map[Key]struct{}
	// waiting tracks, per transaction, the set of keys it is currently
	// queued on. A transaction that gives up for good (final abort)
	// without ever acquiring a key must still be dequeued from it —
	// otherwise it would sit at the head of that key's waiter queue
	// forever, refusing every future acquirer. ReleaseAll drains this
	// the same way it drains held.
	waiting map[uint64]map[Key]struct{}
}

// New returns an empty lock manager.
func New() *Manager {
	return &Manager{
		locks:   make(map[Key]*recordLock),
		held:    make(map[uint64]map[Key]struct{}),
		waiting: make(map[uint64]map[Key]struct{}),
	}
}

func (m *Manager) lockFor(key Key) *recordLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk, ok := m.locks[key]
	if !ok {
		lk = &recordLock{holders: make(map[uint64]struct{})}
		m.locks[key] = lk
	}
	return lk
}

// TryAcquire attempts to grant txn the requested mode on key without
// blocking. Compatibility: S/S compatible, everything else conflicts.
// A transaction already holding the sole S lock may upgrade to X. A
// txn that is not at the front of an existing waiter queue is refused
// regardless of compatibility, so a queued waiter is served before any
// later-arriving request — see the fairness note on recordLock.waiters.
func (m *Manager) TryAcquire(txn uint64, key Key, mode Mode) Result {
	lk := m.lockFor(key)

	lk.mu.Lock()
	defer lk.mu.Unlock()

	if _, held := lk.holders[txn]; held {
		if mode == Shared || lk.mode == Exclusive {
			return Acquired
		}
		// Requesting X while holding S: upgrade only if sole holder.
		if len(lk.holders) == 1 {
			lk.mode = Exclusive
			return Acquired
		}
		m.enqueueWaiter(lk, key, txn)
		return Conflict
	}

	if !frontOfQueue(lk, txn) {
		m.enqueueWaiter(lk, key, txn)
		return Conflict
	}

	if len(lk.holders) == 0 {
		lk.mode = mode
		lk.holders[txn] = struct{}{}
		m.dequeueWaiter(lk, key, txn)
		m.markHeld(txn, key)
		return Acquired
	}

	if mode == Shared && lk.mode == Shared {
		lk.holders[txn] = struct{}{}
		m.dequeueWaiter(lk, key, txn)
		m.markHeld(txn, key)
		return Acquired
	}

	m.enqueueWaiter(lk, key, txn)
	return Conflict
}

// frontOfQueue reports whether txn is free to attempt acquisition: the
// queue is empty, or txn is the one at its head.
func frontOfQueue(lk *recordLock, txn uint64) bool {
	return len(lk.waiters) == 0 || lk.waiters[0] == txn
}

func (m *Manager) markHeld(txn uint64, key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.held[txn]
	if !ok {
		set = make(map[Key]struct{})
		m.held[txn] = set
	}
	set[key] = struct{}{}
}

func (m *Manager) unmarkHeld(txn uint64, key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.held[txn]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.held, txn)
		}
	}
}

func (m *Manager) markWaiting(txn uint64, key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.waiting[txn]
	if !ok {
		set = make(map[Key]struct{})
		m.waiting[txn] = set
	}
	set[key] = struct{}{}
}

func (m *Manager) unmarkWaiting(txn uint64, key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.waiting[txn]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.waiting, txn)
		}
	}
}

func (m *Manager) enqueueWaiter(lk *recordLock, key Key, txn uint64) {
	for _, w := range lk.waiters {
		if w == txn {
			return
		}
	}
	lk.waiters = append(lk.waiters, txn)
	m.markWaiting(txn, key)
}

func (m *Manager) dequeueWaiter(lk *recordLock, key Key, txn uint64) {
	for i, w := range lk.waiters {
		if w == txn {
			lk.waiters = append(lk.waiters[:i], lk.waiters[i+1:]...)
			break
		}
	}
	m.unmarkWaiting(txn, key)
}

// Release drops txn's hold on key, if any, and clears any waiter entry
// it left behind on key.
func (m *Manager) Release(txn uint64, key Key) {
	m.mu.Lock()
	lk, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	lk.mu.Lock()
	delete(lk.holders, txn)
	m.dequeueWaiter(lk, key, txn)
	lk.mu.Unlock()

	m.unmarkHeld(txn, key)
}

// forgetWaiting dequeues txn from key's waiter queue without it ever
// having held the lock. Used by ReleaseAll to clean up after a
// transaction that conflicted, queued, and then gave up for good
// without retrying to acquire the lock it queued for — left alone,
// that stale queue entry would sit at the head of key's waiters
// forever and refuse every future acquirer under the frontOfQueue
// gate in TryAcquire.
func (m *Manager) forgetWaiting(txn uint64, key Key) {
	m.mu.Lock()
	lk, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	lk.mu.Lock()
	m.dequeueWaiter(lk, key, txn)
	lk.mu.Unlock()
}

// ReleaseAll drops every lock txn currently holds, and forgets every
// lock it is merely queued on, per spec.md §4.7's strict-2PL protocol.
// Called unconditionally at the end of every transaction attempt — on
// commit, and on abort once the undo log has run — including a final
// abort after which txn will never call TryAcquire again.
func (m *Manager) ReleaseAll(txn uint64) {
	m.mu.Lock()
	held := m.held[txn]
	keys := make([]Key, 0, len(held))
	for k := range held {
		keys = append(keys, k)
	}
	delete(m.held, txn)

	waiting := m.waiting[txn]
	waitKeys := make([]Key, 0, len(waiting))
	for k := range waiting {
		waitKeys = append(waitKeys, k)
	}
	delete(m.waiting, txn)
	m.mu.Unlock()

	for _, k := range keys {
		m.Release(txn, k)
	}
	for _, k := range waitKeys {
		m.forgetWaiting(txn, k)
	}
}
