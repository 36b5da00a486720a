package lock

import "testing"

func TestSharedLocksAreCompatible(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	if r := m.TryAcquire(1, key, Shared); r != Acquired {
		t.Fatalf("txn1 acquire S: %v, want Acquired", r)
	}
	if r := m.TryAcquire(2, key, Shared); r != Acquired {
		t.Fatalf("txn2 acquire S: %v, want Acquired", r)
	}
}

func TestExclusiveConflictsWithShared(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	m.TryAcquire(1, key, Shared)
	if r := m.TryAcquire(2, key, Exclusive); r != Conflict {
		t.Fatalf("txn2 acquire X while txn1 holds S: %v, want Conflict", r)
	}
}

func TestUpgradeWhenSoleHolder(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	m.TryAcquire(1, key, Shared)
	if r := m.TryAcquire(1, key, Exclusive); r != Acquired {
		t.Fatalf("sole S holder upgrading to X: %v, want Acquired", r)
	}
}

func TestUpgradeBlockedByOtherSharer(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	m.TryAcquire(1, key, Shared)
	m.TryAcquire(2, key, Shared)
	if r := m.TryAcquire(1, key, Exclusive); r != Conflict {
		t.Fatalf("upgrade with another sharer present: %v, want Conflict", r)
	}
}

func TestReleaseAllFreesEveryHeldLock(t *testing.T) {
	m := New()
	k1 := Key{Table: "t", RID: 1}
	k2 := Key{Table: "t", RID: 2}

	m.TryAcquire(1, k1, Exclusive)
	m.TryAcquire(1, k2, Exclusive)
	m.ReleaseAll(1)

	if r := m.TryAcquire(2, k1, Exclusive); r != Acquired {
		t.Fatalf("txn2 acquire k1 after ReleaseAll(1): %v, want Acquired", r)
	}
	if r := m.TryAcquire(2, k2, Exclusive); r != Acquired {
		t.Fatalf("txn2 acquire k2 after ReleaseAll(1): %v, want Acquired", r)
	}
}

func TestExclusiveConflictsWithExclusive(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	m.TryAcquire(1, key, Exclusive)
	if r := m.TryAcquire(2, key, Exclusive); r != Conflict {
		t.Fatalf("second X acquire: %v, want Conflict", r)
	}
}

// TestQueuedWaiterIsServedBeforeLaterArrival exercises spec.md §4.6's
// FIFO fairness guarantee: once txn2 has been refused and queued
// behind txn1's X lock, a freshly-arriving txn3 must not be allowed to
// jump the queue just because its request happens to be compatible
// once the lock frees.
func TestQueuedWaiterIsServedBeforeLaterArrival(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	if r := m.TryAcquire(1, key, Exclusive); r != Acquired {
		t.Fatalf("txn1 acquire X: %v, want Acquired", r)
	}
	if r := m.TryAcquire(2, key, Exclusive); r != Conflict {
		t.Fatalf("txn2 acquire X while txn1 holds: %v, want Conflict", r)
	}

	m.Release(1, key)

	// txn3 arrives after the release, requesting a mode that would be
	// granted immediately on a fresh lock, but txn2 is still queued
	// ahead of it.
	if r := m.TryAcquire(3, key, Shared); r != Conflict {
		t.Fatalf("txn3 acquire S while txn2 is queued: %v, want Conflict", r)
	}
	if r := m.TryAcquire(2, key, Exclusive); r != Acquired {
		t.Fatalf("queued txn2 acquire X after release: %v, want Acquired", r)
	}

	m.Release(2, key)
	if r := m.TryAcquire(3, key, Shared); r != Acquired {
		t.Fatalf("txn3 acquire S once queue drains: %v, want Acquired", r)
	}
}

// TestReleaseAllForgetsAbandonedWaiter covers the flip side of the
// fairness fix above: a transaction that conflicts, gets queued, and
// then gives up for good (ReleaseAll is called on it without it ever
// acquiring the lock it queued for) must not leave a stale entry at
// the head of the queue — otherwise frontOfQueue would refuse every
// later transaction on that key forever.
func TestReleaseAllForgetsAbandonedWaiter(t *testing.T) {
	m := New()
	key := Key{Table: "t", RID: 1}

	if r := m.TryAcquire(1, key, Exclusive); r != Acquired {
		t.Fatalf("txn1 acquire X: %v, want Acquired", r)
	}
	if r := m.TryAcquire(2, key, Exclusive); r != Conflict {
		t.Fatalf("txn2 acquire X while txn1 holds: %v, want Conflict", r)
	}

	// txn2 gives up permanently without ever holding the lock.
	m.ReleaseAll(2)
	m.Release(1, key)

	if r := m.TryAcquire(3, key, Shared); r != Acquired {
		t.Fatalf("txn3 acquire S after abandoned waiter txn2 forgot: %v, want Acquired", r)
	}
}
