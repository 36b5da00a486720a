package txn

import (
	"errors"
	"testing"

	"lstore/lock"
)

func TestRunCommitsWhenEveryOpSucceeds(t *testing.T) {
	lm := lock.New()
	tx := New(1, lm, nil)

	var ran []string
	tx.AddQuery(Op{Name: "a", Run: func(tx *Transaction) (Undo, error) {
		ran = append(ran, "a")
		return nil, nil
	}})
	tx.AddQuery(Op{Name: "b", Run: func(tx *Transaction) (Undo, error) {
		ran = append(ran, "b")
		return nil, nil
	}})

	if ok := tx.Run(3); !ok {
		t.Fatal("Run() = false, want true")
	}
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Fatalf("ops ran = %v, want [a b]", ran)
	}
}

func TestRunRollsBackUndoOnFailureThenRetries(t *testing.T) {
	lm := lock.New()
	tx := New(1, lm, nil)

	var undone bool
	attempts := 0
	tx.AddQuery(Op{Name: "succeeds-then-undoes", Run: func(tx *Transaction) (Undo, error) {
		return func() { undone = true }, nil
	}})
	tx.AddQuery(Op{Name: "fails-once", Run: func(tx *Transaction) (Undo, error) {
		attempts++
		if attempts == 1 {
			return nil, ErrAbort
		}
		return nil, nil
	}})

	if ok := tx.Run(5); !ok {
		t.Fatal("Run() = false, want true after retry")
	}
	if !undone {
		t.Fatal("first op's undo was never invoked after the second op failed")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRunGivesUpAfterRetryLimit(t *testing.T) {
	lm := lock.New()
	tx := New(1, lm, nil)

	tx.AddQuery(Op{Name: "always-fails", Run: func(tx *Transaction) (Undo, error) {
		return nil, errors.New("boom")
	}})

	if ok := tx.Run(2); ok {
		t.Fatal("Run() = true, want false")
	}
}

func TestRunReleasesLocksOnCommit(t *testing.T) {
	lm := lock.New()
	tx := New(1, lm, nil)
	key := lock.Key{Table: "t", RID: 1}

	tx.AddQuery(Op{Name: "lock-and-go", Run: func(tx *Transaction) (Undo, error) {
		if !tx.Acquire("t", 1, lock.Exclusive) {
			return nil, ErrAbort
		}
		return nil, nil
	}})
	if ok := tx.Run(1); !ok {
		t.Fatal("Run() = false, want true")
	}

	if r := lm.TryAcquire(2, key, lock.Exclusive); r != lock.Acquired {
		t.Fatalf("lock still held after commit: %v", r)
	}
}

func TestRunReleasesLocksOnFinalAbort(t *testing.T) {
	lm := lock.New()
	tx := New(1, lm, nil)
	key := lock.Key{Table: "t", RID: 1}

	tx.AddQuery(Op{Name: "lock-then-fail", Run: func(tx *Transaction) (Undo, error) {
		if !tx.Acquire("t", 1, lock.Exclusive) {
			return nil, ErrAbort
		}
		return nil, errors.New("boom")
	}})
	if ok := tx.Run(1); ok {
		t.Fatal("Run() = true, want false")
	}

	if r := lm.TryAcquire(2, key, lock.Exclusive); r != lock.Acquired {
		t.Fatalf("lock still held after final abort: %v", r)
	}
}
