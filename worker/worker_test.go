package worker

import (
	"errors"
	"testing"

	"lstore/lock"
	"lstore/txn"
)

func newTxn(id uint64, lm *lock.Manager, shouldFail bool) *txn.Transaction {
	tx := txn.New(id, lm, nil)
	tx.AddQuery(txn.Op{Name: "op", Run: func(tx *txn.Transaction) (txn.Undo, error) {
		if shouldFail {
			return nil, errors.New("boom")
		}
		return nil, nil
	}})
	return tx
}

func TestRunReportsPerTransactionResultInSubmissionOrder(t *testing.T) {
	lm := lock.New()
	p := New(4, nil)

	txns := []*txn.Transaction{
		newTxn(1, lm, false),
		newTxn(2, lm, false),
		newTxn(3, lm, true),
	}

	got := p.Run(txns, 1)
	want := []bool{true, true, false}
	if len(got) != len(want) {
		t.Fatalf("Run() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Run()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRunWithSingleWorkerProcessesAllTransactions(t *testing.T) {
	lm := lock.New()
	p := New(1, nil)

	txns := make([]*txn.Transaction, 0, 10)
	for i := uint64(0); i < 10; i++ {
		txns = append(txns, newTxn(i, lm, false))
	}

	got := p.Run(txns, 1)
	if len(got) != 10 {
		t.Fatalf("Run() returned %d results, want 10", len(got))
	}
	for i, ok := range got {
		if !ok {
			t.Fatalf("Run()[%d] = false, want true", i)
		}
	}
}

func TestNewClampsSizeToAtLeastOne(t *testing.T) {
	p := New(0, nil)
	if p.size != 1 {
		t.Fatalf("New(0).size = %d, want 1", p.size)
	}
}
