// Package query is a thin façade over storageengine.Table, exposing
// exactly spec.md §6's programmatic API names and its
// boolean/empty-on-failure contract, mirroring
// original_source/lstore/query.py. Every call builds and runs a
// one-shot txn.Transaction through storageengine.Table's ops.go
// constructors, so a single query goes through the same lock
// acquisition, rollback, and retry-on-conflict path as a harness-built
// multi-query Transaction (spec.md §4.7, §5).
package query

import (
	"github.com/sirupsen/logrus"

	storageengine "lstore/storage_engine"
	"lstore/txn"
)

// retryLimit bounds how many times a single query's one-shot
// transaction retries after a lock conflict before giving up and
// reporting failure to the caller, mirroring worker.Pool's retry
// policy for harness-driven multi-query transactions (spec.md §4.8).
const retryLimit = 5

// Query wraps one table with the query surface the harness calls.
type Query struct {
	db    *storageengine.Database
	table *storageengine.Table
	log   *logrus.Logger
}

// New returns a Query bound to table, using db's lock manager and
// transaction-ID counter to run each call as a strictly-2PL-protected
// one-shot transaction.
func New(db *storageengine.Database, table *storageengine.Table) *Query {
	return &Query{db: db, table: table, log: db.Log()}
}

// run builds a one-shot transaction for op, under the Database's
// shared lock manager, and runs it to completion or exhaustion.
func (q *Query) run(op txn.Op) bool {
	tx := txn.New(q.db.NextTxnID(), q.db.Locks(), q.log)
	tx.AddQuery(op)
	return tx.Run(retryLimit)
}

// Insert writes a new row. Returns false on arity mismatch or a
// primary-key collision.
func (q *Query) Insert(columns ...int64) bool {
	return q.run(q.table.InsertOp(columns))
}

// Select returns every row whose value in indexCol matches key,
// projected to the columns named by mask (a 0/1 flag per data
// column), at the latest version.
func (q *Query) Select(key int64, indexCol int, mask []int) [][]int64 {
	return q.SelectVersion(key, indexCol, mask, 0)
}

// SelectVersion is Select with an explicit version offset (0 = latest,
// -1 = one version before latest, ...).
func (q *Query) SelectVersion(key int64, indexCol int, mask []int, versionOffset int) [][]int64 {
	var rows [][]int64
	q.run(q.table.SelectOp(key, indexCol, mask, versionOffset, &rows))
	return rows
}

// Update writes newValues over the row keyed by primaryKey. A nil
// entry in newValues means "unchanged", matching spec.md §6's
// `update(key, *new_values_with_none_for_unchanged)`. Returns false if
// no record matches key, the write conflicts with a concurrent
// transaction, or the write cannot otherwise proceed.
func (q *Query) Update(primaryKey int64, newValues []*int64) bool {
	diff := make(map[int]int64, len(newValues))
	for col, v := range newValues {
		if v != nil {
			diff[col] = *v
		}
	}
	return q.run(q.table.UpdateOp(primaryKey, diff))
}

// Delete removes the row keyed by primaryKey. Returns false if no such
// row exists or the delete conflicts with a concurrent transaction.
func (q *Query) Delete(primaryKey int64) bool {
	return q.run(q.table.DeleteOp(primaryKey))
}

// Sum aggregates aggregateColumn over every primary key in
// [startRange, endRange] at the latest version.
func (q *Query) Sum(startRange, endRange int64, aggregateColumn int) (int64, bool) {
	return q.SumVersion(startRange, endRange, aggregateColumn, 0)
}

// SumVersion is Sum with an explicit version offset.
func (q *Query) SumVersion(startRange, endRange int64, aggregateColumn, versionOffset int) (int64, bool) {
	var total int64
	var found bool
	q.run(q.table.SumOp(startRange, endRange, aggregateColumn, versionOffset, &total, &found))
	return total, found
}

// Increment adds one to column for the row keyed by key. Returns false
// if no such row exists or the increment conflicts with a concurrent
// transaction.
func (q *Query) Increment(key int64, column int) bool {
	return q.run(q.table.IncrementOp(key, column))
}
