package storageengine

import (
	"errors"
	"sort"

	"lstore/lock"
	"lstore/pagerange"
	"lstore/txn"
)

// InsertOp returns a txn.Op that inserts values as a new row. Insert
// never contends for an existing record lock — a fresh RID has no
// prior holder — but unwinds itself on abort by deleting the row it
// just created, keyed by its own primary-key column.
func (t *Table) InsertOp(values []int64) txn.Op {
	return txn.Op{
		Name: "insert",
		Run: func(tx *txn.Transaction) (txn.Undo, error) {
			if _, err := t.Insert(values); err != nil {
				return nil, err
			}
			key := values[t.keyColumn]
			return func() { t.Delete(key) }, nil
		},
	}
}

// SelectOp returns a txn.Op that looks up key via indexCol, S-locks
// every matching RID (a secondary index can map one key to several),
// and writes the projected row set into *out. *out is set to an empty
// slice if no live RID matches, matching original_source/lstore/transaction.py's
// handle_read, which locks every RID a read touches before reading
// any of them.
func (t *Table) SelectOp(key int64, indexCol int, mask []int, versionOffset int, out *[][]int64) txn.Op {
	return txn.Op{
		Name: "select",
		Run: func(tx *txn.Transaction) (txn.Undo, error) {
			ci := t.reg.Column(indexCol)
			if ci == nil {
				return nil, ErrNoIndex
			}
			for _, rid := range ci.PointLookup(key) {
				if !tx.Acquire(t.name, rid, lock.Shared) {
					return nil, txn.ErrAbort
				}
			}
			rows, err := t.Select(key, indexCol, mask, versionOffset)
			if err != nil {
				return nil, err
			}
			*out = rows
			return nil, nil
		},
	}
}

// SumOp returns a txn.Op that snapshots the RID list for
// [startKey, endKey] via the primary index's range scan, S-locks every
// one of them, and then sums aggCol at versionOffset over exactly that
// snapshot — a second RangeLookup after locking could observe RIDs
// inserted in between, which spec.md §9 documents as the accepted
// phantom-protection gap, but the snapshot-before-lock order itself
// matches original_source/lstore/transaction.py's handle_read for
// sum/sum_version and spec.md §4.7's "range aggregations must S-lock
// every RID they aggregate". Writes the total into *out and reports
// whether any record was found into *found.
func (t *Table) SumOp(startKey, endKey int64, aggCol, versionOffset int, out *int64, found *bool) txn.Op {
	return txn.Op{
		Name: "sum",
		Run: func(tx *txn.Transaction) (txn.Undo, error) {
			rids := t.reg.Primary().RangeLookup(startKey, endKey)
			for _, rid := range rids {
				if !tx.Acquire(t.name, rid, lock.Shared) {
					return nil, txn.ErrAbort
				}
			}

			var total int64
			var foundAny bool
			for _, rid := range rids {
				rng := t.rangeForRID(rid)
				if rng == nil {
					continue
				}
				v, err := rng.ReadVersion(rid, []int{aggCol}, versionOffset)
				if err != nil {
					if errors.Is(err, pagerange.ErrDeleted) {
						continue
					}
					return nil, err
				}
				total += v[0]
				foundAny = true
			}
			*out, *found = total, foundAny
			return nil, nil
		},
	}
}

// UpdateOp returns a txn.Op that acquires an exclusive lock on key's
// RID, applies diff, and on abort reapplies the pre-update values of
// every column diff touched (including, if diff retargets the primary
// key, restoring it under the new key).
func (t *Table) UpdateOp(key int64, diff map[int]int64) txn.Op {
	return txn.Op{
		Name: "update",
		Run: func(tx *txn.Transaction) (txn.Undo, error) {
			rid, ok := t.ResolveRID(key)
			if !ok {
				return nil, ErrNotFound
			}
			if !tx.Acquire(t.name, rid, lock.Exclusive) {
				return nil, txn.ErrAbort
			}

			cols := make([]int, 0, len(diff))
			for col := range diff {
				cols = append(cols, col)
			}
			sort.Ints(cols)
			old, err := t.Select(key, t.keyColumn, maskFor(t.numColumns, cols), 0)
			if err != nil {
				return nil, err
			}
			if len(old) == 0 {
				return nil, ErrNotFound
			}
			// Select projects columns in ascending order regardless of
			// mask ordering, so cols (sorted above) lines up 1:1 with
			// old[0].
			undoDiff := make(map[int]int64, len(cols))
			for i, col := range cols {
				undoDiff[col] = old[0][i]
			}

			if err := t.Update(key, diff); err != nil {
				return nil, err
			}

			lookupKey := key
			if newKey, changed := diff[t.keyColumn]; changed {
				lookupKey = newKey
			}
			return func() { t.Update(lookupKey, undoDiff) }, nil
		},
	}
}

// DeleteOp returns a txn.Op that acquires an exclusive lock on key's
// RID, deletes it, and on abort re-inserts the row it deleted (under a
// freshly assigned RID — it is the row's values, not its RID, that
// Delete's caller cares about).
func (t *Table) DeleteOp(key int64) txn.Op {
	return txn.Op{
		Name: "delete",
		Run: func(tx *txn.Transaction) (txn.Undo, error) {
			rid, ok := t.ResolveRID(key)
			if !ok {
				return nil, ErrNotFound
			}
			if !tx.Acquire(t.name, rid, lock.Exclusive) {
				return nil, txn.ErrAbort
			}

			full := make([]int, t.numColumns)
			for i := range full {
				full[i] = i
			}
			row, err := t.Select(key, t.keyColumn, maskFor(t.numColumns, full), 0)
			if err != nil {
				return nil, err
			}
			if len(row) == 0 {
				return nil, ErrNotFound
			}

			if err := t.Delete(key); err != nil {
				return nil, err
			}
			values := row[0]
			return func() { t.Insert(values) }, nil
		},
	}
}

// IncrementOp returns a txn.Op that acquires an exclusive lock on
// key's RID, increments col by one through the ordinary update path,
// and on abort decrements it back.
func (t *Table) IncrementOp(key int64, col int) txn.Op {
	return txn.Op{
		Name: "increment",
		Run: func(tx *txn.Transaction) (txn.Undo, error) {
			rid, ok := t.ResolveRID(key)
			if !ok {
				return nil, ErrNotFound
			}
			if !tx.Acquire(t.name, rid, lock.Exclusive) {
				return nil, txn.ErrAbort
			}

			mask := make([]int, t.numColumns)
			mask[col] = 1
			rows, err := t.Select(key, t.keyColumn, mask, 0)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, ErrNotFound
			}
			old := rows[0][0]

			if err := t.Update(key, map[int]int64{col: old + 1}); err != nil {
				return nil, err
			}
			return func() { t.Update(key, map[int]int64{col: old}) }, nil
		},
	}
}

func maskFor(numColumns int, cols []int) []int {
	mask := make([]int, numColumns)
	for _, c := range cols {
		mask[c] = 1
	}
	return mask
}

