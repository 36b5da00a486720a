// Package index is a thin façade over an ordered map, giving Table
// point and range lookups from column value to RID. The primary index
// is unique per spec.md §4.5; secondary indexes (opt-in, lazily built)
// may map one value to several RIDs.
package index

import (
	"errors"
	"sync"

	"github.com/google/btree"
)

// ErrDuplicateKey is returned by Insert on a unique index when the
// value already maps to a different RID.
var ErrDuplicateKey = errors.New("index: duplicate key")

const btreeDegree = 32

// valueItem orders the btree by column value; it carries no payload
// because the RID bucket lives in ColumnIndex.buckets — the tree only
// needs to answer "what distinct values exist, in order".
type valueItem int64

func (v valueItem) Less(other btree.Item) bool {
	return v < other.(valueItem)
}

// ColumnIndex is the ordered map for one column: a google/btree tree
// of distinct values for ordered/range iteration, plus a bucket of
// RIDs per value (several for a non-unique secondary index).
type ColumnIndex struct {
	mu      sync.RWMutex
	unique  bool
	tree    *btree.BTree
	buckets map[int64][]uint64
}

// NewColumnIndex returns an empty column index. unique should be true
// only for the table's primary-key column.
func NewColumnIndex(unique bool) *ColumnIndex {
	return &ColumnIndex{
		unique:  unique,
		tree:    btree.New(btreeDegree),
		buckets: make(map[int64][]uint64),
	}
}

// Insert adds value -> rid. For a unique index, a pre-existing,
// different RID at the same value is ErrDuplicateKey.
func (c *ColumnIndex) Insert(value int64, rid uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, exists := c.buckets[value]
	if c.unique && exists && len(bucket) > 0 && bucket[0] != rid {
		return ErrDuplicateKey
	}
	if !exists {
		c.tree.ReplaceOrInsert(valueItem(value))
	}
	c.buckets[value] = append(bucket, rid)
	return nil
}

// Remove drops the (value, rid) pair.
func (c *ColumnIndex) Remove(value int64, rid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[value]
	if !ok {
		return
	}
	for i, r := range bucket {
		if r == rid {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, value)
		c.tree.Delete(valueItem(value))
		return
	}
	c.buckets[value] = bucket
}

// PointLookup returns every RID stored under value.
func (c *ColumnIndex) PointLookup(value int64) []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bucket := c.buckets[value]
	out := make([]uint64, len(bucket))
	copy(out, bucket)
	return out
}

// RangeLookup returns every RID whose column value falls in [lo, hi],
// in ascending value order (and insertion order within a value).
// Returns an empty, non-error result when lo > hi, per spec.md §4.4.
func (c *ColumnIndex) RangeLookup(lo, hi int64) []uint64 {
	if lo > hi {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []uint64
	c.tree.AscendRange(valueItem(lo), valueItem(hi+1), func(item btree.Item) bool {
		v := int64(item.(valueItem))
		out = append(out, c.buckets[v]...)
		return true
	})
	return out
}

// Len reports the number of distinct indexed values.
func (c *ColumnIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}
