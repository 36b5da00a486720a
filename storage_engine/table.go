package storageengine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"lstore/bufferpool"
	"lstore/index"
	"lstore/pagerange"
)

// Table owns one column-oriented table: its page ranges, its primary
// and secondary indexes, and the next-RID counter, per spec.md §4.4.
type Table struct {
	name       string
	numColumns int
	keyColumn  int

	bp  *bufferpool.Pool
	reg *index.Registry
	log *logrus.Logger

	// mu is the per-table structural latch spec.md §5 calls for: it
	// guards range allocation and the nextRID counter. Record-level
	// mutations are otherwise serialized by the caller's record locks,
	// not by this mutex.
	mu      sync.Mutex
	ranges  []*pagerange.PageRange
	nextRID uint64
}

func newTable(name string, numColumns, keyColumn int, bp *bufferpool.Pool, log *logrus.Logger) *Table {
	return &Table{
		name:       name,
		numColumns: numColumns,
		keyColumn:  keyColumn,
		bp:         bp,
		reg:        index.NewRegistry(keyColumn),
		log:        log,
	}
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// NumColumns returns the table's user-data column count.
func (t *Table) NumColumns() int { return t.numColumns }

// KeyColumn returns the primary key's column index.
func (t *Table) KeyColumn() int { return t.keyColumn }

// CreateIndex opts col into secondary indexing and backfills it from
// every currently-live base record, per original_source/lstore/
// index.py's create_index.
func (t *Table) CreateIndex(col int) error {
	if col < 0 || col >= t.numColumns {
		return fmt.Errorf("storageengine: CreateIndex: column %d out of range", col)
	}
	ci, created := t.reg.CreateIndex(col)
	if !created {
		return nil
	}

	t.mu.Lock()
	ranges := append([]*pagerange.PageRange(nil), t.ranges...)
	t.mu.Unlock()

	for _, rng := range ranges {
		for local := 0; local < pagerange.RecordsPerRange; local++ {
			rid := rng.RangeID()*pagerange.RecordsPerRange + uint64(local)
			ind, err := rng.Indirection(rid)
			if err != nil {
				continue // slot never written
			}
			if ind == pagerange.RIDDeleted {
				continue
			}
			v, err := rng.ReadBaseColumn(rid, col)
			if err != nil {
				continue
			}
			if err := ci.Insert(v, rid); err != nil {
				t.log.WithError(err).WithField("rid", rid).Warn("storageengine: CreateIndex backfill conflict")
			}
		}
	}
	return nil
}

// DropIndex removes the secondary index on col.
func (t *Table) DropIndex(col int) error {
	if !t.reg.DropIndex(col) {
		return fmt.Errorf("storageengine: DropIndex: no index on column %d", col)
	}
	return nil
}

// ResolveRID returns the RID currently keyed by key via the primary
// index, for callers (the txn package's Op wrappers in ops.go) that
// need a lock target before calling into Table's own operations.
func (t *Table) ResolveRID(key int64) (uint64, bool) {
	rids := t.reg.Primary().PointLookup(key)
	if len(rids) == 0 {
		return 0, false
	}
	return rids[0], true
}

func (t *Table) rangeForRID(rid uint64) *pagerange.PageRange {
	id := rid / pagerange.RecordsPerRange
	t.mu.Lock()
	defer t.mu.Unlock()
	if id >= uint64(len(t.ranges)) {
		return nil
	}
	return t.ranges[id]
}

// currentRangeLocked returns the page range new inserts should target,
// allocating a fresh one if there are none yet or the last is full.
// Callers must hold t.mu.
func (t *Table) currentRangeLocked() *pagerange.PageRange {
	if len(t.ranges) == 0 || t.ranges[len(t.ranges)-1].Full() {
		rng := pagerange.New(t.name, uint64(len(t.ranges)), t.numColumns, t.bp)
		t.ranges = append(t.ranges, rng)
	}
	return t.ranges[len(t.ranges)-1]
}

// Insert validates arity and primary-key uniqueness, appends a new
// base record, and installs it into every registered index.
func (t *Table) Insert(values []int64) (uint64, error) {
	if len(values) != t.numColumns {
		return 0, fmt.Errorf("%w: table %s wants %d columns, got %d", ErrSchemaMismatch, t.name, t.numColumns, len(values))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing := t.reg.Primary().PointLookup(values[t.keyColumn]); len(existing) > 0 {
		return 0, ErrDuplicateKey
	}

	rng := t.currentRangeLocked()
	rid, err := rng.Insert(values)
	if err != nil {
		return 0, fmt.Errorf("storageengine: insert: %w", err)
	}
	if err := t.reg.InsertRow(values, rid); err != nil {
		return 0, fmt.Errorf("storageengine: insert: index: %w", err)
	}
	if rid+1 > t.nextRID {
		t.nextRID = rid + 1
	}
	return rid, nil
}

// Select resolves key through the named index column, then reads the
// columns selected by mask (a 0/1 flag per data column, per spec.md
// §6) at versionOffset for every matching RID. Deleted records are
// silently skipped, matching spec.md §4.4's "Returns empty if the RID
// is deleted".
func (t *Table) Select(key int64, indexCol int, mask []int, versionOffset int) ([][]int64, error) {
	ci := t.reg.Column(indexCol)
	if ci == nil {
		return nil, ErrNoIndex
	}
	projected := maskToColumns(mask)

	rids := ci.PointLookup(key)
	rows := make([][]int64, 0, len(rids))
	for _, rid := range rids {
		rng := t.rangeForRID(rid)
		if rng == nil {
			continue
		}
		row, err := rng.ReadVersion(rid, projected, versionOffset)
		if err != nil {
			if errors.Is(err, pagerange.ErrDeleted) {
				continue
			}
			return nil, fmt.Errorf("storageengine: select: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Update locates key via the primary index, writes a new tail record
// for the changed columns in diff (keyed by 0-based data column
// number), and maintains secondary indexes for any indexed column diff
// touches. Updating the key column itself removes and re-inserts the
// primary index entry, failing with ErrDuplicateKey if the new key is
// already taken.
func (t *Table) Update(key int64, diff map[int]int64) error {
	primary := t.reg.Primary()
	rids := primary.PointLookup(key)
	if len(rids) == 0 {
		return ErrNotFound
	}
	rid := rids[0]

	rng := t.rangeForRID(rid)
	if rng == nil {
		return ErrNotFound
	}

	if newKey, changesKey := diff[t.keyColumn]; changesKey && newKey != key {
		if existing := primary.PointLookup(newKey); len(existing) > 0 {
			return ErrDuplicateKey
		}
	}

	// Snapshot the current latest value of every indexed column diff
	// touches, so the index can be updated from old value to new value
	// without a second pass over the chain.
	oldVals := make(map[int]int64, len(diff))
	for col := range diff {
		if t.reg.Column(col) == nil {
			continue
		}
		v, err := rng.ReadVersion(rid, []int{col}, 0)
		if err != nil {
			return fmt.Errorf("storageengine: update: read old value: %w", err)
		}
		oldVals[col] = v[0]
	}

	prevIndirection, err := rng.Indirection(rid)
	if err != nil {
		return fmt.Errorf("storageengine: update: %w", err)
	}
	tid, err := rng.Update(rid, diff, prevIndirection)
	if err != nil {
		return fmt.Errorf("storageengine: update: %w", err)
	}
	if err := rng.SetIndirection(rid, tid); err != nil {
		return fmt.Errorf("storageengine: update: %w", err)
	}

	for col, newVal := range diff {
		ci := t.reg.Column(col)
		if ci == nil {
			continue
		}
		ci.Remove(oldVals[col], rid)
		if err := ci.Insert(newVal, rid); err != nil {
			return fmt.Errorf("storageengine: update: index: %w", err)
		}
	}
	return nil
}

// Delete marks rid's base record deleted and removes it from every
// index it currently appears in.
func (t *Table) Delete(key int64) error {
	primary := t.reg.Primary()
	rids := primary.PointLookup(key)
	if len(rids) == 0 {
		return ErrNotFound
	}
	rid := rids[0]

	rng := t.rangeForRID(rid)
	if rng == nil {
		return ErrNotFound
	}

	mask := make([]int, t.numColumns)
	for i := range mask {
		mask[i] = 1
	}
	row, err := rng.ReadVersion(rid, maskToColumns(mask), 0)
	if err != nil {
		return fmt.Errorf("storageengine: delete: %w", err)
	}

	if err := rng.SetIndirection(rid, pagerange.RIDDeleted); err != nil {
		return fmt.Errorf("storageengine: delete: %w", err)
	}
	t.reg.RemoveRow(row, rid)
	return nil
}

// Sum enumerates RIDs in [startKey, endKey] via the primary index's
// range scan and sums aggCol at versionOffset. Returns ErrNotFound if
// the range contains no live record, matching spec.md §6's "Returns
// False if no record exists in the given range".
func (t *Table) Sum(startKey, endKey int64, aggCol int, versionOffset int) (int64, error) {
	rids := t.reg.Primary().RangeLookup(startKey, endKey)

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
			return 0, fmt.Errorf("storageengine: sum: %w", err)
		}
		total += v[0]
		foundAny = true
	}
	if !foundAny {
		return 0, ErrNotFound
	}
	return total, nil
}

// Increment reads col's current value for key and writes back col+1
// through the ordinary Update path, so it participates in 2PL and
// rollback exactly like any other update (original_source/lstore/
// query.py.increment).
func (t *Table) Increment(key int64, col int) error {
	mask := make([]int, t.numColumns)
	mask[col] = 1
	rows, err := t.Select(key, t.keyColumn, mask, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return t.Update(key, map[int]int64{col: rows[0][0] + 1})
}

func maskToColumns(mask []int) []int {
	cols := make([]int, 0, len(mask))
	for i, v := range mask {
		if v != 0 {
			cols = append(cols, i)
		}
	}
	return cols
}
