package index

import "sync"

// Registry holds one table's primary index plus any opted-in secondary
// indexes, keyed by column number. It is the "Index" object of
// spec.md §4.5; ColumnIndex above is the per-column ordered map it is
// built from.
type Registry struct {
	mu         sync.RWMutex
	keyColumn  int
	byColumn   map[int]*ColumnIndex
}

// NewRegistry creates a registry with only the primary key column
// indexed, matching original_source/lstore/index.py's
// `indices[table.key] = SortedDict()` default.
func NewRegistry(keyColumn int) *Registry {
	return &Registry{
		keyColumn: keyColumn,
		byColumn:  map[int]*ColumnIndex{keyColumn: NewColumnIndex(true)},
	}
}

// Primary returns the primary key's column index.
func (r *Registry) Primary() *ColumnIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byColumn[r.keyColumn]
}

// Column returns the column index for col, or nil if col is not
// indexed.
func (r *Registry) Column(col int) *ColumnIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byColumn[col]
}

// CreateIndex opts column col into secondary indexing. The caller is
// responsible for populating it (a scan over existing live records) —
// Registry only owns the empty structure, since it has no visibility
// into table storage.
func (r *Registry) CreateIndex(col int) (*ColumnIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byColumn[col]; exists {
		return r.byColumn[col], false
	}
	ci := NewColumnIndex(false)
	r.byColumn[col] = ci
	return ci, true
}

// DropIndex removes the secondary index on col. Dropping the primary
// key's index is not permitted.
func (r *Registry) DropIndex(col int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if col == r.keyColumn {
		return false
	}
	if _, exists := r.byColumn[col]; !exists {
		return false
	}
	delete(r.byColumn, col)
	return true
}

// InsertRow updates every registered column index for a newly-visible
// row's values. values is indexed by column number 0..N-1.
func (r *Registry) InsertRow(values []int64, rid uint64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for col, ci := range r.byColumn {
		if col < 0 || col >= len(values) {
			continue
		}
		if err := ci.Insert(values[col], rid); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRow removes rid from every registered column index that has
// values for it.
func (r *Registry) RemoveRow(values []int64, rid uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for col, ci := range r.byColumn {
		if col < 0 || col >= len(values) {
			continue
		}
		ci.Remove(values[col], rid)
	}
}

// Columns returns the currently-indexed column numbers.
func (r *Registry) Columns() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int, 0, len(r.byColumn))
	for col := range r.byColumn {
		out = append(out, col)
	}
	return out
}
