// Package storageengine composes page, diskio, bufferpool, index,
// lock, and catalog into Table and Database, the top-level objects of
// spec.md §4.4 and §4.9.
package storageengine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"lstore/bufferpool"
	"lstore/catalog"
	"lstore/diskio"
	"lstore/lock"
	"lstore/pagerange"
)

const defaultBufferPoolCapacity = 1024

// Options configures a Database. Use the With* functions below rather
// than constructing it directly.
type Options struct {
	bufferPoolCapacity int
	log                *logrus.Logger
}

// Option configures a Database at Open time, matching the teacher's
// small-constructor-function style generalized to the functional
// options pattern.
type Option func(*Options)

// WithBufferPoolCapacity overrides the default number of resident
// page frames.
func WithBufferPoolCapacity(n int) Option {
	return func(o *Options) { o.bufferPoolCapacity = n }
}

// WithLogger supplies a pre-configured logger instead of a default
// one, so callers can route engine logs into their own output/levels.
func WithLogger(l *logrus.Logger) Option {
	return func(o *Options) { o.log = l }
}

// Database is the top-level, explicit lifecycle object: no
// process-wide singleton, so tests can run several concurrent
// instances against different directories (spec.md §9).
type Database struct {
	path string
	log  *logrus.Logger

	disk *diskio.Manager
	bp   *bufferpool.Pool
	cat  *catalog.Manager
	lm   *lock.Manager

	mu     sync.RWMutex
	tables map[string]*Table

	poisonMu sync.Mutex
	poisoned error

	nextTxnID atomic.Uint64
}

// Open creates or opens a database directory: rebuilds Table
// descriptors from the catalog header and repopulates every index by
// scanning base pages, per spec.md §4.9.
func Open(path string, opts ...Option) (*Database, error) {
	o := &Options{bufferPoolCapacity: defaultBufferPoolCapacity}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logrus.New()
	}

	disk, err := diskio.New(path)
	if err != nil {
		return nil, fmt.Errorf("storageengine: open: %w", err)
	}
	cat, err := catalog.New(path)
	if err != nil {
		return nil, fmt.Errorf("storageengine: open: %w", err)
	}

	db := &Database{
		path:   path,
		log:    o.log,
		disk:   disk,
		bp:     bufferpool.New(o.bufferPoolCapacity, disk, o.log),
		cat:    cat,
		lm:     lock.New(),
		tables: make(map[string]*Table),
	}

	for _, name := range cat.Tables() {
		desc, ok := cat.Get(name)
		if !ok {
			continue
		}
		if err := db.rehydrateTable(desc); err != nil {
			return nil, fmt.Errorf("storageengine: open: rehydrate %s: %w", name, err)
		}
	}

	return db, nil
}

func (db *Database) rehydrateTable(desc *catalog.TableDescriptor) error {
	t := newTable(desc.Name, desc.NumColumns, desc.KeyColumn, db.bp, db.log)
	t.nextRID = desc.NextRID
	for i := 0; i < desc.PageRangeCount; i++ {
		var state catalog.RangeState
		if i < len(desc.RangeStates) {
			state = desc.RangeStates[i]
		}
		t.ranges = append(t.ranges, pagerange.Restore(desc.Name, uint64(i), desc.NumColumns, db.bp,
			state.BasePageCount, state.TailPageCount, state.NextTailSeq))
	}
	for _, col := range desc.IndexedColumns {
		t.reg.CreateIndex(col)
	}

	for _, rng := range t.ranges {
		for local := uint64(0); local < pagerange.RecordsPerRange; local++ {
			rid := rng.RangeID()*pagerange.RecordsPerRange + local
			ind, err := rng.Indirection(rid)
			if err != nil {
				break // first never-written slot: this range's live end
			}
			if ind == pagerange.RIDDeleted {
				continue
			}
			values := make([]int64, t.numColumns)
			for col := range values {
				v, err := rng.ReadBaseColumn(rid, col)
				if err != nil {
					return err
				}
				values[col] = v
			}
			if err := t.reg.InsertRow(values, rid); err != nil {
				db.log.WithError(err).WithField("rid", rid).Warn("storageengine: open: index rebuild conflict")
			}
		}
	}

	db.mu.Lock()
	db.tables[desc.Name] = t
	db.mu.Unlock()
	return nil
}

// checkPoisoned returns ErrPoisoned if a prior I/O error has already
// taken the database out of service.
func (db *Database) checkPoisoned() error {
	db.poisonMu.Lock()
	defer db.poisonMu.Unlock()
	return db.poisoned
}

// poison marks the database permanently failed after an I/O error,
// per spec.md §7: "Fatal: the Database is marked poisoned and all
// subsequent calls fail."
func (db *Database) poison(err error) error {
	db.poisonMu.Lock()
	if db.poisoned == nil {
		db.poisoned = fmt.Errorf("%w: %w", ErrPoisoned, err)
		db.log.WithError(err).Error("storageengine: database poisoned")
	}
	poisoned := db.poisoned
	db.poisonMu.Unlock()
	return poisoned
}

// CreateTable registers a brand-new table, both in the catalog and in
// memory.
func (db *Database) CreateTable(name string, numColumns, keyColumn int) (*Table, error) {
	if err := db.checkPoisoned(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; exists {
		return nil, ErrTableExists
	}
	if _, err := db.cat.CreateTable(name, numColumns, keyColumn); err != nil {
		return nil, db.poison(err)
	}

	t := newTable(name, numColumns, keyColumn, db.bp, db.log)
	db.tables[name] = t
	return t, nil
}

// DropTable removes a table from the catalog, memory, and disk.
func (db *Database) DropTable(name string) error {
	if err := db.checkPoisoned(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; !exists {
		return ErrTableNotFound
	}
	if err := db.cat.DropTable(name); err != nil {
		return db.poison(err)
	}
	delete(db.tables, name)
	if err := db.disk.RemoveTableDir(name); err != nil {
		return db.poison(err)
	}
	return nil
}

// Table returns the named table, or ErrTableNotFound.
func (db *Database) Table(name string) (*Table, error) {
	if err := db.checkPoisoned(); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// Locks returns the database-wide record lock manager, shared by every
// Transaction and Worker pool operating against this Database.
func (db *Database) Locks() *lock.Manager { return db.lm }

// NextTxnID hands out a fresh transaction identifier, unique for the
// lifetime of this Database, for callers (query.Query's one-shot
// transactions, a harness building its own Transactions) that have no
// other natural source of transaction IDs.
func (db *Database) NextTxnID() uint64 { return db.nextTxnID.Add(1) }

// Log returns the Database's logger, for callers (query.Query) that
// want the same destination/level the engine's own internals log to.
func (db *Database) Log() *logrus.Logger { return db.log }

// Close flushes the buffer pool, persists every table's metadata, and
// releases the directory.
func (db *Database) Close() error {
	if err := db.checkPoisoned(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for name, t := range db.tables {
		t.mu.Lock()
		ranges := append([]*pagerange.PageRange(nil), t.ranges...)
		nextRID := t.nextRID
		t.mu.Unlock()

		states := make([]catalog.RangeState, len(ranges))
		for i, rng := range ranges {
			base, tail, seq := rng.State()
			states[i] = catalog.RangeState{BasePageCount: base, TailPageCount: tail, NextTailSeq: seq}
		}

		if err := db.cat.SetPageRangeCount(name, len(ranges)); err != nil {
			return db.poison(err)
		}
		if err := db.cat.SetRangeStates(name, states); err != nil {
			return db.poison(err)
		}
		if err := db.cat.SetNextRID(name, nextRID); err != nil {
			return db.poison(err)
		}
		for _, col := range t.reg.Columns() {
			if col == t.keyColumn {
				continue
			}
			if err := db.cat.AddIndexedColumn(name, col); err != nil {
				return db.poison(err)
			}
		}
	}

	if err := db.bp.FlushAll(); err != nil {
		return db.poison(err)
	}
	if err := db.disk.Close(); err != nil {
		return db.poison(err)
	}
	db.cat.Close()
	return nil
}
