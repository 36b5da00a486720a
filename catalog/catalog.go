// Package catalog persists table metadata — column count, key column,
// next RID, page-range count, per-range page-allocation state, indexed
// columns — to a single binary header file, and fronts lookups with a
// concurrent read cache so a hot Manager.Get call doesn't contend on
// the catalog mutex, per spec.md §6 and §7 (DOMAIN STACK: ristretto).
package catalog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
)

var magic = [4]byte{'L', 'S', 'T', 'R'}

// formatVersion 2 added per-range RangeState (basePageCount,
// tailPageCount, nextTailSeq) so Database.Open can rehydrate a
// PageRange's bookkeeping instead of reopening it zeroed.
const formatVersion = 2

// ErrTableExists is returned by CreateTable for a name already
// registered.
var ErrTableExists = errors.New("catalog: table already exists")

// ErrTableNotFound is returned by operations on an unknown table name.
var ErrTableNotFound = errors.New("catalog: table not found")

// RangeState is the per-page-range bookkeeping a PageRange otherwise
// only keeps in memory: how many base/tail pages it has allocated and
// how far its tail sequence counter has advanced. Persisting this is
// what lets rehydration reopen a range without zeroing it out from
// under already-written pages.
type RangeState struct {
	BasePageCount int
	TailPageCount int
	NextTailSeq   uint64
}

// TableDescriptor is the persisted metadata for one table.
type TableDescriptor struct {
	Name           string
	NumColumns     int
	KeyColumn      int
	NextRID        uint64
	PageRangeCount int
	IndexedColumns []int
	RangeStates    []RangeState
}

func (d *TableDescriptor) clone() *TableDescriptor {
	cp := *d
	cp.IndexedColumns = append([]int(nil), d.IndexedColumns...)
	cp.RangeStates = append([]RangeState(nil), d.RangeStates...)
	return &cp
}

// Manager owns a database's table-metadata header file.
type Manager struct {
	root string
	path string

	mu     sync.Mutex
	tables map[string]*TableDescriptor

	cache *ristretto.Cache[string, *TableDescriptor]
}

// New opens (or initializes, if absent) the catalog rooted at dir.
func New(dir string) (*Manager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *TableDescriptor]{
		NumCounters: 1e4,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: new cache: %w", err)
	}

	m := &Manager{
		root:   dir,
		path:   filepath.Join(dir, "catalog.bin"),
		tables: make(map[string]*TableDescriptor),
		cache:  cache,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Close releases the read cache's background goroutines.
func (m *Manager) Close() {
	m.cache.Close()
}

// CreateTable registers a brand-new table descriptor and persists the
// catalog.
func (m *Manager) CreateTable(name string, numColumns, keyColumn int) (*TableDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[name]; exists {
		return nil, ErrTableExists
	}
	desc := &TableDescriptor{Name: name, NumColumns: numColumns, KeyColumn: keyColumn}
	m.tables[name] = desc
	m.cache.Del(name)
	if err := m.saveLocked(); err != nil {
		delete(m.tables, name)
		return nil, err
	}
	return desc.clone(), nil
}

// DropTable removes a table's descriptor and persists the catalog.
func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tables[name]; !exists {
		return ErrTableNotFound
	}
	delete(m.tables, name)
	m.cache.Del(name)
	return m.saveLocked()
}

// Get returns a snapshot of a table's descriptor, serving from the
// read cache when possible.
func (m *Manager) Get(name string) (*TableDescriptor, bool) {
	if desc, ok := m.cache.Get(name); ok {
		return desc.clone(), true
	}

	m.mu.Lock()
	desc, ok := m.tables[name]
	if ok {
		desc = desc.clone()
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	m.cache.Set(name, desc, 1)
	return desc.clone(), true
}

// Tables lists every registered table name.
func (m *Manager) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.tables))
	for name := range m.tables {
		out = append(out, name)
	}
	return out
}

// SetNextRID updates the next-RID counter for name and persists it.
func (m *Manager) SetNextRID(name string, nextRID uint64) error {
	return m.mutate(name, func(d *TableDescriptor) { d.NextRID = nextRID })
}

// SetPageRangeCount updates the page-range count for name and
// persists it.
func (m *Manager) SetPageRangeCount(name string, count int) error {
	return m.mutate(name, func(d *TableDescriptor) { d.PageRangeCount = count })
}

// SetRangeStates replaces the per-range base/tail page counts and tail
// sequence counters for name and persists them, one entry per page
// range in range-ID order. Called from Database.Close so the next Open
// can rehydrate every range's PageRange via Restore instead of New.
func (m *Manager) SetRangeStates(name string, states []RangeState) error {
	return m.mutate(name, func(d *TableDescriptor) {
		d.RangeStates = append([]RangeState(nil), states...)
	})
}

// AddIndexedColumn records that col now has a secondary index, and
// persists it.
func (m *Manager) AddIndexedColumn(name string, col int) error {
	return m.mutate(name, func(d *TableDescriptor) {
		for _, c := range d.IndexedColumns {
			if c == col {
				return
			}
		}
		d.IndexedColumns = append(d.IndexedColumns, col)
	})
}

func (m *Manager) mutate(name string, fn func(*TableDescriptor)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	desc, ok := m.tables[name]
	if !ok {
		return ErrTableNotFound
	}
	fn(desc)
	m.cache.Del(name)
	return m.saveLocked()
}

// saveLocked rewrites the catalog header atomically via a temp file,
// mirroring original_source/lstore/db.py's _save_table binary layout
// but as one header for every table instead of per-table files, with
// an LSTR magic/version prefix.
func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return fmt.Errorf("catalog: mkdir: %w", err)
	}

	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("catalog: create temp: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := writeHeader(w, m.tables); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("catalog: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("catalog: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("catalog: close: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("catalog: rename: %w", err)
	}
	return nil
}

func writeHeader(w io.Writer, tables map[string]*TableDescriptor) error {
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(formatVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(tables))); err != nil {
		return err
	}
	for _, d := range tables {
		if err := writeTable(w, d); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, d *TableDescriptor) error {
	nameBytes := []byte(d.Name)
	fields := []any{
		uint32(len(nameBytes)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if _, err := w.Write(nameBytes); err != nil {
		return err
	}
	rest := []any{
		uint32(d.NumColumns),
		uint32(d.KeyColumn),
		d.NextRID,
		uint32(d.PageRangeCount),
		uint32(len(d.IndexedColumns)),
	}
	for _, f := range rest {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for _, col := range d.IndexedColumns {
		if err := binary.Write(w, binary.LittleEndian, uint32(col)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(d.RangeStates))); err != nil {
		return err
	}
	for _, s := range d.RangeStates {
		fields := []any{uint32(s.BasePageCount), uint32(s.TailPageCount), s.NextTailSeq}
		for _, f := range fields {
			if err := binary.Write(w, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// load reads the catalog header from disk, if present. A missing file
// means a brand-new, empty database.
func (m *Manager) load() error {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var got [4]byte
	if err := binary.Read(r, binary.LittleEndian, &got); err != nil {
		return fmt.Errorf("catalog: read magic: %w", err)
	}
	if got != magic {
		return fmt.Errorf("catalog: bad magic %q", got)
	}
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("catalog: read version: %w", err)
	}
	if version != formatVersion {
		return fmt.Errorf("catalog: unsupported format version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("catalog: read table count: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		d, err := readTable(r)
		if err != nil {
			return err
		}
		m.tables[d.Name] = d
	}
	return nil
}

func readTable(r io.Reader) (*TableDescriptor, error) {
	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("catalog: read name length: %w", err)
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return nil, fmt.Errorf("catalog: read name: %w", err)
	}

	var numColumns, keyColumn, pageRangeCount, indexedCount uint32
	var nextRID uint64
	for _, target := range []any{&numColumns, &keyColumn} {
		if err := binary.Read(r, binary.LittleEndian, target); err != nil {
			return nil, fmt.Errorf("catalog: read table header: %w", err)
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &nextRID); err != nil {
		return nil, fmt.Errorf("catalog: read next rid: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &pageRangeCount); err != nil {
		return nil, fmt.Errorf("catalog: read page range count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &indexedCount); err != nil {
		return nil, fmt.Errorf("catalog: read indexed count: %w", err)
	}

	cols := make([]int, indexedCount)
	for i := range cols {
		var c uint32
		if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
			return nil, fmt.Errorf("catalog: read indexed column: %w", err)
		}
		cols[i] = int(c)
	}

	var rangeStateCount uint32
	if err := binary.Read(r, binary.LittleEndian, &rangeStateCount); err != nil {
		return nil, fmt.Errorf("catalog: read range state count: %w", err)
	}
	states := make([]RangeState, rangeStateCount)
	for i := range states {
		var basePageCount, tailPageCount uint32
		var nextTailSeq uint64
		if err := binary.Read(r, binary.LittleEndian, &basePageCount); err != nil {
			return nil, fmt.Errorf("catalog: read range state: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &tailPageCount); err != nil {
			return nil, fmt.Errorf("catalog: read range state: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &nextTailSeq); err != nil {
			return nil, fmt.Errorf("catalog: read range state: %w", err)
		}
		states[i] = RangeState{
			BasePageCount: int(basePageCount),
			TailPageCount: int(tailPageCount),
			NextTailSeq:   nextTailSeq,
		}
	}

	return &TableDescriptor{
		Name:           string(nameBytes),
		NumColumns:     int(numColumns),
		KeyColumn:      int(keyColumn),
		NextRID:        nextRID,
		PageRangeCount: int(pageRangeCount),
		IndexedColumns: cols,
		RangeStates:    states,
	}, nil
}
