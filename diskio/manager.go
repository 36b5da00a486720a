// Package diskio owns the on-disk page files. It knows nothing about
// buffer pinning or LRU — that is bufferpool's job. diskio only opens,
// reads, writes and syncs the fixed page.Size-byte (4104-byte) blocks
// spec.md §6 lays out: one file per (table, page range, column, kind,
// page index).
package diskio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lstore/page"
)

// Manager owns the open file handles for one database root directory.
type Manager struct {
	root string

	mu    sync.Mutex
	files map[string]*os.File
}

// New returns a Manager rooted at dir. The directory is created if it
// does not already exist.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("diskio: create root %s: %w", dir, err)
	}
	return &Manager{root: dir, files: make(map[string]*os.File)}, nil
}

// Root returns the database root directory.
func (m *Manager) Root() string { return m.root }

// PageRangeDir returns the directory holding one page range's files,
// creating it if necessary.
func (m *Manager) PageRangeDir(table string, rangeID uint64) (string, error) {
	dir := filepath.Join(m.root, table, fmt.Sprintf("pr_%d", rangeID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("diskio: create page-range dir: %w", err)
	}
	return dir, nil
}

func (m *Manager) pagePath(id page.ID) (string, error) {
	dir, err := m.PageRangeDir(id.Table, id.RangeID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, id.String()), nil
}

func (m *Manager) openLocked(path string) (*os.File, error) {
	if f, ok := m.files[path]; ok {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	m.files[path] = f
	return f, nil
}

// ReadPage loads a page from disk. A page file that does not exist yet
// (or is shorter than a full block) reads back as an empty page — this
// lets callers allocate a page identity before anything has been
// written to it.
func (m *Manager) ReadPage(id page.ID) (*page.Page, error) {
	path, err := m.pagePath(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	f, err := m.openLocked(path)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, page.Size)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		if n == 0 {
			return page.New(), nil
		}
		return nil, fmt.Errorf("diskio: read %s: %w", path, err)
	}
	if n < page.Size {
		return page.New(), nil
	}
	return page.Decode(buf)
}

// WritePage flushes a page's full page.Size-byte image to its backing
// file.
func (m *Manager) WritePage(id page.ID, p *page.Page) error {
	path, err := m.pagePath(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	f, err := m.openLocked(path)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := f.WriteAt(p.Encode(), 0); err != nil {
		return fmt.Errorf("diskio: write %s: %w", path, err)
	}
	return nil
}

// Sync fsyncs every open file handle.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, f := range m.files {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("diskio: sync %s: %w", path, err)
		}
	}
	return nil
}

// Close syncs and closes every open file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for path, f := range m.files {
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diskio: sync %s: %w", path, err)
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diskio: close %s: %w", path, err)
		}
	}
	m.files = make(map[string]*os.File)
	return firstErr
}

// TableDir returns (creating if necessary) the root directory of one
// table. Nothing in this module calls it; catalog keeps all table
// metadata in a single catalog.bin at the database root.
func (m *Manager) TableDir(table string) (string, error) {
	dir := filepath.Join(m.root, table)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("diskio: create table dir: %w", err)
	}
	return dir, nil
}

// RemoveTableDir deletes a table's entire on-disk subtree, used by
// DropTable.
func (m *Manager) RemoveTableDir(table string) error {
	m.mu.Lock()
	for path, f := range m.files {
		if filepath.Dir(filepath.Dir(path)) == filepath.Join(m.root, table) ||
			filepath.Dir(path) == filepath.Join(m.root, table) {
			f.Close()
			delete(m.files, path)
		}
	}
	m.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(m.root, table)); err != nil {
		return fmt.Errorf("diskio: remove table dir: %w", err)
	}
	return nil
}
