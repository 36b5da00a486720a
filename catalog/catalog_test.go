package catalog

import (
	"errors"
	"testing"
)

func TestCreateTableAndGet(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if _, err := m.CreateTable("users", 3, 0); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	desc, ok := m.Get("users")
	if !ok {
		t.Fatal("Get(users) = false, want true")
	}
	if desc.NumColumns != 3 || desc.KeyColumn != 0 {
		t.Fatalf("descriptor = %+v, want NumColumns=3 KeyColumn=0", desc)
	}
}

func TestCreateTableDuplicateFails(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	m.CreateTable("users", 3, 0)
	if _, err := m.CreateTable("users", 3, 0); !errors.Is(err, ErrTableExists) {
		t.Fatalf("CreateTable duplicate: err = %v, want ErrTableExists", err)
	}
}

func TestDropTableRemovesDescriptor(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	m.CreateTable("users", 3, 0)
	if err := m.DropTable("users"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, ok := m.Get("users"); ok {
		t.Fatal("Get(users) after DropTable = true, want false")
	}
}

func TestDropTableNotFound(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if err := m.DropTable("ghost"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("DropTable(ghost): err = %v, want ErrTableNotFound", err)
	}
}

func TestSetNextRIDAndAddIndexedColumnPersist(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.CreateTable("users", 3, 0)
	if err := m.SetNextRID("users", 42); err != nil {
		t.Fatalf("SetNextRID: %v", err)
	}
	if err := m.AddIndexedColumn("users", 1); err != nil {
		t.Fatalf("AddIndexedColumn: %v", err)
	}
	m.Close()

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	defer reopened.Close()

	desc, ok := reopened.Get("users")
	if !ok {
		t.Fatal("Get(users) after reopen = false, want true")
	}
	if desc.NextRID != 42 {
		t.Fatalf("NextRID = %d, want 42", desc.NextRID)
	}
	if len(desc.IndexedColumns) != 1 || desc.IndexedColumns[0] != 1 {
		t.Fatalf("IndexedColumns = %v, want [1]", desc.IndexedColumns)
	}
}

func TestSetRangeStatesPersists(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.CreateTable("users", 3, 0)
	states := []RangeState{
		{BasePageCount: 16, TailPageCount: 3, NextTailSeq: 47},
		{BasePageCount: 2, TailPageCount: 0, NextTailSeq: 0},
	}
	if err := m.SetPageRangeCount("users", len(states)); err != nil {
		t.Fatalf("SetPageRangeCount: %v", err)
	}
	if err := m.SetRangeStates("users", states); err != nil {
		t.Fatalf("SetRangeStates: %v", err)
	}
	m.Close()

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	defer reopened.Close()

	desc, ok := reopened.Get("users")
	if !ok {
		t.Fatal("Get(users) after reopen = false, want true")
	}
	if len(desc.RangeStates) != len(states) {
		t.Fatalf("RangeStates = %+v, want %d entries", desc.RangeStates, len(states))
	}
	for i, want := range states {
		if desc.RangeStates[i] != want {
			t.Fatalf("RangeStates[%d] = %+v, want %+v", i, desc.RangeStates[i], want)
		}
	}
}

func TestTablesListsAllRegisteredNames(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	m.CreateTable("a", 1, 0)
	m.CreateTable("b", 1, 0)

	names := m.Tables()
	if len(names) != 2 {
		t.Fatalf("Tables() = %v, want 2 entries", names)
	}
}

func TestNewOnEmptyDirStartsWithNoTables(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if got := m.Tables(); len(got) != 0 {
		t.Fatalf("Tables() on fresh catalog = %v, want empty", got)
	}
}
