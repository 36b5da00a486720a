package pagerange

import (
	"errors"
	"testing"

	"lstore/bufferpool"
	"lstore/diskio"
)

func newTestRange(t *testing.T, numColumns int) *PageRange {
	t.Helper()
	disk, err := diskio.New(t.TempDir())
	if err != nil {
		t.Fatalf("diskio.New: %v", err)
	}
	bp := bufferpool.New(256, disk, nil)
	return New("t", 0, numColumns, bp)
}

func TestInsertAndReadBaseColumn(t *testing.T) {
	pr := newTestRange(t, 3)

	rid, err := pr.Insert([]int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	for col, want := range []int64{1, 2, 3} {
		v, err := pr.ReadBaseColumn(rid, col)
		if err != nil {
			t.Fatalf("ReadBaseColumn(%d): %v", col, err)
		}
		if v != want {
			t.Fatalf("ReadBaseColumn(%d) = %d, want %d", col, v, want)
		}
	}
}

func TestReadVersionWithNoUpdatesReturnsBaseValues(t *testing.T) {
	pr := newTestRange(t, 2)
	rid, _ := pr.Insert([]int64{10, 20})

	got, err := pr.ReadVersion(rid, []int{0, 1}, 0)
	if err != nil {
		t.Fatalf("ReadVersion: %v", err)
	}
	if got[0] != 10 || got[1] != 20 {
		t.Fatalf("ReadVersion = %v, want [10 20]", got)
	}
}

// TestUpdateIsNonCumulativeAndVersionOffsetWalksBack covers spec.md §9
// scenario S2: two successive single-column diffs must not blend into
// each other, and a negative versionOffset walks the indirection chain
// back to an older tail, filling any column the nearer tail never
// touched from the base record.
func TestUpdateIsNonCumulativeAndVersionOffsetWalksBack(t *testing.T) {
	pr := newTestRange(t, 2)
	rid, _ := pr.Insert([]int64{10, 20})

	indirection, err := pr.Indirection(rid)
	if err != nil {
		t.Fatalf("Indirection: %v", err)
	}
	tid1, err := pr.Update(rid, map[int]int64{0: 100}, indirection)
	if err != nil {
		t.Fatalf("Update 1: %v", err)
	}
	if err := pr.SetIndirection(rid, tid1); err != nil {
		t.Fatalf("SetIndirection 1: %v", err)
	}

	tid2, err := pr.Update(rid, map[int]int64{1: 200}, tid1)
	if err != nil {
		t.Fatalf("Update 2: %v", err)
	}
	if err := pr.SetIndirection(rid, tid2); err != nil {
		t.Fatalf("SetIndirection 2: %v", err)
	}

	// Latest version: column 1 comes from tail2, column 0 is not in
	// tail2's schema so the walk must fall through to tail1, not to 0.
	latest, err := pr.ReadVersion(rid, []int{0, 1}, 0)
	if err != nil {
		t.Fatalf("ReadVersion(latest): %v", err)
	}
	if latest[0] != 100 || latest[1] != 200 {
		t.Fatalf("ReadVersion(latest) = %v, want [100 200]", latest)
	}

	// One version back: only tail1's diff (column 0) is visible; column
	// 1 was never touched as of this version, so it comes from base.
	older, err := pr.ReadVersion(rid, []int{0, 1}, -1)
	if err != nil {
		t.Fatalf("ReadVersion(-1): %v", err)
	}
	if older[0] != 100 || older[1] != 20 {
		t.Fatalf("ReadVersion(-1) = %v, want [100 20]", older)
	}

	// Two versions back: neither tail applies, pure base record.
	base, err := pr.ReadVersion(rid, []int{0, 1}, -2)
	if err != nil {
		t.Fatalf("ReadVersion(-2): %v", err)
	}
	if base[0] != 10 || base[1] != 20 {
		t.Fatalf("ReadVersion(-2) = %v, want [10 20]", base)
	}
}

func TestSetIndirectionDeletedMarksRecordDeleted(t *testing.T) {
	pr := newTestRange(t, 1)
	rid, _ := pr.Insert([]int64{1})

	if err := pr.SetIndirection(rid, RIDDeleted); err != nil {
		t.Fatalf("SetIndirection: %v", err)
	}
	if _, err := pr.ReadVersion(rid, []int{0}, 0); !errors.Is(err, ErrDeleted) {
		t.Fatalf("ReadVersion after delete: err = %v, want ErrDeleted", err)
	}
}

// TestRestoreReusesExistingPagesWithoutReallocating guards against the
// rehydration bug this package's own state is otherwise invisible to:
// a range reopened via New instead of Restore re-derives
// basePageCount/tailPageCount/nextTailSeq as zero and then tries to
// allocate page 0 again, which bufferpool.Pool.NewPage refuses because
// the original allocation is still resident.
func TestRestoreReusesExistingPagesWithoutReallocating(t *testing.T) {
	disk, err := diskio.New(t.TempDir())
	if err != nil {
		t.Fatalf("diskio.New: %v", err)
	}
	bp := bufferpool.New(256, disk, nil)

	pr := New("t", 0, 2, bp)
	rid, err := pr.Insert([]int64{1, 2})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ind, err := pr.Indirection(rid)
	if err != nil {
		t.Fatalf("Indirection: %v", err)
	}
	tid, err := pr.Update(rid, map[int]int64{1: 99}, ind)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := pr.SetIndirection(rid, tid); err != nil {
		t.Fatalf("SetIndirection: %v", err)
	}

	base, tail, seq := pr.State()
	if base != 1 || tail != 1 || seq != 1 {
		t.Fatalf("State() = (%d,%d,%d), want (1,1,1)", base, tail, seq)
	}

	restored := Restore("t", 0, 2, bp, base, tail, seq)

	if _, err := restored.Insert([]int64{3, 4}); err != nil {
		t.Fatalf("Insert into restored range: %v", err)
	}

	got, err := restored.ReadVersion(rid, []int{0, 1}, 0)
	if err != nil {
		t.Fatalf("ReadVersion via restored range: %v", err)
	}
	if got[0] != 1 || got[1] != 99 {
		t.Fatalf("ReadVersion via restored range = %v, want [1 99]", got)
	}
}

func TestInsertFillsRangeThenReturnsErrRangeFull(t *testing.T) {
	pr := newTestRange(t, 1)

	for i := 0; i < RecordsPerRange; i++ {
		if _, err := pr.Insert([]int64{int64(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if _, err := pr.Insert([]int64{0}); !errors.Is(err, ErrRangeFull) {
		t.Fatalf("Insert beyond capacity: err = %v, want ErrRangeFull", err)
	}
}
