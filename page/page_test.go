package page

import "testing"

func TestAppendReadRoundTrip(t *testing.T) {
	p := New()
	for i := int64(0); i < 5; i++ {
		slot, err := p.Append(i * 10)
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		if slot != int(i) {
			t.Fatalf("Append(%d): slot = %d, want %d", i, slot, i)
		}
	}
	if n := p.NumRecords(); n != 5 {
		t.Fatalf("NumRecords() = %d, want 5", n)
	}
	for i := int64(0); i < 5; i++ {
		v, err := p.Read(int(i))
		if err != nil {
			t.Fatalf("Read(%d): %v", i, err)
		}
		if v != i*10 {
			t.Errorf("Read(%d) = %d, want %d", i, v, i*10)
		}
	}
}

func TestAppendFullReturnsErrPageFull(t *testing.T) {
	p := New()
	for i := 0; i < RecordsPerPage; i++ {
		if _, err := p.Append(int64(i)); err != nil {
			t.Fatalf("Append(%d): unexpected error %v", i, err)
		}
	}
	if _, err := p.Append(1); err != ErrPageFull {
		t.Fatalf("Append on full page: err = %v, want ErrPageFull", err)
	}
}

func TestReadUnwrittenSlotErrors(t *testing.T) {
	p := New()
	if _, err := p.Read(0); err == nil {
		t.Fatal("Read of unwritten slot: want error, got nil")
	}
}

func TestOverwriteChangesValue(t *testing.T) {
	p := New()
	p.Append(1)
	if err := p.Overwrite(0, 99); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}
	v, err := p.Read(0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != 99 {
		t.Fatalf("Read() = %d, want 99", v)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := New()
	for i := int64(0); i < 10; i++ {
		p.Append(i * i)
	}
	buf := p.Encode()
	if len(buf) != Size {
		t.Fatalf("Encode() len = %d, want %d", len(buf), Size)
	}

	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.NumRecords() != p.NumRecords() {
		t.Fatalf("decoded NumRecords() = %d, want %d", decoded.NumRecords(), p.NumRecords())
	}
	if decoded.IsDirty() {
		t.Fatal("decoded page should not be dirty")
	}
	for i := 0; i < decoded.NumRecords(); i++ {
		v, _ := decoded.Read(i)
		want, _ := p.Read(i)
		if v != want {
			t.Errorf("decoded[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestDecodeWrongSize(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("Decode of wrong-size buffer: want error, got nil")
	}
}

func TestDirtyFlag(t *testing.T) {
	p := New()
	if p.IsDirty() {
		t.Fatal("new page should not be dirty")
	}
	p.Append(1)
	if !p.IsDirty() {
		t.Fatal("page should be dirty after Append")
	}
	p.ClearDirty()
	if p.IsDirty() {
		t.Fatal("page should not be dirty after ClearDirty")
	}
}
