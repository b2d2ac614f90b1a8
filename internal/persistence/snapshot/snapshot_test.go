package snapshot

import (
	"path/filepath"
	"testing"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header: Header{Model: "river", RunID: "r1", Step: 42},
		Seed:   7,
		MX:     3,
		MY:     2,
		MZ:     1,
		Legend: "BW",
		State:  []uint8{0, 1, 1, 0, 0, 1},
	}
}

func TestSnapshot_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaps", Name(42))
	if err := WriteSnapshot(path, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version || got.Header.Model != "river" || got.Header.Step != 42 {
		t.Fatalf("unexpected header %+v", got.Header)
	}
	if got.Seed != 7 || got.Legend != "BW" || string(got.State) != string(sample().State) {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.RunID != "r1" || h.Step != 42 {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestSnapshot_RejectsBadState(t *testing.T) {
	s := sample()
	s.State = s.State[:4]
	if err := WriteSnapshot(filepath.Join(t.TempDir(), "x.snap.zst"), s); err == nil {
		t.Fatalf("expected size error")
	}
	s = sample()
	s.State[0] = 5
	if err := WriteSnapshot(filepath.Join(t.TempDir(), "x.snap.zst"), s); err == nil {
		t.Fatalf("expected legend error")
	}
}

func TestName_SortsByStep(t *testing.T) {
	if Name(9) >= Name(10) {
		t.Fatalf("names should sort by step: %s %s", Name(9), Name(10))
	}
}
