package archive

import (
	"path/filepath"
	"testing"

	"voxelrule.ai/internal/persistence/snapshot"
)

func writeSnap(t *testing.T, dir string, state []uint8, digest string) (string, snapshot.SnapshotV1) {
	t.Helper()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Model: "grow", RunID: "r-" + digest, Step: 7},
		Seed:   3,
		MX:     2,
		MY:     2,
		MZ:     1,
		Legend: "BW",
		Digest: digest,
		State:  state,
	}
	p := filepath.Join(dir, digest, snapshot.Name(7))
	if err := snapshot.WriteSnapshot(p, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return p, snap
}

func TestArchiveFinal_KeepsLatestAndReportsPrevious(t *testing.T) {
	dataDir := t.TempDir()
	p1, s1 := writeSnap(t, t.TempDir(), []uint8{0, 1, 1, 0}, "d1")
	m, prev, err := ArchiveFinal(dataDir, p1, s1)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if prev != "" || m.Digest != "d1" || m.Dims != [3]int{2, 2, 1} {
		t.Fatalf("first archive: prev=%q meta=%+v", prev, m)
	}

	p2, s2 := writeSnap(t, t.TempDir(), []uint8{1, 1, 1, 0}, "d2")
	if _, prev, err = ArchiveFinal(dataDir, p2, s2); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if prev != "d1" {
		t.Fatalf("want previous digest d1, got %q", prev)
	}

	dir := Dir(dataDir, "grow", 2, 2, 1, 3)
	got, err := Lookup(dir)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Digest != "d2" || got.RunID != "r-d2" {
		t.Fatalf("meta not replaced: %+v", got)
	}
	snap, err := snapshot.ReadSnapshot(filepath.Join(dir, got.Snapshot))
	if err != nil {
		t.Fatalf("read archived snapshot: %v", err)
	}
	if snap.State[0] != 1 {
		t.Fatalf("archived snapshot is stale")
	}
}

func TestLookup_Missing(t *testing.T) {
	if _, err := Lookup(t.TempDir()); err == nil {
		t.Fatalf("expected an error")
	}
}
