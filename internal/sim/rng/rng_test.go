package rng

import "testing"

func TestStream_SameSeedSameSequence(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Intn(1000), b.Intn(1000); x != y {
			t.Fatalf("draw %d: %d != %d", i, x, y)
		}
	}
}

func TestStream_DeriveIndependent(t *testing.T) {
	a, b := Derive(7, 1), Derive(7, 2)
	same := 0
	for i := 0; i < 64; i++ {
		if a.Intn(1<<30) == b.Intn(1<<30) {
			same++
		}
	}
	if same > 2 {
		t.Fatalf("derived streams look correlated: %d equal draws", same)
	}
}

func TestPick(t *testing.T) {
	w := []float64{0, 1, 0, 3}
	if got := Pick(w, 0.0); got != 1 {
		t.Fatalf("u=0: got %d want 1", got)
	}
	if got := Pick(w, 0.2); got != 1 {
		t.Fatalf("u=0.2: got %d want 1", got)
	}
	if got := Pick(w, 0.9); got != 3 {
		t.Fatalf("u=0.9: got %d want 3", got)
	}
	z := []float64{0, 0}
	if got := Pick(z, 0.75); got != 1 {
		t.Fatalf("all-zero weights: got %d want 1", got)
	}
}
