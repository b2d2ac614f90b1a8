package log

import (
	"testing"
)

func TestFrameLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewFrameLogger(dir)
	for step := 0; step < 3; step++ {
		if err := l.WriteFrame(FrameEntry{RunID: "r", Step: step, MX: 2, MY: 1, MZ: 1, Legend: "BW", State: "AAE="}); err != nil {
			t.Fatalf("write %d: %v", step, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := ReadFrames(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 frames, got %d", len(got))
	}
	for i, e := range got {
		if e.Step != i || e.Legend != "BW" {
			t.Fatalf("frame %d: %+v", i, e)
		}
	}
}

func TestJSONLZstdWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x", 2)
	for i := 0; i < 5; i++ {
		if err := w.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	segs, err := Segments(dir, "x")
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("want 3 segments, got %v", segs)
	}
	n := 0
	for _, p := range segs {
		if err := readJSONL(p, func([]byte) error { n++; return nil }); err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
	}
	if n != 5 {
		t.Fatalf("want 5 lines, got %d", n)
	}
}

func TestJSONLZstdWriter_ContinuesAndReportsClosedSegments(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	opts := LoggerOptions{OnClose: func(p string) { closed = append(closed, p) }}

	w := NewJSONLZstdWriterWithOptions(dir, "runs", 0, opts)
	if err := w.Write(map[string]int{"i": 0}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	w = NewJSONLZstdWriterWithOptions(dir, "runs", 0, opts)
	if err := w.Write(map[string]int{"i": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	segs, err := Segments(dir, "runs")
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("reopening should start a new segment, got %v", segs)
	}
	if len(closed) != 2 || closed[0] != segs[0] || closed[1] != segs[1] {
		t.Fatalf("closed=%v segments=%v", closed, segs)
	}
}
