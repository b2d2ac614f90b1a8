package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/persistence/archive"
	"voxelrule.ai/internal/persistence/indexdb"
	persistlog "voxelrule.ai/internal/persistence/log"
	"voxelrule.ai/internal/persistence/snapshot"
	"voxelrule.ai/internal/sim/encoding"
	"voxelrule.ai/internal/sim/engine"
)

const growModel = `
values: BW
origin: true
root:
  kind: one
  rules:
    - {in: WB, out: WW}
`

func mustModel(t *testing.T, src string) *model.Model {
	t.Helper()
	m, err := model.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

type recordSink struct {
	mu     sync.Mutex
	starts int
	frames map[string]int
	ends   []Result
}

func (s *recordSink) Start(Run, engine.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *recordSink) Frame(run Run, _ engine.Frame, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = map[string]int{}
	}
	s.frames[run.ID]++
	return nil
}

func (s *recordSink) End(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, res)
}

func TestRunner_RunsJobsDeterministically(t *testing.T) {
	m := mustModel(t, growModel)
	jobs := []Job{
		{Name: "grow", Model: m, MX: 8, MY: 8, MZ: 1, Seed: 4},
		{Name: "grow", Model: m, MX: 8, MY: 8, MZ: 1, Seed: 4},
		{Name: "grow", Model: m, MX: 8, MY: 8, MZ: 1, Seed: 5, Steps: 3},
	}
	rec := &recordSink{}
	r := &Runner{Parallelism: 2, Sinks: []Sink{rec, MetricsSink{}}}
	results, err := r.Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 || rec.starts != 3 || len(rec.ends) != 3 {
		t.Fatalf("results=%d starts=%d ends=%d", len(results), rec.starts, len(rec.ends))
	}
	if results[0].Status != StatusDone || results[0].Final.String() != results[1].Final.String() {
		t.Fatalf("same seed should give the same grid")
	}
	if results[0].Run.ID == results[1].Run.ID {
		t.Fatalf("run ids must be unique")
	}
	if results[2].Status != StatusLimit || results[2].Final.Step != 3 {
		t.Fatalf("step limit: %+v", results[2])
	}
	for _, res := range results {
		if res.Frames != 1 {
			t.Fatalf("non-gif run should yield one frame, got %d", res.Frames)
		}
	}
}

func TestRunner_GifYieldsEveryStep(t *testing.T) {
	m := mustModel(t, growModel)
	rec := &recordSink{}
	r := &Runner{Sinks: []Sink{rec}}
	results, err := r.Run(context.Background(), []Job{{Name: "grow", Model: m, MX: 4, MY: 1, MZ: 1, Seed: 1, Gif: true}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := results[0]
	// origin at x=2: one write to the right, one to the left, two to the left again
	if res.Frames != res.Final.Step+1 {
		t.Fatalf("frames=%d step=%d", res.Frames, res.Final.Step)
	}
	if rec.frames[res.Run.ID] != res.Frames {
		t.Fatalf("sink saw %d frames, want %d", rec.frames[res.Run.ID], res.Frames)
	}
}

func TestRunner_LoadErrorIsPerJob(t *testing.T) {
	bad := mustModel(t, `
values: BW
root: {kind: one, rules: [{in: Q, out: W}]}
`)
	good := mustModel(t, growModel)
	r := &Runner{}
	results, err := r.Run(context.Background(), []Job{{Name: "bad", Model: bad}, {Name: "good", Model: good, MX: 4, MY: 4, MZ: 1}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != StatusError || !engine.IsLoadError(results[0].Err) {
		t.Fatalf("bad job: %+v", results[0])
	}
	if results[1].Status != StatusDone {
		t.Fatalf("good job: %+v", results[1])
	}
}

func TestRunner_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{}
	results, err := r.Run(ctx, []Job{{Name: "grow", Model: mustModel(t, growModel)}})
	if err == nil {
		t.Fatalf("expected context error")
	}
	if results[0].Status != StatusCanceled {
		t.Fatalf("status=%s", results[0].Status)
	}
}

func TestJobs_ExpandsBatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "models"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "models", "grow.yaml"), []byte(growModel), 0o644); err != nil {
		t.Fatal(err)
	}
	b := model.Batch{
		ModelsDir: filepath.Join(dir, "models"),
		Models: []model.BatchSpec{
			{Name: "grow", Size: 6, Amount: 3, Seeds: []int64{11}, Colors: map[string]string{"W": "#ff0000"}},
		},
	}
	b.Normalize(model.DefaultTuning())
	base := &model.Palette{Colors: map[byte][3]uint8{'B': {0, 0, 0}}}
	jobs, err := Jobs(b, model.Load, base, 1)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("want 3 jobs, got %d", len(jobs))
	}
	if jobs[0].Seed != 11 || jobs[1].Seed == 11 || jobs[1].Seed == jobs[2].Seed {
		t.Fatalf("seeds: %d %d %d", jobs[0].Seed, jobs[1].Seed, jobs[2].Seed)
	}
	if jobs[0].MX != 6 || jobs[0].MY != 6 || jobs[0].MZ != 1 {
		t.Fatalf("dims: %d %d %d", jobs[0].MX, jobs[0].MY, jobs[0].MZ)
	}
	if jobs[0].Palette.Hex('W') != "#ff0000" || jobs[0].Palette.Hex('B') != "#000000" {
		t.Fatalf("palette overrides not applied")
	}

	again, err := Jobs(b, model.Load, nil, 1)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if again[1].Seed != jobs[1].Seed {
		t.Fatalf("seed draw should be deterministic")
	}
}

func TestSinks_PersistRun(t *testing.T) {
	dir := t.TempDir()
	m := mustModel(t, growModel)
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()
	pal := &model.Palette{Colors: map[byte][3]uint8{'W': {255, 255, 255}}}
	r := &Runner{Sinks: []Sink{
		&FrameLogSink{DataDir: dir},
		&SnapshotSink{DataDir: dir, Every: 2, Index: idx, Archive: true},
		&IndexSink{Index: idx},
	}}
	results, err := r.Run(context.Background(), []Job{{Name: "grow", Model: m, MX: 5, MY: 1, MZ: 1, Seed: 2, Gif: true, Palette: pal}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := results[0]
	runDir := RunDir(dir, res.Run)

	frames, err := persistlog.ReadFrames(runDir)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(frames) != res.Frames {
		t.Fatalf("logged %d frames, want %d", len(frames), res.Frames)
	}
	last := frames[len(frames)-1]
	state, err := encoding.DecodeRLE(last.State, last.MX*last.MY*last.MZ)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(state) != string(res.Final.State) || last.Digest != res.Final.Digest() {
		t.Fatalf("last logged frame differs from the final frame")
	}

	snap, err := snapshot.ReadSnapshot(filepath.Join(runDir, "snapshots", snapshot.Name(res.Final.Step)))
	if err != nil {
		t.Fatalf("read final snapshot: %v", err)
	}
	if snap.Header.RunID != res.Run.ID || string(snap.State) != string(res.Final.State) {
		t.Fatalf("unexpected snapshot %+v", snap.Header)
	}
	if _, err := snapshot.ReadHeader(filepath.Join(runDir, "snapshots", snapshot.Name(0))); err != nil {
		t.Fatalf("step 0 snapshot: %v", err)
	}

	meta, err := archive.Lookup(archive.Dir(dir, "grow", 5, 1, 1, 2))
	if err != nil {
		t.Fatalf("archive lookup: %v", err)
	}
	if meta.Digest != res.Final.Digest() || meta.RunID != res.Run.ID {
		t.Fatalf("unexpected archive %+v", meta)
	}

	ctx := context.Background()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	runs, err := idx.Runs(ctx, "grow", 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != res.Run.ID || runs[0].Result != StatusDone || runs[0].Steps != res.Final.Step {
		t.Fatalf("unexpected runs %+v", runs)
	}
	rows, err := idx.Frames(ctx, res.Run.ID)
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	if len(rows) != res.Frames || rows[len(rows)-1].Digest != res.Final.Digest() {
		t.Fatalf("indexed %d frames, want %d", len(rows), res.Frames)
	}
}
