package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/persistence/snapshot"
	"voxelrule.ai/internal/sim/batch"
	"voxelrule.ai/internal/sim/grid"
)

const fillModel = `
values: BW
root:
  kind: all
  rules:
    - {in: B, out: W}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSizeSpec(t *testing.T) {
	cases := []struct {
		in      string
		want    model.BatchSpec
		wantErr bool
	}{
		{in: "", want: model.BatchSpec{}},
		{in: "16", want: model.BatchSpec{Size: 16}},
		{in: "8x4", want: model.BatchSpec{Length: 8, Width: 4, Height: 1}},
		{in: "8X4x2", want: model.BatchSpec{Length: 8, Width: 4, Height: 2}},
		{in: "0", wantErr: true},
		{in: "8xq", wantErr: true},
		{in: "1x2x3x4", wantErr: true},
	}
	for _, c := range cases {
		var s model.BatchSpec
		err := sizeSpec(c.in, &s)
		if (err != nil) != c.wantErr {
			t.Fatalf("%q: err=%v", c.in, err)
		}
		if err == nil && (s.Size != c.want.Size || s.Length != c.want.Length || s.Width != c.want.Width || s.Height != c.want.Height) {
			t.Fatalf("%q: got %+v", c.in, s)
		}
	}
}

func TestSingleModelJobs(t *testing.T) {
	defer viper.Reset()
	dir := t.TempDir()
	p := writeFile(t, dir, "fill.yaml", fillModel)

	viper.Set("size", "6x3")
	viper.Set("amount", 1)
	jobs, err := singleModelJobs(env{tuning: model.DefaultTuning()}, p, 42)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "fill" || jobs[0].Seed != 42 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if jobs[0].MX != 6 || jobs[0].MY != 3 || jobs[0].MZ != 1 {
		t.Fatalf("dims %d %d %d", jobs[0].MX, jobs[0].MY, jobs[0].MZ)
	}
	if jobs[0].Steps != model.DefaultTuning().DefaultSteps {
		t.Fatalf("steps %d", jobs[0].Steps)
	}

	viper.Set("amount", 3)
	jobs, err = singleModelJobs(env{tuning: model.DefaultTuning()}, p, 42)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 3 || jobs[0].Seed == jobs[1].Seed {
		t.Fatalf("want 3 distinct seeds, got %+v", jobs)
	}
}

func TestValidateModel(t *testing.T) {
	dir := t.TempDir()
	if err := validateModel(writeFile(t, dir, "ok.yaml", fillModel)); err != nil {
		t.Fatalf("valid model: %v", err)
	}
	bad := writeFile(t, dir, "bad.yaml", `
values: BW
root: {kind: one, rules: [{in: Z, out: W}]}
`)
	if err := validateModel(bad); err == nil {
		t.Fatalf("expected an error for an unknown symbol")
	}
}

func TestInspectSnapshot(t *testing.T) {
	dir := t.TempDir()
	state := []uint8{0, 1, 1, 0, 1, 0}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Model: "fill", RunID: "r1", Step: 3},
		Seed:   9,
		MX:     3,
		MY:     2,
		MZ:     1,
		Legend: "BW",
		Digest: grid.Digest(3, 2, 1, state),
		State:  state,
	}
	p := filepath.Join(dir, snapshot.Name(3))
	if err := snapshot.WriteSnapshot(p, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out bytes.Buffer
	if err := inspectSnapshot(&out, p, true); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "model=fill run=r1 step=3 seed=9 dims=3x2x1") {
		t.Fatalf("missing header line:\n%s", got)
	}
	if strings.Contains(got, "MISMATCH") || !strings.HasSuffix(got, "BWW\nBWB\n") {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestReplayRun_VerifiesLoggedRun(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "grow.yaml", `
values: BW
origin: true
root:
  kind: one
  rules:
    - {in: WB, out: WW}
`)
	m, err := model.Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dataDir := filepath.Join(dir, "data")
	r := &batch.Runner{Sinks: []batch.Sink{
		&batch.FrameLogSink{DataDir: dataDir},
		&batch.SnapshotSink{DataDir: dataDir},
	}}
	results, err := r.Run(context.Background(), []batch.Job{{Name: "grow", Model: m, MX: 6, MY: 6, MZ: 1, Seed: 17, Gif: true}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	runDir := batch.RunDir(dataDir, results[0].Run)

	var out bytes.Buffer
	checked, err := replayRun(&out, runDir, "", dir)
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out.String())
	}
	if checked != results[0].Frames {
		t.Fatalf("checked %d frames, want %d", checked, results[0].Frames)
	}

	// a different rule set must not reproduce the log
	other := writeFile(t, dir, "other.yaml", `
values: BW
origin: true
root:
  kind: all
  rules:
    - {in: WB, out: WW}
`)
	if _, err := replayRun(&out, runDir, other, dir); err == nil {
		t.Fatalf("expected a mismatch for a different model")
	}
}
