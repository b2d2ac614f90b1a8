package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voxelrule.ai/internal/model"
	persistlog "voxelrule.ai/internal/persistence/log"
	"voxelrule.ai/internal/persistence/snapshot"
	"voxelrule.ai/internal/sim/engine"
)

var replayCmd = &cobra.Command{
	Use:   "replay <run dir>",
	Short: "Re-execute a logged run and verify every frame digest",
	Long: `Replay reads the frame log and last snapshot of a run directory, runs
the model again with the same seed, size and step count, and compares the
digest of every regenerated frame with the logged one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checked, err := replayRun(os.Stdout, args[0], viper.GetString("model"), viper.GetString("models-dir"))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "replay ok: checked=%d frames\n", checked)
		return nil
	},
}

func init() {
	f := replayCmd.Flags()
	f.String("model", "", "model file (default: <models-dir>/<snapshot model>.yaml)")
	f.String("models-dir", "models", "directory holding model files")
}

func latestSnapshot(runDir string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(runDir, "snapshots", "*.snap.zst"))
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no snapshots under %s", runDir)
	}
	sort.Strings(paths)
	return paths[len(paths)-1], nil
}

func replayRun(w io.Writer, runDir, modelPath, modelsDir string) (int, error) {
	snapPath, err := latestSnapshot(runDir)
	if err != nil {
		return 0, err
	}
	h, err := snapshot.ReadHeader(snapPath)
	if err != nil {
		return 0, err
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return 0, err
	}
	frames, err := persistlog.ReadFrames(runDir)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("no frames under %s", runDir)
	}
	if modelPath == "" {
		modelPath = filepath.Join(modelsDir, h.Model+".yaml")
	}
	m, err := model.Load(modelPath)
	if err != nil {
		return 0, err
	}

	first, last := frames[0], frames[len(frames)-1]
	fmt.Fprintf(w, "run=%s model=%s seed=%d dims=%dx%dx%d frames=%d last_step=%d\n",
		h.RunID, h.Model, snap.Seed, first.MX, first.MY, first.MZ, len(frames), last.Step)

	ip, err := engine.New(m, first.MX, first.MY, first.MZ, engine.Options{})
	if err != nil {
		return 0, err
	}
	gif := len(frames) > 1
	it := ip.Run(snap.Seed, last.Step, gif)
	checked := 0
	for it.Next() {
		f := it.Frame()
		if checked >= len(frames) {
			return checked, fmt.Errorf("replay produced more frames than logged (%d)", len(frames))
		}
		want := frames[checked]
		if f.Step != want.Step {
			return checked, fmt.Errorf("step mismatch at frame %d: got=%d want=%d", checked, f.Step, want.Step)
		}
		if got := f.Digest(); got != want.Digest {
			return checked, fmt.Errorf("digest mismatch at step %d: got=%s want=%s", f.Step, got, want.Digest)
		}
		checked++
	}
	if checked != len(frames) {
		return checked, fmt.Errorf("replay produced %d frames, logged %d", checked, len(frames))
	}
	return checked, nil
}
