package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voxelrule.ai/internal/persistence/indexdb"
	persistlog "voxelrule.ai/internal/persistence/log"
	"voxelrule.ai/internal/persistence/snapshot"
	"voxelrule.ai/internal/sim/encoding"
	"voxelrule.ai/internal/sim/engine"
	"voxelrule.ai/internal/sim/grid"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [snapshot.snap.zst | run dir]",
	Short: "Show snapshots, frame logs or the run index",
	Long: `Inspect prints the header and grid of a snapshot file, or the frames
logged under a run directory. Without a path it lists runs from the index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			p := args[0]
			if strings.HasSuffix(p, ".snap.zst") {
				return inspectSnapshot(os.Stdout, p, viper.GetBool("grid"))
			}
			return inspectFrames(os.Stdout, p, viper.GetBool("grid"))
		}
		e, err := loadEnv()
		if err != nil {
			return err
		}
		idx, err := indexdb.OpenSQLite(e.indexPath())
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		ctx := context.Background()
		if id := viper.GetString("run"); id != "" {
			return listIndexedFrames(ctx, os.Stdout, idx, id)
		}
		return listRuns(ctx, os.Stdout, idx, viper.GetString("model"), viper.GetInt("limit"))
	},
}

func init() {
	f := inspectCmd.Flags()
	f.Bool("grid", false, "print grid contents")
	f.String("model", "", "list only runs of this model")
	f.String("run", "", "list the indexed frames of this run")
	f.Int("limit", 50, "maximum runs listed")
}

func inspectSnapshot(w io.Writer, path string, grids bool) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	h := snap.Header
	fmt.Fprintf(w, "model=%s run=%s step=%d seed=%d dims=%dx%dx%d legend=%s\n",
		h.Model, h.RunID, h.Step, snap.Seed, snap.MX, snap.MY, snap.MZ, snap.Legend)
	if got := grid.Digest(snap.MX, snap.MY, snap.MZ, snap.State); got != snap.Digest {
		fmt.Fprintf(w, "digest MISMATCH stored=%s computed=%s\n", snap.Digest, got)
	} else {
		fmt.Fprintf(w, "digest %s\n", snap.Digest)
	}
	if grids {
		f := engine.Frame{State: snap.State, Legend: snap.Legend, MX: snap.MX, MY: snap.MY, MZ: snap.MZ, Step: h.Step}
		fmt.Fprint(w, f.String())
	}
	return nil
}

func inspectFrames(w io.Writer, runDir string, grids bool) error {
	frames, err := persistlog.ReadFrames(runDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames under %s", runDir)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "STEP\tDIMS\tLEGEND\tDIGEST")
	for _, f := range frames {
		fmt.Fprintf(tw, "%d\t%dx%dx%d\t%s\t%s\n", f.Step, f.MX, f.MY, f.MZ, f.Legend, f.Digest)
	}
	tw.Flush()
	if !grids {
		return nil
	}
	last := frames[len(frames)-1]
	state, err := encoding.DecodeRLE(last.State, last.MX*last.MY*last.MZ)
	if err != nil {
		return fmt.Errorf("step %d: %w", last.Step, err)
	}
	f := engine.Frame{State: state, Legend: last.Legend, MX: last.MX, MY: last.MY, MZ: last.MZ, Step: last.Step}
	fmt.Fprint(w, f.String())
	return nil
}

func listRuns(ctx context.Context, w io.Writer, idx *indexdb.SQLiteIndex, modelName string, limit int) error {
	runs, err := idx.Runs(ctx, modelName, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODEL\tSEED\tDIMS\tSTEPS\tRESULT\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%dx%dx%d\t%d\t%s\t%s\n",
			r.RunID, r.Model, r.Seed, r.MX, r.MY, r.MZ, r.Steps, r.Result, r.StartedAt)
	}
	return tw.Flush()
}

func listIndexedFrames(ctx context.Context, w io.Writer, idx *indexdb.SQLiteIndex, runID string) error {
	frames, err := idx.Frames(ctx, runID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("run %s has no indexed frames", runID)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "STEP\tLEGEND\tDIGEST")
	for _, f := range frames {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.Step, f.Legend, f.Digest)
	}
	return tw.Flush()
}
