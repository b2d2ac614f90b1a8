package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/batch"
	"voxelrule.ai/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run [model.yaml]",
	Short: "Run one model, or every entry of a models.yaml run list",
	Long: `Run executes a single model file when one is given, otherwise the run
list named by --batch. Frames go to the frame log, final states to snapshots
and every run to the sqlite index. With --watch the runs repeat whenever a
model or the run list changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		st, err := openSinks(e)
		if err != nil {
			return err
		}
		defer st.Close()

		once := func() error {
			jobs, _, err := planJobs(e, args)
			if err != nil {
				return err
			}
			results, err := runJobs(ctx, e, jobs, st.sinks)
			printResults(os.Stdout, results, viper.GetBool("print"))
			if err != nil {
				return err
			}
			return failed(results)
		}

		if !viper.GetBool("watch") {
			return once()
		}
		if err := once(); err != nil {
			logger.Printf("run: %v", err)
		}
		_, paths, err := planJobs(e, args)
		if err != nil {
			// the run list itself may be what is being fixed
			paths = watchTargets(args)
		}
		logger.Printf("watching %d files", len(paths))
		err = watchFiles(ctx, paths, 200*time.Millisecond, func(changed []string) {
			logger.Printf("changed: %s", strings.Join(changed, ", "))
			if err := once(); err != nil {
				logger.Printf("run: %v", err)
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().Bool("watch", false, "rerun when a model file or the run list changes")
	runCmd.Flags().Bool("print", false, "print final grids")
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("batch", "models.yaml", "models.yaml run list, used when no model file is given")
	f.Int64("seed", 0, "seed of a single-model run; seeds missing from a run list are drawn from it")
	f.String("size", "", "grid size N, NxM or NxMxK (default: the model's size)")
	f.Int("amount", 1, "runs of a single model")
	f.Int("steps", 0, "step limit, -1 for unbounded (default: tuning default_steps, or gif_steps with --gif)")
	f.Bool("gif", false, "record a frame for every step")
	f.Bool("boltzmann-floor", false, "floor the Boltzmann exponent when all nodes order matches")
}

// planJobs returns the jobs to run and the files they were planned from.
func planJobs(e env, args []string) ([]batch.Job, []string, error) {
	seed := viper.GetInt64("seed")
	if len(args) == 1 {
		jobs, err := singleModelJobs(e, args[0], seed)
		return jobs, []string{args[0]}, err
	}
	path := viper.GetString("batch")
	b, err := model.LoadBatch(path)
	if err != nil {
		return nil, nil, err
	}
	paths := []string{path}
	for _, s := range b.Models {
		paths = append(paths, b.Path(s))
	}
	jobs, err := batch.Jobs(b, model.Load, e.palette, seed)
	return jobs, paths, err
}

func watchTargets(args []string) []string {
	if len(args) == 1 {
		return args
	}
	return []string{viper.GetString("batch")}
}

func singleModelJobs(e env, path string, seed int64) ([]batch.Job, error) {
	m, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	s := model.BatchSpec{
		Name:   m.Name,
		Amount: viper.GetInt("amount"),
		Gif:    viper.GetBool("gif"),
		Steps:  viper.GetInt("steps"),
	}
	if err := sizeSpec(viper.GetString("size"), &s); err != nil {
		return nil, err
	}
	if s.Height > 1 || (s.Height == 0 && m.Size.Z > 1) {
		s.D = 3
	}
	if s.Amount <= 1 {
		s.Seeds = []int64{seed}
	}
	b := model.Batch{ModelsDir: filepath.Dir(path), Models: []model.BatchSpec{s}}
	b.Normalize(e.tuning)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	loaded := func(string) (*model.Model, error) { return m, nil }
	return batch.Jobs(b, loaded, e.palette, seed)
}

// sizeSpec parses "N" into Size and "NxM" or "NxMxK" into single axes.
func sizeSpec(v string, s *model.BatchSpec) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(strings.ToLower(v), "x")
	if len(parts) > 3 {
		return fmt.Errorf("bad size %q", v)
	}
	dims := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return fmt.Errorf("bad size %q", v)
		}
		dims[i] = n
	}
	switch len(dims) {
	case 1:
		s.Size = dims[0]
	case 2:
		s.Length, s.Width, s.Height = dims[0], dims[1], 1
	case 3:
		s.Length, s.Width, s.Height = dims[0], dims[1], dims[2]
	}
	return nil
}

func runJobs(ctx context.Context, e env, jobs []batch.Job, sinks []batch.Sink) ([]batch.Result, error) {
	r := &batch.Runner{
		Parallelism:            e.tuning.Parallelism,
		Logger:                 logger,
		Hooks:                  telemetry.Hooks(),
		Sinks:                  sinks,
		BoltzmannFloorDivision: viper.GetBool("boltzmann-floor"),
	}
	start := time.Now()
	results, err := r.Run(ctx, jobs)
	logger.Printf("%d runs in %s", len(results), time.Since(start).Round(time.Millisecond))
	return results, err
}

func printResults(w io.Writer, results []batch.Result, grids bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODEL\tSEED\tSTEPS\tSTATUS\tDIGEST\tTIME")
	for _, r := range results {
		digest := "-"
		if r.Frames > 0 {
			digest = r.Final.Digest()[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Run.ID,
			r.Run.Name,
			r.Run.Seed,
			r.Final.Step,
			r.Status,
			digest,
			r.Duration.Round(time.Millisecond),
		)
	}
	tw.Flush()
	for _, r := range results {
		if r.Err != nil && r.Status == batch.StatusError {
			fmt.Fprintf(w, "%s %s: %v\n", r.Run.Name, r.Run.ID, r.Err)
		}
	}
	if !grids {
		return
	}
	for _, r := range results {
		if r.Frames == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s seed=%d\n%s", r.Run.Name, r.Run.Seed, r.Final.String())
	}
}

func failed(results []batch.Result) error {
	n := 0
	for _, r := range results {
		if r.Status == batch.StatusError {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("%d of %d runs failed", n, len(results))
	}
	return nil
}
