// Package batch executes independent model runs concurrently and feeds
// their frames to sinks (logs, snapshots, index, observers).
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/engine"
	"voxelrule.ai/internal/sim/rng"
)

// Job is one seeded run of a model.
type Job struct {
	Name       string
	Model      *model.Model
	MX, MY, MZ int
	Seed       int64
	Steps      int
	Gif        bool
	Palette    *model.Palette
}

// Run identifies an executing job to sinks.
type Run struct {
	ID      string
	Name    string
	Seed    int64
	Steps   int
	Gif     bool
	Palette *model.Palette
}

const (
	StatusDone     = "done"
	StatusLimit    = "limit"
	StatusCanceled = "canceled"
	StatusError    = "error"
)

type Result struct {
	Run      Run
	Final    engine.Frame
	Frames   int
	Status   string
	Err      error
	Duration time.Duration
}

// Sink receives the lifecycle of a run. Calls for one run come from one
// goroutine; different runs call concurrently.
type Sink interface {
	Start(run Run, first engine.Frame) error
	Frame(run Run, f engine.Frame, final bool) error
	End(res Result)
}

type Runner struct {
	Parallelism int
	Logger      *log.Logger
	Hooks       engine.Hooks
	Sinks       []Sink

	// BoltzmannFloorDivision is passed to every interpreter.
	BoltzmannFloorDivision bool
}

// Run executes jobs and returns one result per job in job order. A failing
// job does not stop the others; only ctx cancellation ends Run early.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	for i := range jobs {
		g.Go(func() error {
			results[i] = r.runOne(gctx, jobs[i], logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, job Job, logger *log.Logger) Result {
	run := Run{
		ID:      uuid.NewString(),
		Name:    job.Name,
		Seed:    job.Seed,
		Steps:   job.Steps,
		Gif:     job.Gif,
		Palette: job.Palette,
	}
	res := Result{Run: run}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		for _, s := range r.Sinks {
			s.End(res)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusCanceled, err
		return res
	}
	ip, err := engine.New(job.Model, job.MX, job.MY, job.MZ, engine.Options{
		Logger:                 log.New(logger.Writer(), fmt.Sprintf("%s[%s] ", logger.Prefix(), job.Name), logger.Flags()),
		Hooks:                  r.Hooks,
		BoltzmannFloorDivision: r.BoltzmannFloorDivision,
	})
	if err != nil {
		res.Status, res.Err = StatusError, err
		return res
	}

	it := ip.Run(job.Seed, job.Steps, job.Gif)
	started := false
	for it.Next() {
		f := it.Frame()
		final := it.Done()
		if !started {
			started = true
			for _, s := range r.Sinks {
				if err := s.Start(run, f); err != nil {
					res.Status, res.Err = StatusError, fmt.Errorf("start: %w", err)
					return res
				}
			}
		}
		res.Frames++
		for _, s := range r.Sinks {
			if err := s.Frame(run, f, final); err != nil {
				res.Status, res.Err = StatusError, fmt.Errorf("frame %d: %w", f.Step, err)
				return res
			}
		}
		res.Final = f
		if err := ctx.Err(); err != nil && !final {
			res.Status, res.Err = StatusCanceled, err
			return res
		}
	}
	res.Status = StatusDone
	if job.Steps > 0 && res.Final.Step >= job.Steps {
		res.Status = StatusLimit
	}
	logger.Printf("run %s %s seed=%d steps=%d status=%s", run.ID, job.Name, job.Seed, res.Final.Step, res.Status)
	return res
}

// Jobs expands a batch list into jobs. Models are loaded once per entry
// with load; missing seeds are drawn from a stream seeded by seed.
func Jobs(b model.Batch, load func(path string) (*model.Model, error), base *model.Palette, seed int64) ([]Job, error) {
	seeds := rng.New(seed)
	var jobs []Job
	for _, s := range b.Models {
		m, err := load(b.Path(s))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", s.Name, err)
		}
		pal := base
		if base != nil && len(s.Colors) > 0 {
			if pal, err = base.With(s.Colors); err != nil {
				return nil, fmt.Errorf("model %s: %w", s.Name, err)
			}
		}
		for k := 0; k < s.Amount; k++ {
			sd := seeds.Seed()
			if k < len(s.Seeds) {
				sd = s.Seeds[k]
			}
			jobs = append(jobs, Job{
				Name:    s.Name,
				Model:   m,
				MX:      s.Length,
				MY:      s.Width,
				MZ:      s.Height,
				Seed:    sd,
				Steps:   s.Steps,
				Gif:     s.Gif,
				Palette: pal,
			})
		}
	}
	return jobs, nil
}
