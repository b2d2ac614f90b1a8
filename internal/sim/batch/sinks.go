package batch

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"voxelrule.ai/internal/observerproto"
	"voxelrule.ai/internal/persistence/archive"
	"voxelrule.ai/internal/persistence/indexdb"
	persistlog "voxelrule.ai/internal/persistence/log"
	"voxelrule.ai/internal/persistence/objstore"
	"voxelrule.ai/internal/persistence/snapshot"
	"voxelrule.ai/internal/sim/encoding"
	"voxelrule.ai/internal/sim/engine"
	"voxelrule.ai/internal/telemetry"
	"voxelrule.ai/internal/transport/observer"
)

// RunDir is where the files of one run live under dataDir.
func RunDir(dataDir string, run Run) string {
	return filepath.Join(dataDir, "runs", run.Name, run.ID)
}

// FrameLogSink writes every frame to the run's JSONL log. Completed segments
// are handed to Mirror when it is set.
type FrameLogSink struct {
	DataDir string
	Mirror  *objstore.Mirror

	mu      sync.Mutex
	loggers map[string]*persistlog.FrameLogger
}

func (s *FrameLogSink) Start(run Run, _ engine.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggers == nil {
		s.loggers = map[string]*persistlog.FrameLogger{}
	}
	opts := persistlog.LoggerOptions{}
	if s.Mirror != nil {
		opts.OnClose = s.Mirror.Enqueue
	}
	s.loggers[run.ID] = persistlog.NewFrameLoggerWithOptions(RunDir(s.DataDir, run), opts)
	return nil
}

func (s *FrameLogSink) logger(id string) *persistlog.FrameLogger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggers[id]
}

func (s *FrameLogSink) Frame(run Run, f engine.Frame, _ bool) error {
	l := s.logger(run.ID)
	if l == nil {
		return fmt.Errorf("run %s not started", run.ID)
	}
	return l.WriteFrame(persistlog.FrameEntry{
		RunID:  run.ID,
		Step:   f.Step,
		MX:     f.MX,
		MY:     f.MY,
		MZ:     f.MZ,
		Legend: f.Legend,
		Digest: f.Digest(),
		State:  encoding.EncodeRLE(f.State),
	})
}

func (s *FrameLogSink) End(res Result) {
	s.mu.Lock()
	l := s.loggers[res.Run.ID]
	delete(s.loggers, res.Run.ID)
	s.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}
}

// SnapshotSink stores the final frame, and every Every steps when Every>0.
// With Archive set the final snapshot is also archived per model, size and
// seed, and a digest differing from the previous archive is logged.
type SnapshotSink struct {
	DataDir string
	Every   int
	Index   *indexdb.SQLiteIndex
	Mirror  *objstore.Mirror
	Archive bool
	Logger  *log.Logger
}

func (s *SnapshotSink) Start(Run, engine.Frame) error { return nil }

func (s *SnapshotSink) Frame(run Run, f engine.Frame, final bool) error {
	if !final && (s.Every <= 0 || f.Step%s.Every != 0) {
		return nil
	}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Model: run.Name, RunID: run.ID, Step: f.Step},
		Seed:   run.Seed,
		MX:     f.MX,
		MY:     f.MY,
		MZ:     f.MZ,
		Legend: f.Legend,
		Digest: f.Digest(),
		State:  f.State,
	}
	path := filepath.Join(RunDir(s.DataDir, run), "snapshots", snapshot.Name(f.Step))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	s.Index.RecordSnapshot(path, snap)
	s.Mirror.Enqueue(path)
	if !final || !s.Archive {
		return nil
	}
	m, prev, err := archive.ArchiveFinal(s.DataDir, path, snap)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if prev != "" && prev != m.Digest && s.Logger != nil {
		s.Logger.Printf("%s %dx%dx%d seed=%d: final digest %s differs from archived %s",
			run.Name, f.MX, f.MY, f.MZ, run.Seed, m.Digest[:12], prev[:min(12, len(prev))])
	}
	s.Mirror.Enqueue(filepath.Join(archive.Dir(s.DataDir, run.Name, f.MX, f.MY, f.MZ, run.Seed), m.Snapshot))
	return nil
}

func (s *SnapshotSink) End(Result) {}

// IndexSink records runs and frames in the sqlite read model.
type IndexSink struct {
	Index *indexdb.SQLiteIndex
}

func (s *IndexSink) Start(run Run, first engine.Frame) error {
	row := indexdb.RunRow{
		RunID: run.ID,
		Model: run.Name,
		Seed:  run.Seed,
		MX:    first.MX,
		MY:    first.MY,
		MZ:    first.MZ,
	}
	if run.Palette != nil {
		row.Palette = run.Palette.Digest
		if err := s.Index.UpsertPalette(context.Background(), run.Name, run.Palette); err != nil {
			return err
		}
	}
	s.Index.RecordRunStart(row)
	return nil
}

func (s *IndexSink) Frame(run Run, f engine.Frame, _ bool) error {
	s.Index.WriteFrame(indexdb.FrameRow{RunID: run.ID, Step: f.Step, Legend: f.Legend, Digest: f.Digest()})
	return nil
}

func (s *IndexSink) End(res Result) {
	s.Index.RecordRunEnd(res.Run.ID, res.Final.Step, res.Status)
}

// ObserverSink publishes frames to websocket observers.
type ObserverSink struct {
	Server *observer.Server
}

func (s *ObserverSink) Start(run Run, first engine.Frame) error {
	info := observerproto.RunInfo{
		RunID:  run.ID,
		Model:  run.Name,
		Seed:   run.Seed,
		Dims:   [3]int{first.MX, first.MY, first.MZ},
		Legend: first.Legend,
	}
	if run.Palette != nil {
		info.Colors = run.Palette.Legend(first.Legend)
	}
	s.Server.Open(info)
	return nil
}

func (s *ObserverSink) Frame(run Run, f engine.Frame, final bool) error {
	s.Server.Publish(run.ID, f, final)
	return nil
}

func (s *ObserverSink) End(res Result) {
	s.Server.Finish(res.Run.ID, res.Final.Step, res.Status)
}

// MetricsSink counts runs and frames.
type MetricsSink struct{}

func (MetricsSink) Start(Run, engine.Frame) error { return nil }

func (MetricsSink) Frame(Run, engine.Frame, bool) error {
	telemetry.FramesTotal.Inc()
	return nil
}

func (MetricsSink) End(res Result) {
	telemetry.RunsTotal.WithLabelValues(res.Status).Inc()
	if res.Status == StatusDone || res.Status == StatusLimit {
		telemetry.RunSteps.Observe(float64(res.Final.Step))
	}
	telemetry.RunDuration.Observe(res.Duration.Seconds())
}

// RunLogSink appends start and end entries to the run lifecycle log.
type RunLogSink struct {
	Log *persistlog.RunLogger
}

func (s *RunLogSink) Start(run Run, _ engine.Frame) error {
	return s.Log.WriteRun(persistlog.RunEntry{RunID: run.ID, Model: run.Name, Seed: run.Seed, Event: "start"})
}

func (s *RunLogSink) Frame(Run, engine.Frame, bool) error { return nil }

func (s *RunLogSink) End(res Result) {
	e := persistlog.RunEntry{
		RunID:  res.Run.ID,
		Model:  res.Run.Name,
		Seed:   res.Run.Seed,
		Event:  "end",
		Steps:  res.Final.Step,
		Result: res.Status,
	}
	_ = s.Log.WriteRun(e)
}
