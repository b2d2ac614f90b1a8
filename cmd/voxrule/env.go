package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/viper"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/persistence/indexdb"
	persistlog "voxelrule.ai/internal/persistence/log"
	"voxelrule.ai/internal/persistence/objstore"
	"voxelrule.ai/internal/sim/batch"
)

// env is the host configuration shared by every command.
type env struct {
	tuning  model.Tuning
	palette *model.Palette
	dataDir string
}

func loadEnv() (env, error) {
	var e env
	t, err := model.LoadTuning(viper.GetString("tuning"))
	if err != nil {
		return e, fmt.Errorf("load tuning: %w", err)
	}
	e.tuning = t
	e.dataDir = viper.GetString("data-dir")
	if e.dataDir == "" {
		e.dataDir = t.DataDir
	}
	if p := viper.GetString("palette"); p != "" {
		pal, err := model.LoadPalette(p)
		if err != nil {
			return e, fmt.Errorf("load palette: %w", err)
		}
		e.palette = pal
	}
	return e, nil
}

func (e env) indexPath() string {
	return filepath.Join(e.dataDir, "index", "runs.sqlite")
}

// openIndex returns nil when the index is disabled.
func (e env) openIndex() (*indexdb.SQLiteIndex, error) {
	if viper.GetBool("no-index") {
		return nil, nil
	}
	return indexdb.OpenSQLite(e.indexPath())
}

// openMirror returns nil when no mirror endpoint is configured.
func (e env) openMirror() (*objstore.Mirror, error) {
	endpoint := viper.GetString("mirror-endpoint")
	if endpoint == "" {
		return nil, nil
	}
	c, err := objstore.New(objstore.Config{
		Endpoint:        endpoint,
		Bucket:          viper.GetString("mirror-bucket"),
		Region:          viper.GetString("mirror-region"),
		AccessKeyID:     viper.GetString("mirror-access-key-id"),
		SecretAccessKey: viper.GetString("mirror-secret-access-key"),
	})
	if err != nil {
		return nil, err
	}
	return objstore.NewMirror(c, e.dataDir, objstore.MirrorOptions{
		Prefix:  viper.GetString("mirror-prefix"),
		Workers: viper.GetInt("mirror-workers"),
	}, log.New(os.Stderr, "[mirror] ", log.LstdFlags|log.Lmicroseconds)), nil
}

// sinkSet owns the persistence sinks of one command invocation.
type sinkSet struct {
	idx    *indexdb.SQLiteIndex
	mirror *objstore.Mirror
	runLog *persistlog.RunLogger
	sinks  []batch.Sink
}

func openSinks(e env) (*sinkSet, error) {
	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		return nil, err
	}
	idx, err := e.openIndex()
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	mirror, err := e.openMirror()
	if err != nil {
		if idx != nil {
			_ = idx.Close()
		}
		return nil, fmt.Errorf("init mirror: %w", err)
	}
	s := &sinkSet{
		idx:    idx,
		mirror: mirror,
		runLog: persistlog.NewRunLoggerWithOptions(e.dataDir, persistlog.LoggerOptions{OnClose: mirror.Enqueue}),
	}
	s.sinks = []batch.Sink{
		&batch.FrameLogSink{DataDir: e.dataDir, Mirror: mirror},
		&batch.SnapshotSink{
			DataDir: e.dataDir,
			Every:   e.tuning.SnapshotEverySteps,
			Index:   idx,
			Mirror:  mirror,
			Archive: !viper.GetBool("no-archive"),
			Logger:  logger,
		},
		&batch.RunLogSink{Log: s.runLog},
		batch.MetricsSink{},
	}
	if idx != nil {
		s.sinks = append(s.sinks, &batch.IndexSink{Index: idx})
	}
	return s, nil
}

func (s *sinkSet) Close() {
	if s.idx != nil {
		st := s.idx.Stats()
		if st.DropRunTotal+st.DropFrameTotal+st.DropSnapshotTotal > 0 {
			logger.Printf("index dropped writes: runs=%d frames=%d snapshots=%d", st.DropRunTotal, st.DropFrameTotal, st.DropSnapshotTotal)
		}
		_ = s.idx.Close()
	}
	_ = s.runLog.Close()
	if s.mirror != nil {
		s.mirror.Close()
		st := s.mirror.Stats()
		logger.Printf("mirror: uploaded=%d failed=%d dropped=%d", st.UploadedTotal, st.FailedTotal, st.DroppedTotal)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
