package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/persistence/snapshot"
)

// SQLiteIndex is a queryable read model over runs. Writes are queued and
// applied by one goroutine in batched transactions; when the queue is full
// they are dropped, since the frame logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun      atomic.Uint64
	dropFrame    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqRunEnd
	reqFrame
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	run      RunRow
	frame    FrameRow
	snapshot snapshotRow
	done     chan struct{}
}

// RunRow describes one execution of a model.
type RunRow struct {
	RunID     string
	Model     string
	Seed      int64
	MX        int
	MY        int
	MZ        int
	Steps     int
	Result    string
	Palette   string
	StartedAt string
	EndedAt   string
}

// FrameRow is one indexed frame.
type FrameRow struct {
	RunID  string
	Step   int
	Legend string
	Digest string
}

type snapshotRow struct {
	RunID string
	Step  int
	Path  string
	Seed  int64
	Cells int
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropRunTotal      uint64
	DropFrameTotal    uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// gif runs emit one frame per step
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS palettes (
			digest TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			seed INTEGER NOT NULL,
			mx INTEGER NOT NULL,
			my INTEGER NOT NULL,
			mz INTEGER NOT NULL,
			steps INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			palette TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model, seed);`,
		`CREATE TABLE IF NOT EXISTS frames (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			legend TEXT NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_frames_digest ON frames(digest);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordRunStart(r RunRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.StartedAt == "" {
		r.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.enqueue(req{kind: reqRunStart, run: r}, &s.dropRun)
}

// RecordRunEnd stores the result of a run started with RecordRunStart.
func (s *SQLiteIndex) RecordRunEnd(runID string, steps int, result string) {
	if s == nil || s.closed.Load() {
		return
	}
	r := RunRow{RunID: runID, Steps: steps, Result: result, EndedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	s.enqueue(req{kind: reqRunEnd, run: r}, &s.dropRun)
}

func (s *SQLiteIndex) WriteFrame(f FrameRow) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqFrame, frame: f}, &s.dropFrame)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		RunID: snap.Header.RunID,
		Step:  snap.Header.Step,
		Path:  path,
		Seed:  snap.Seed,
		Cells: len(snap.State),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.dropSnapshot)
}

// Sync blocks until every write queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	st := Stats{
		DropRunTotal:      s.dropRun.Load(),
		DropFrameTotal:    s.dropFrame.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
	if s.ch != nil {
		st.QueueDepth = len(s.ch)
		st.QueueCapacity = cap(s.ch)
	}
	return st
}

// UpsertPalette stores the palette under its digest. It writes directly
// rather than through the queue.
func (s *SQLiteIndex) UpsertPalette(ctx context.Context, name string, p *model.Palette) error {
	if s == nil || p == nil {
		return nil
	}
	b, err := p.MarshalJSON()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO palettes(digest,name,json,updated_at) VALUES(?,?,?,?)`,
		p.Digest, name, string(b), now)
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,model,seed,mx,my,mz,palette,started_at) VALUES(?,?,?,?,?,?,?,?)`)
	updateRun, _ := s.db.Prepare(`UPDATE runs SET steps=?, result=?, ended_at=? WHERE run_id=?`)
	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(run_id,step,legend,digest) VALUES(?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,step,path,seed,cells) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, updateRun, insertFrame, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRunStart:
			ru := r.run
			exec(insertRun, ru.RunID, ru.Model, ru.Seed, ru.MX, ru.MY, ru.MZ, ru.Palette, ru.StartedAt)
		case reqRunEnd:
			ru := r.run
			exec(updateRun, ru.Steps, ru.Result, ru.EndedAt, ru.RunID)
		case reqFrame:
			f := r.frame
			exec(insertFrame, f.RunID, f.Step, f.Legend, f.Digest)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, sn.Step, sn.Path, sn.Seed, sn.Cells)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// Runs returns indexed runs, newest first. model filters when non-empty.
func (s *SQLiteIndex) Runs(ctx context.Context, modelName string, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT run_id,model,seed,mx,my,mz,steps,result,palette,started_at,ended_at FROM runs`
	args := []any{}
	if modelName != "" {
		q += ` WHERE model=?`
		args = append(args, modelName)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.Model, &r.Seed, &r.MX, &r.MY, &r.MZ, &r.Steps, &r.Result, &r.Palette, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Frames returns the indexed frames of runID in step order.
func (s *SQLiteIndex) Frames(ctx context.Context, runID string) ([]FrameRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,step,legend,digest FROM frames WHERE run_id=? ORDER BY step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FrameRow
	for rows.Next() {
		var f FrameRow
		if err := rows.Scan(&f.RunID, &f.Step, &f.Legend, &f.Digest); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
