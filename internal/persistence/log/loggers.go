package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to zstd segments named
// <prefix>-<segment>.jsonl.zst, starting a new segment every maxLines lines.
// A writer opened on a directory that already has segments continues after
// the last one.
type JSONLZstdWriter struct {
	baseDir  string
	prefix   string
	maxLines int
	onClose  func(path string)

	mu      sync.Mutex
	segment int
	lines   int
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// LoggerOptions customizes segment handling.
type LoggerOptions struct {
	// OnClose is called with the path of every segment once it is complete.
	OnClose func(path string)
}

func NewJSONLZstdWriter(baseDir, prefix string, maxLines int) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, maxLines, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, maxLines int, opts LoggerOptions) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir:  baseDir,
		prefix:   prefix,
		maxLines: maxLines,
		onClose:  opts.OnClose,
		segment:  -1,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil || (w.maxLines > 0 && w.lines >= w.maxLines) {
		next := w.segment + 1
		if w.segment < 0 {
			existing, err := Segments(w.baseDir, w.prefix)
			if err != nil {
				return err
			}
			next = len(existing)
		}
		if err := w.rotateLocked(next); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(segment int) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(segment), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.segment = segment
	w.lines = 0
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	open := w.f != nil
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	if open && err1 == nil && w.onClose != nil {
		w.onClose(w.pathForSegment(w.segment))
	}
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(segment int) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%04d.jsonl.zst", w.prefix, segment))
}

// Segments lists the segment files of prefix under dir in write order.
func Segments(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// FrameEntry is one logged frame. State is RLE encoded.
type FrameEntry struct {
	RunID  string `json:"run_id"`
	Step   int    `json:"step"`
	MX     int    `json:"mx"`
	MY     int    `json:"my"`
	MZ     int    `json:"mz"`
	Legend string `json:"legend"`
	Digest string `json:"digest"`
	State  string `json:"state"`
}

// RunEntry records the start or end of a run.
type RunEntry struct {
	RunID  string `json:"run_id"`
	Model  string `json:"model"`
	Seed   int64  `json:"seed"`
	Event  string `json:"event"`
	Steps  int    `json:"steps,omitempty"`
	Result string `json:"result,omitempty"`
}

// FrameLogger writes one JSONL entry per frame (compressed).
type FrameLogger struct{ w *JSONLZstdWriter }

func NewFrameLogger(runDir string) *FrameLogger {
	return NewFrameLoggerWithOptions(runDir, LoggerOptions{})
}

func NewFrameLoggerWithOptions(runDir string, opts LoggerOptions) *FrameLogger {
	return &FrameLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(runDir, "frames"), "frames", 4096, opts)}
}

func (l *FrameLogger) WriteFrame(v FrameEntry) error { return l.w.Write(v) }
func (l *FrameLogger) Close() error                  { return l.w.Close() }

// RunLogger writes run lifecycle entries (compressed).
type RunLogger struct{ w *JSONLZstdWriter }

func NewRunLogger(dataDir string) *RunLogger {
	return NewRunLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewRunLoggerWithOptions(dataDir string, opts LoggerOptions) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "runs"), "runs", 0, opts)}
}

func (l *RunLogger) WriteRun(v RunEntry) error { return l.w.Write(v) }
func (l *RunLogger) Close() error              { return l.w.Close() }

// ReadFrames decodes every frame under runDir in write order.
func ReadFrames(runDir string) ([]FrameEntry, error) {
	paths, err := Segments(filepath.Join(runDir, "frames"), "frames")
	if err != nil {
		return nil, err
	}
	var out []FrameEntry
	for _, p := range paths {
		if err := readJSONL(p, func(line []byte) error {
			var e FrameEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return out, nil
}

func readJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 128*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 1 {
			if err := fn(line[:len(line)-1]); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
