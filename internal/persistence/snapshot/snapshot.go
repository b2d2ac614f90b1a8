package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

// Header is written as a JSON line ahead of the gob body so tools can
// inspect a snapshot without decoding the grid.
type Header struct {
	Version int    `json:"version"`
	Model   string `json:"model"`
	RunID   string `json:"run_id"`
	Step    int    `json:"step"`
}

// SnapshotV1 is one grid state of a run.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed   int64  `json:"seed"`
	MX     int    `json:"mx"`
	MY     int    `json:"my"`
	MZ     int    `json:"mz"`
	Legend string `json:"legend"`
	Digest string `json:"digest,omitempty"`

	State []uint8 `json:"state"`
}

func (s SnapshotV1) Validate() error {
	if s.Header.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.MX <= 0 || s.MY <= 0 || s.MZ <= 0 {
		return fmt.Errorf("bad dimensions %dx%dx%d", s.MX, s.MY, s.MZ)
	}
	if len(s.State) != s.MX*s.MY*s.MZ {
		return fmt.Errorf("state has %d cells, want %d", len(s.State), s.MX*s.MY*s.MZ)
	}
	for i, v := range s.State {
		if int(v) >= len(s.Legend) {
			return fmt.Errorf("cell %d value %d outside legend %q", i, v, s.Legend)
		}
	}
	return nil
}

// Name is the file name a snapshot of step is stored under.
func Name(step int) string { return fmt.Sprintf("%08d.snap.zst", step) }

func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, nil, err
	}
	return f, dec, bufio.NewReaderSize(dec, 64*1024), nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, dec, br, err := open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	defer dec.Close()

	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, dec, br, err := open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	defer dec.Close()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}
