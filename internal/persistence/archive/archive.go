// Package archive keeps the final state of every (model, size, seed) run
// outside its run directory, so reruns can be compared with earlier results.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"voxelrule.ai/internal/persistence/snapshot"
)

type Meta struct {
	Model     string `json:"model"`
	RunID     string `json:"run_id"`
	Seed      int64  `json:"seed"`
	Step      int    `json:"step"`
	Dims      [3]int `json:"dims"`
	Legend    string `json:"legend"`
	Digest    string `json:"digest"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// Dir is the archive directory of one model, size and seed.
func Dir(dataDir, modelName string, mx, my, mz int, seed int64) string {
	return filepath.Join(dataDir, "archives", modelName, fmt.Sprintf("%dx%dx%d-%d", mx, my, mz, seed))
}

// ArchiveFinal copies the snapshot at snapshotPath into its archive
// directory and rewrites meta.json. prev is the digest archived before, or
// "" when this is the first result for the key.
func ArchiveFinal(dataDir, snapshotPath string, snap snapshot.SnapshotV1) (m Meta, prev string, err error) {
	dir := Dir(dataDir, snap.Header.Model, snap.MX, snap.MY, snap.MZ, snap.Seed)
	if old, err := Lookup(dir); err == nil {
		prev = old.Digest
	} else if !errors.Is(err, os.ErrNotExist) {
		return m, "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return m, "", err
	}
	dst := filepath.Join(dir, "final.snap.zst")
	if err := copyFile(snapshotPath, dst); err != nil {
		return m, "", err
	}
	m = Meta{
		Model:     snap.Header.Model,
		RunID:     snap.Header.RunID,
		Seed:      snap.Seed,
		Step:      snap.Header.Step,
		Dims:      [3]int{snap.MX, snap.MY, snap.MZ},
		Legend:    snap.Legend,
		Digest:    snap.Digest,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, prev, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return m, prev, err
	}
	return m, prev, nil
}

// Lookup reads the meta.json of an archive directory.
func Lookup(dir string) (Meta, error) {
	var m Meta
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%s: %w", dir, err)
	}
	return m, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
