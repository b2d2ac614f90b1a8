package model

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning holds host-level knobs shared by the CLI, batch runner and observer.
type Tuning struct {
	DefaultSteps int    `yaml:"default_steps"`
	GifSteps     int    `yaml:"gif_steps"`
	DataDir      string `yaml:"data_dir"`

	// FrameRateHz caps frames pushed to one observer connection.
	FrameRateHz    float64 `yaml:"frame_rate_hz"`
	FrameBurst     int     `yaml:"frame_burst"`
	MaxObservers   int     `yaml:"max_observers"`
	ObserverBuffer int     `yaml:"observer_buffer"`

	// ObserverRetainSec keeps a finished run subscribable this many seconds.
	ObserverRetainSec int `yaml:"observer_retain_sec"`

	SnapshotEverySteps int `yaml:"snapshot_every_steps"`
	Parallelism        int `yaml:"parallelism"`
}

func DefaultTuning() Tuning {
	return Tuning{
		DefaultSteps:       50000,
		GifSteps:           1000,
		DataDir:            "data",
		FrameRateHz:        30,
		FrameBurst:         4,
		MaxObservers:       16,
		ObserverBuffer:     64,
		ObserverRetainSec:  300,
		SnapshotEverySteps: 0,
		Parallelism:        4,
	}
}

// LoadTuning reads tuning.yaml over the defaults. An empty path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.DefaultSteps < 0 || t.GifSteps < 0 {
		return fmt.Errorf("steps must be >= 0")
	}
	if t.FrameRateHz <= 0 {
		return fmt.Errorf("frame_rate_hz must be > 0")
	}
	if t.FrameBurst <= 0 {
		return fmt.Errorf("frame_burst must be > 0")
	}
	if t.MaxObservers <= 0 || t.ObserverBuffer <= 0 {
		return fmt.Errorf("observer limits must be > 0")
	}
	if t.ObserverRetainSec < 0 {
		return fmt.Errorf("observer_retain_sec must be >= 0")
	}
	if t.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be > 0")
	}
	return nil
}
