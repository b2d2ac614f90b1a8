package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Batch is the models.yaml run list.
type Batch struct {
	ModelsDir string      `yaml:"models_dir"`
	Models    []BatchSpec `yaml:"models"`
}

// BatchSpec schedules runs of one model. Size sets every axis at once;
// Length, Width and Height override single axes.
type BatchSpec struct {
	Name   string            `yaml:"name"`
	Size   int               `yaml:"size"`
	D      int               `yaml:"d"`
	Length int               `yaml:"length"`
	Width  int               `yaml:"width"`
	Height int               `yaml:"height"`
	Amount int               `yaml:"amount"`
	Seeds  []int64           `yaml:"seeds,omitempty"`
	Gif    bool              `yaml:"gif"`
	Steps  int               `yaml:"steps"`
	Colors map[string]string `yaml:"colors,omitempty"`
}

func LoadBatch(path string) (Batch, error) {
	var b Batch
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("models.yaml: %w", err)
	}
	if b.ModelsDir == "" {
		b.ModelsDir = filepath.Join(filepath.Dir(path), "models")
	}
	b.Normalize(DefaultTuning())
	if err := b.Validate(); err != nil {
		return b, fmt.Errorf("models.yaml: %w", err)
	}
	return b, nil
}

// Normalize fills dimensions, amounts and steps the way the run list
// leaves them implicit.
func (b *Batch) Normalize(t Tuning) {
	if b == nil {
		return
	}
	for i := range b.Models {
		s := &b.Models[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.D == 0 {
			s.D = 2
		}
		if s.Length == 0 {
			s.Length = s.Size
		}
		if s.Width == 0 {
			s.Width = s.Size
		}
		if s.Height == 0 {
			if s.D == 2 {
				s.Height = 1
			} else {
				s.Height = s.Size
			}
		}
		if s.Amount <= 0 {
			s.Amount = 1
		}
		if s.Gif {
			s.Amount = 1
		}
		if s.Steps == 0 {
			if s.Gif {
				s.Steps = t.GifSteps
			} else {
				s.Steps = t.DefaultSteps
			}
		}
	}
}

func (b Batch) Validate() error {
	if len(b.Models) == 0 {
		return fmt.Errorf("models must not be empty")
	}
	for i, s := range b.Models {
		if s.Name == "" {
			return fmt.Errorf("models[%d] name must not be empty", i)
		}
		if s.D != 2 && s.D != 3 {
			return fmt.Errorf("model %s d must be 2 or 3", s.Name)
		}
		if s.Length < 0 || s.Width < 0 || s.Height < 0 {
			return fmt.Errorf("model %s dimensions must be >= 0", s.Name)
		}
		if len(s.Seeds) > 0 && len(s.Seeds) < s.Amount {
			return fmt.Errorf("model %s lists %d seeds for amount %d", s.Name, len(s.Seeds), s.Amount)
		}
		for sym, hex := range s.Colors {
			if len(sym) != 1 {
				return fmt.Errorf("model %s color symbol %q must be one character", s.Name, sym)
			}
			if _, err := parseHex(hex); err != nil {
				return fmt.Errorf("model %s color %s: %w", s.Name, sym, err)
			}
		}
	}
	return nil
}

// Path returns the model file for s.
func (b Batch) Path(s BatchSpec) string {
	return filepath.Join(b.ModelsDir, s.Name+".yaml")
}
