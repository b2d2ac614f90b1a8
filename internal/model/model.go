package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a model rejected by schema or semantic validation.
var ErrInvalid = errors.New("invalid model")

// Model is one rewrite program: the start grid alphabet and the node tree
// that drives it.
type Model struct {
	Name        string              `yaml:"name" json:"name"`
	Values      string              `yaml:"values" json:"values"`
	Origin      bool                `yaml:"origin,omitempty" json:"origin,omitempty"`
	Symmetry    string              `yaml:"symmetry,omitempty" json:"symmetry,omitempty"`
	Unions      []Union             `yaml:"unions,omitempty" json:"unions,omitempty"`
	Transparent string              `yaml:"transparent,omitempty" json:"transparent,omitempty"`
	Folder      string              `yaml:"folder,omitempty" json:"folder,omitempty"`
	Size        Size                `yaml:"size,omitempty" json:"size,omitempty"`
	Tilesets    map[string]*Tileset `yaml:"tilesets,omitempty" json:"tilesets,omitempty"`
	Root        Node                `yaml:"root" json:"root"`
}

type Size struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	Z int `yaml:"z,omitempty" json:"z,omitempty"`
}

type Union struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Values string `yaml:"values" json:"values"`
}

// Node is a tagged variant: Kind selects which of the optional fields apply.
type Node struct {
	Kind     string `yaml:"kind" json:"kind"`
	Symmetry string `yaml:"symmetry,omitempty" json:"symmetry,omitempty"`
	Comment  string `yaml:"comment,omitempty" json:"comment,omitempty"`

	// one, all, prl, convolution
	Rules            []Rule    `yaml:"rules,omitempty" json:"rules,omitempty"`
	Steps            int       `yaml:"steps,omitempty" json:"steps,omitempty"`
	Temperature      *float64  `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Fields           []Field   `yaml:"fields,omitempty" json:"fields,omitempty"`
	Observe          []Observe `yaml:"observe,omitempty" json:"observe,omitempty"`
	Search           bool      `yaml:"search,omitempty" json:"search,omitempty"`
	Limit            *int      `yaml:"limit,omitempty" json:"limit,omitempty"`
	DepthCoefficient *float64  `yaml:"depth_coefficient,omitempty" json:"depth_coefficient,omitempty"`

	// markov, sequence, map, wfc
	Children []Node `yaml:"children,omitempty" json:"children,omitempty"`

	// path
	From     string `yaml:"from,omitempty" json:"from,omitempty"`
	To       string `yaml:"to,omitempty" json:"to,omitempty"`
	On       string `yaml:"on,omitempty" json:"on,omitempty"`
	Color    string `yaml:"color,omitempty" json:"color,omitempty"`
	Inertia  bool   `yaml:"inertia,omitempty" json:"inertia,omitempty"`
	Longest  bool   `yaml:"longest,omitempty" json:"longest,omitempty"`
	Edges    bool   `yaml:"edges,omitempty" json:"edges,omitempty"`
	Vertices bool   `yaml:"vertices,omitempty" json:"vertices,omitempty"`

	// map, wfc: alphabet of the grid the node switches to
	Values string  `yaml:"values,omitempty" json:"values,omitempty"`
	Unions []Union `yaml:"unions,omitempty" json:"unions,omitempty"`
	Scale  string  `yaml:"scale,omitempty" json:"scale,omitempty"`

	// convolution
	Neighborhood string `yaml:"neighborhood,omitempty" json:"neighborhood,omitempty"`
	Periodic     *bool  `yaml:"periodic,omitempty" json:"periodic,omitempty"`

	// convchain, wfc overlap
	Sample []string `yaml:"sample,omitempty" json:"sample,omitempty"`
	N      int      `yaml:"n,omitempty" json:"n,omitempty"`
	Black  string   `yaml:"black,omitempty" json:"black,omitempty"`
	White  string   `yaml:"white,omitempty" json:"white,omitempty"`

	// wfc
	PeriodicInput *bool  `yaml:"periodic_input,omitempty" json:"periodic_input,omitempty"`
	Shannon       bool   `yaml:"shannon,omitempty" json:"shannon,omitempty"`
	Tries         int    `yaml:"tries,omitempty" json:"tries,omitempty"`
	Tileset       string `yaml:"tileset,omitempty" json:"tileset,omitempty"`
	Overlap       int    `yaml:"overlap,omitempty" json:"overlap,omitempty"`
	OverlapZ      int    `yaml:"overlapz,omitempty" json:"overlapz,omitempty"`
}

// Rule is a local rewrite "in -> out". Convolution rules use Values and Sum
// instead of patterns; wfc rules map one input symbol to "A|B" alternatives.
type Rule struct {
	In       string   `yaml:"in" json:"in"`
	Out      string   `yaml:"out" json:"out"`
	P        *float64 `yaml:"p,omitempty" json:"p,omitempty"`
	Symmetry string   `yaml:"symmetry,omitempty" json:"symmetry,omitempty"`
	Values   string   `yaml:"values,omitempty" json:"values,omitempty"`
	Sum      string   `yaml:"sum,omitempty" json:"sum,omitempty"`
}

// Probability returns P, defaulting to 1.
func (r Rule) Probability() float64 {
	if r.P == nil {
		return 1
	}
	return *r.P
}

type Field struct {
	For       string `yaml:"for" json:"for"`
	On        string `yaml:"on" json:"on"`
	From      string `yaml:"from,omitempty" json:"from,omitempty"`
	To        string `yaml:"to,omitempty" json:"to,omitempty"`
	Recompute bool   `yaml:"recompute,omitempty" json:"recompute,omitempty"`
	Essential bool   `yaml:"essential,omitempty" json:"essential,omitempty"`
}

type Observe struct {
	Value string `yaml:"value" json:"value"`
	From  string `yaml:"from,omitempty" json:"from,omitempty"`
	To    string `yaml:"to" json:"to"`
}

// Tileset describes the tiles of a tile-mode wfc node. Tile Data uses the
// rule pattern syntax: "/" separated rows, space separated z layers.
type Tileset struct {
	FullSymmetry bool       `yaml:"full_symmetry,omitempty" json:"full_symmetry,omitempty"`
	Tiles        []Tile     `yaml:"tiles" json:"tiles"`
	Neighbors    []Neighbor `yaml:"neighbors" json:"neighbors"`
}

type Tile struct {
	Name   string   `yaml:"name" json:"name"`
	Weight *float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
	Data   string   `yaml:"data" json:"data"`
}

// Neighbor declares an adjacency. Tile references are "[xyz...] name", the
// optional prefix listing rotations applied right to left.
type Neighbor struct {
	Left   string `yaml:"left,omitempty" json:"left,omitempty"`
	Right  string `yaml:"right,omitempty" json:"right,omitempty"`
	Top    string `yaml:"top,omitempty" json:"top,omitempty"`
	Bottom string `yaml:"bottom,omitempty" json:"bottom,omitempty"`
}

// Kinds lists every node kind the engine can build.
var Kinds = []string{"one", "all", "prl", "markov", "sequence", "path", "map", "convolution", "convchain", "wfc"}

// Load reads a YAML model from path. The model name defaults to the file
// base name.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// Parse validates raw YAML against the model schema and decodes it.
func Parse(raw []byte) (*Model, error) {
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}
	var m Model
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate performs the checks the schema cannot express.
func (m *Model) Validate() error {
	if strings.TrimSpace(m.Values) == "" {
		return fmt.Errorf("%w: values must not be empty", ErrInvalid)
	}
	for _, u := range m.Unions {
		if len(u.Symbol) != 1 {
			return fmt.Errorf("%w: union symbol %q must be one character", ErrInvalid, u.Symbol)
		}
	}
	return m.Root.validate("root", m)
}

func (n *Node) validate(path string, m *Model) error {
	switch n.Kind {
	case "markov", "sequence":
		if len(n.Children) == 0 {
			return fmt.Errorf("%w: %s: %s needs children", ErrInvalid, path, n.Kind)
		}
	case "one", "all", "prl":
		if len(n.Rules) == 0 {
			return fmt.Errorf("%w: %s: %s needs rules", ErrInvalid, path, n.Kind)
		}
	case "map":
		if n.Scale == "" || n.Values == "" {
			return fmt.Errorf("%w: %s: map needs scale and values", ErrInvalid, path)
		}
	case "wfc":
		if n.Values == "" {
			return fmt.Errorf("%w: %s: wfc needs values", ErrInvalid, path)
		}
		if (len(n.Sample) == 0) == (n.Tileset == "") {
			return fmt.Errorf("%w: %s: wfc needs exactly one of sample or tileset", ErrInvalid, path)
		}
		if n.Tileset != "" {
			if _, ok := m.Tilesets[n.Tileset]; !ok {
				return fmt.Errorf("%w: %s: unknown tileset %q", ErrInvalid, path, n.Tileset)
			}
		}
	case "path":
		if n.From == "" || n.To == "" || n.On == "" {
			return fmt.Errorf("%w: %s: path needs from, to and on", ErrInvalid, path)
		}
	case "convchain":
		if len(n.Sample) == 0 || n.Black == "" || n.White == "" || n.On == "" {
			return fmt.Errorf("%w: %s: convchain needs sample, black, white and on", ErrInvalid, path)
		}
	case "convolution":
		if n.Neighborhood == "" || len(n.Rules) == 0 {
			return fmt.Errorf("%w: %s: convolution needs neighborhood and rules", ErrInvalid, path)
		}
	default:
		return fmt.Errorf("%w: %s: unknown node kind %q", ErrInvalid, path, n.Kind)
	}
	for i := range n.Children {
		c := &n.Children[i]
		if err := c.validate(ChildPath(path, c.Kind, i), m); err != nil {
			return err
		}
	}
	return nil
}

// ChildPath names the i-th child of the node at path, e.g. "root/one[2]".
func ChildPath(path, kind string, i int) string {
	return fmt.Sprintf("%s/%s[%d]", path, kind, i)
}

// Dims resolves the grid size, falling back to the model size and then to
// a 2D default of 32x32.
func (m *Model) Dims(mx, my, mz int) (int, int, int) {
	if mx <= 0 {
		mx = m.Size.X
	}
	if my <= 0 {
		my = m.Size.Y
	}
	if mz <= 0 {
		mz = m.Size.Z
	}
	if mx <= 0 {
		mx = 32
	}
	if my <= 0 {
		my = mx
	}
	if mz <= 0 {
		mz = 1
	}
	return mx, my, mz
}
