package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Palette maps value symbols to RGB colors.
type Palette struct {
	Colors map[byte][3]uint8
	Digest string
}

type paletteEntry struct {
	Symbol string `json:"symbol"`
	Value  string `json:"value"`
}

// LoadPalette reads palette.json: a list of {"symbol":"B","value":"#000000"}.
func LoadPalette(path string) (*Palette, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []paletteEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("palette.json: %w", err)
	}
	p := &Palette{Colors: make(map[byte][3]uint8, len(entries))}
	for _, e := range entries {
		if len(e.Symbol) != 1 {
			return nil, fmt.Errorf("palette.json: symbol %q must be one character", e.Symbol)
		}
		rgb, err := parseHex(e.Value)
		if err != nil {
			return nil, fmt.Errorf("palette.json: %s: %w", e.Symbol, err)
		}
		p.Colors[e.Symbol[0]] = rgb
	}
	p.Digest = p.digest()
	return p, nil
}

// With returns a copy of p with the overrides applied.
func (p *Palette) With(overrides map[string]string) (*Palette, error) {
	out := &Palette{Colors: make(map[byte][3]uint8, len(p.Colors)+len(overrides))}
	for k, v := range p.Colors {
		out.Colors[k] = v
	}
	for sym, h := range overrides {
		if len(sym) != 1 {
			return nil, fmt.Errorf("color symbol %q must be one character", sym)
		}
		rgb, err := parseHex(h)
		if err != nil {
			return nil, fmt.Errorf("color %s: %w", sym, err)
		}
		out.Colors[sym[0]] = rgb
	}
	out.Digest = out.digest()
	return out, nil
}

// Hex returns the "#rrggbb" color for symbol, or "" when it is unknown.
func (p *Palette) Hex(symbol byte) string {
	c, ok := p.Colors[symbol]
	if !ok {
		return ""
	}
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// Legend returns the hex colors of the symbols in legend, in legend order.
// Unknown symbols map to "".
func (p *Palette) Legend(legend string) []string {
	out := make([]string, len(legend))
	for i := 0; i < len(legend); i++ {
		out[i] = p.Hex(legend[i])
	}
	return out
}

// MarshalJSON writes the palette.json form, sorted by symbol.
func (p *Palette) MarshalJSON() ([]byte, error) {
	entries := make([]paletteEntry, 0, len(p.Colors))
	for s := range p.Colors {
		entries = append(entries, paletteEntry{Symbol: string(s), Value: p.Hex(s)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Symbol < entries[j].Symbol })
	return json.Marshal(entries)
}

func (p *Palette) digest() string {
	syms := make([]int, 0, len(p.Colors))
	for s := range p.Colors {
		syms = append(syms, int(s))
	}
	sort.Ints(syms)
	h := sha256.New()
	for _, s := range syms {
		c := p.Colors[byte(s)]
		h.Write([]byte{byte(s), c[0], c[1], c[2]})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func parseHex(s string) ([3]uint8, error) {
	var out [3]uint8
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return out, fmt.Errorf("bad hex color %q", s)
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return out, fmt.Errorf("bad hex color %q", s)
		}
		out[i] = uint8(v)
	}
	return out, nil
}
