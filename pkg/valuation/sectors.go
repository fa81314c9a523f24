package valuation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sectors.yaml
var defaultSectorsYAML []byte

// Multiples are trailing price multiples. Zero means unknown.
type Multiples struct {
	PE float64 `json:"pe" yaml:"pe"`
	PB float64 `json:"pb" yaml:"pb"`
	PS float64 `json:"ps" yaml:"ps"`
}

// SectorTable maps a lower-cased sector name to its benchmark multiples.
type SectorTable map[string]Multiples

// DefaultSectors returns the built-in table.
func DefaultSectors() SectorTable {
	t, err := ParseSectors(defaultSectorsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded sectors.yaml: %v", err))
	}
	return t
}

func ParseSectors(data []byte) (SectorTable, error) {
	raw := map[string]Multiples{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sector table: %w", err)
	}
	t := make(SectorTable, len(raw))
	for name, m := range raw {
		t[normalizeSector(name)] = m
	}
	return t, nil
}

// LoadSectors reads a YAML sector table from path and lays it over the
// built-in one. An empty path returns the built-in table.
func LoadSectors(path string) (SectorTable, error) {
	t := DefaultSectors()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sector table: %w", err)
	}
	override, err := ParseSectors(data)
	if err != nil {
		return nil, err
	}
	for name, m := range override {
		t[name] = m
	}
	return t, nil
}

// Lookup returns the multiples for sector, falling back to the "default" row.
func (t SectorTable) Lookup(sector string) (Multiples, string) {
	key := normalizeSector(sector)
	if m, ok := t[key]; ok && key != "" {
		return m, key
	}
	return t["default"], "default"
}

func normalizeSector(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
