package benchmark

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML root structure of a benchmark table.
type File struct {
	Industries []Profile `yaml:"industries"`
}

// Load reads a benchmark table from a YAML file. An empty path yields Default().
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("benchmark file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("read benchmark file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML benchmark document.
func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse benchmark file: %w", err)
	}
	if len(f.Industries) == 0 {
		return nil, errors.New("benchmark file defines no industries")
	}
	for _, p := range f.Industries {
		if err := validateProfile(p); err != nil {
			return nil, err
		}
	}
	return NewTable(f.Industries...), nil
}

func validateProfile(p Profile) error {
	if p.Industry == "" {
		return errors.New("benchmark profile missing industry code")
	}
	bands := map[string]Range{
		"revenueMultiple": p.RevenueMultiple,
		"ebitdaMultiple":  p.EBITDAMultiple,
		"sdeMultiple":     p.SDEMultiple,
	}
	for name, r := range bands {
		// an all-zero band means the methodology does not apply to the industry
		if r == (Range{}) {
			continue
		}
		if !r.Valid() {
			return fmt.Errorf("industry %s: invalid %s [%v, %v]", p.Industry, name, r.Low, r.High)
		}
	}
	for key, t := range p.Targets {
		if t.Confidence < 0 || t.Confidence > 1 {
			return fmt.Errorf("industry %s: target %s confidence %v outside [0,1]", p.Industry, key, t.Confidence)
		}
	}
	return nil
}
