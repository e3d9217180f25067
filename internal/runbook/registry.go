// Package runbook holds the catalog of remediation runbooks consulted
// during triage. The catalog is read-mostly: loaded once from YAML at
// startup and queried by category afterwards.
package runbook

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seed []byte

// Runbook is one remediation procedure. Keywords drive fit scoring against
// incident text; Category ties the runbook to a classifier category.
type Runbook struct {
	Key      string   `yaml:"key" json:"key"`
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category" json:"category"`
	URL      string   `yaml:"url" json:"url"`
	Steps    []string `yaml:"steps" json:"steps"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Registry maps categories to their candidate runbooks. Lookup order within
// a category follows catalog order; scoring decides the final ranking.
type Registry struct {
	byCategory map[string][]Runbook
	all        []Runbook
}

type catalog struct {
	Runbooks []Runbook `yaml:"runbooks"`
}

// Load parses a YAML catalog.
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	reg := &Registry{byCategory: make(map[string][]Runbook)}
	seen := make(map[string]bool)
	for _, rb := range c.Runbooks {
		if rb.Key == "" || rb.Name == "" || rb.Category == "" {
			return nil, fmt.Errorf("runbook %q: key, name and category are required", rb.Key)
		}
		if seen[rb.Key] {
			return nil, fmt.Errorf("duplicate runbook key %q", rb.Key)
		}
		seen[rb.Key] = true
		reg.byCategory[rb.Category] = append(reg.byCategory[rb.Category], rb)
		reg.all = append(reg.all, rb)
	}
	sort.Slice(reg.all, func(i, j int) bool { return reg.all[i].Key < reg.all[j].Key })
	return reg, nil
}

// LoadFile loads a catalog from disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Default returns the registry built from the embedded seed catalog.
func Default() *Registry {
	reg, err := Load(bytes.NewReader(seed))
	if err != nil {
		// The seed ships with the binary; a parse failure is a build defect.
		panic(fmt.Sprintf("runbook: embedded seed catalog invalid: %v", err))
	}
	return reg
}

// Candidates returns the runbooks registered for a category. An unknown
// category yields an empty slice, never an error.
func (r *Registry) Candidates(category string) []Runbook {
	return r.byCategory[category]
}

// All returns every runbook, ordered by key.
func (r *Registry) All() []Runbook {
	out := make([]Runbook, len(r.all))
	copy(out, r.all)
	return out
}

// Len reports the catalog size.
func (r *Registry) Len() int { return len(r.all) }
