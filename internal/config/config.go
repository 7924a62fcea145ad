// Package config loads trust graph definitions from YAML: entity seeds,
// inheritance relationships, boundaries, and engine settings.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veriton/trustgraph/internal/trust"
)

// Entity seeds one entity in the graph.
type Entity struct {
	ID            string             `yaml:"id"`
	BaseScore     float64            `yaml:"base_score"`
	ContextScores map[string]float64 `yaml:"context_scores,omitempty"`
	Tier          string             `yaml:"tier,omitempty"`
}

// Relationship seeds one directed parent -> child edge.
type Relationship struct {
	Parent string `yaml:"parent"`
	Child  string `yaml:"child"`
}

// Config is a full graph definition. Relationships are applied in
// declaration order, so a config can express multi-level chains directly.
type Config struct {
	// LockTimeout bounds per-entity lock acquisition. Zero means the
	// engine default (5s).
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`

	// LogPath, when set, enables the SQLite transaction-log sink.
	LogPath string `yaml:"log_path,omitempty"`

	Entities      []Entity              `yaml:"entities"`
	Relationships []Relationship        `yaml:"relationships,omitempty"`
	Boundaries    []trust.TrustBoundary `yaml:"boundaries,omitempty"`
}

// ValidationError reports one problem in a config, with enough context to
// point at the offending element.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes. Unknown fields are rejected so typos
// surface as errors instead of silently ignored settings.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole config and returns every problem found, not
// just the first one.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		field := fmt.Sprintf("entities[%d]", i)
		if e.ID == "" {
			errs = append(errs, ValidationError{field, "id is required"})
			continue
		}
		if seen[e.ID] {
			errs = append(errs, ValidationError{field, fmt.Sprintf("duplicate entity id %q", e.ID)})
		}
		seen[e.ID] = true
		if !trust.ScoreInRange(e.BaseScore) {
			errs = append(errs, ValidationError{field,
				fmt.Sprintf("base_score %v outside [0.0, 1.0]", e.BaseScore)})
		}
		for name, score := range e.ContextScores {
			if !trust.ScoreInRange(score) {
				errs = append(errs, ValidationError{field,
					fmt.Sprintf("context score %q = %v outside [0.0, 1.0]", name, score)})
			}
		}
	}

	for i, r := range c.Relationships {
		field := fmt.Sprintf("relationships[%d]", i)
		if r.Parent == "" || r.Child == "" {
			errs = append(errs, ValidationError{field, "parent and child are required"})
			continue
		}
		if r.Parent == r.Child {
			errs = append(errs, ValidationError{field,
				fmt.Sprintf("self-inheritance %q -> %q", r.Parent, r.Child)})
		}
	}

	seenBoundaries := make(map[string]bool, len(c.Boundaries))
	for i, b := range c.Boundaries {
		field := fmt.Sprintf("boundaries[%d]", i)
		if err := b.Validate(); err != nil {
			errs = append(errs, ValidationError{field, err.Error()})
			continue
		}
		if seenBoundaries[b.BoundaryID] {
			errs = append(errs, ValidationError{field,
				fmt.Sprintf("duplicate boundary id %q", b.BoundaryID)})
		}
		seenBoundaries[b.BoundaryID] = true
	}

	return errs
}
