// Package config loads and validates the YAML configuration file.
//
// Validation is schema-driven: the embedded CUE schema is the single
// source of truth for allowed fields and value ranges, and every loaded
// file is unified with it before the typed struct is handed out.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the validated top-level configuration.
type Config struct {
	// StorePath is the SQLite file backing the portal.
	StorePath string `yaml:"store_path"`

	// PConsistencyChecks, when non-nil, overrides the verification
	// probability persisted at the storage location.
	PConsistencyChecks *float64 `yaml:"p_consistency_checks"`

	Log   Log   `yaml:"log"`
	Swarm Swarm `yaml:"swarm"`
}

// Log configures the logging fan-out.
type Log struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`

	// File, when set, receives a JSON copy of every log record.
	File string `yaml:"file"`
}

// Swarm configures worker pool sizing.
type Swarm struct {
	// Workers, when non-nil, fixes the worker count.
	Workers *int `yaml:"workers"`

	MaxWorkers int `yaml:"max_workers"`
	MinWorkers int `yaml:"min_workers"`

	// IdleDelayMS is the base pause between empty claim attempts.
	IdleDelayMS int `yaml:"idle_delay_ms"`
}

// IdleDelay returns the configured idle delay as a duration, 0 when
// unset.
func (s Swarm) IdleDelay() time.Duration {
	return time.Duration(s.IdleDelayMS) * time.Millisecond
}

// Load reads, validates and decodes the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	// Decode generically first so the CUE schema sees exactly what the
	// file says, including unknown fields.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Presence is checked here: the schema constrains values but cannot
	// demand concreteness for a partially specified document.
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("invalid config: store_path is required")
	}
	return &cfg, nil
}

// validate unifies the decoded document with the embedded schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("config schema: #Config definition missing")
	}

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
