package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the engine configuration file looked up inside the config
// directory.
const FileName = "bridge.yaml"

// LoadError wraps a configuration-file load failure with the file name.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Initialize loads, merges, validates and returns ready-to-use
// configuration. A missing bridge.yaml is not an error: the built-in
// defaults apply unchanged.
//
// Steps performed:
//  1. Read bridge.yaml from configDir (optional)
//  2. Expand environment variables in the raw YAML
//  3. Parse into a Config
//  4. Merge user values over built-in defaults
//  5. Validate the merged result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := Defaults()

	path := filepath.Join(configDir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No bridge.yaml found, using built-in defaults")
	case err != nil:
		return nil, &LoadError{File: FileName, Err: err}
	default:
		// Shell-style ${VAR} references in the YAML resolve against the
		// process environment before parsing. An unset variable leaves its
		// key empty, and an empty key keeps its built-in default.
		user := Defaults()
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), user); err != nil {
			return nil, &LoadError{File: FileName, Err: err}
		}
		// User-provided values override the defaults, explicit zero and
		// false values included; keys absent from the file keep the defaults
		// the user config was seeded with.
		if err := mergo.Merge(cfg, user, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
			return nil, &LoadError{File: FileName, Err: err}
		}
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, &LoadError{File: FileName, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"vector_dimension", cfg.Engine.VectorDimension,
		"gradual_threshold", cfg.Thresholds.GradualRisk,
		"full_auth_threshold", cfg.Thresholds.FullAuth,
		"learning_rate", cfg.Decision.LearningRate)

	return cfg, nil
}

// parseDurations resolves the duration-string YAML fields into their typed
// counterparts. Empty strings keep the built-in defaults.
func (c *Config) parseDurations() error {
	if s := c.Repository.TimeoutStr; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid repository.timeout %q: %w", s, err)
		}
		c.Repository.Timeout = d
	}
	if s := c.Repository.RetryDelayStr; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid repository.retry_delay %q: %w", s, err)
		}
		c.Repository.RetryDelay = d
	}
	return nil
}

// Validate checks the merged configuration for values the engine cannot
// run with.
func (c *Config) Validate() error {
	if c.Engine.VectorDimension < 1 {
		return fmt.Errorf("engine.vector_dimension must be at least 1, got %d", c.Engine.VectorDimension)
	}
	if c.Engine.ProfileCacheSize < 1 {
		return fmt.Errorf("engine.profile_cache_size must be at least 1, got %d", c.Engine.ProfileCacheSize)
	}
	for name, v := range map[string]float64{
		"thresholds.gradual_risk": c.Thresholds.GradualRisk,
		"thresholds.full_auth":    c.Thresholds.FullAuth,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"thresholds.gradual_challenge_band":   c.Thresholds.GradualChallengeBand,
		"thresholds.full_auth_challenge_band": c.Thresholds.FullAuthChallengeBand,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0, 1), got %v", name, v)
		}
	}
	if c.Decision.LearningRate <= 0 || c.Decision.LearningRate > 1 {
		return fmt.Errorf("decision.learning_rate must be in (0, 1], got %v", c.Decision.LearningRate)
	}
	if c.Phases.GradualAfter < 1 {
		return fmt.Errorf("phases.gradual_after must be at least 1, got %d", c.Phases.GradualAfter)
	}
	if c.Phases.FullAuthAfter <= c.Phases.GradualAfter {
		return fmt.Errorf("phases.full_auth_after (%d) must exceed phases.gradual_after (%d)",
			c.Phases.FullAuthAfter, c.Phases.GradualAfter)
	}
	if c.Repository.Timeout <= 0 {
		return fmt.Errorf("repository.timeout must be positive, got %v", c.Repository.Timeout)
	}
	return nil
}
