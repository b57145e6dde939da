// Package config loads and validates the engine configuration from
// bridge.yaml, merging user-provided values over built-in defaults.
package config

import (
	"time"
)

// Config is the fully merged and validated engine configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Thresholds ThresholdConfig  `yaml:"thresholds"`
	Phases     PhaseConfig      `yaml:"phases"`
	Decision   DecisionConfig   `yaml:"decision"`
	Repository RepositoryConfig `yaml:"repository"`
}

// EngineConfig groups core engine parameters.
type EngineConfig struct {
	VectorDimension  int  `yaml:"vector_dimension"`
	ProfileCacheSize int  `yaml:"profile_cache_size"`
	WarmStart        bool `yaml:"warm_start"`
}

// ThresholdConfig holds the phase similarity thresholds. The challenge-band
// multipliers shape the zone between allow and block.
type ThresholdConfig struct {
	GradualRisk           float64 `yaml:"gradual_risk"`
	GradualChallengeBand  float64 `yaml:"gradual_challenge_band"`
	FullAuth              float64 `yaml:"full_auth"`
	FullAuthChallengeBand float64 `yaml:"full_auth_challenge_band"`
}

// PhaseConfig holds the session-count gates for phase promotion.
type PhaseConfig struct {
	GradualAfter    int `yaml:"gradual_after"`
	FullAuthAfter   int `yaml:"full_auth_after"`
	GradualMinCount int `yaml:"gradual_min_count"`
}

// DecisionConfig holds decision-engine tuning knobs.
type DecisionConfig struct {
	LearningRate    float64 `yaml:"learning_rate"`
	LearningTopK    int     `yaml:"learning_top_k"`
	FullAuthTopK    int     `yaml:"full_auth_top_k"`
	LearningConfCap float64 `yaml:"learning_confidence_cap"`
	FullAuthConf    float64 `yaml:"full_auth_confidence"`
}

// RepositoryConfig holds persistence behavior settings. The YAML fields are
// duration strings ("5s", "100ms") parsed into Timeout and RetryDelay during
// Initialize.
type RepositoryConfig struct {
	TimeoutStr    string `yaml:"timeout"`
	RetryDelayStr string `yaml:"retry_delay"`

	Timeout    time.Duration `yaml:"-"`
	RetryDelay time.Duration `yaml:"-"`
}

// Defaults returns the built-in configuration. User YAML merges over it.
func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			VectorDimension:  90,
			ProfileCacheSize: 10000,
			WarmStart:        true,
		},
		Thresholds: ThresholdConfig{
			GradualRisk:           0.6,
			GradualChallengeBand:  0.7,
			FullAuth:              0.8,
			FullAuthChallengeBand: 0.8,
		},
		Phases: PhaseConfig{
			GradualAfter:    5,
			FullAuthAfter:   10,
			GradualMinCount: 3,
		},
		Decision: DecisionConfig{
			LearningRate:    0.1,
			LearningTopK:    3,
			FullAuthTopK:    5,
			LearningConfCap: 0.8,
			FullAuthConf:    0.9,
		},
		Repository: RepositoryConfig{
			Timeout:    5 * time.Second,
			RetryDelay: 100 * time.Millisecond,
		},
	}
}

// ThresholdMap renders the thresholds in the form engine stats report them.
func (c *Config) ThresholdMap() map[string]float64 {
	return map[string]float64{
		"gradual_risk": c.Thresholds.GradualRisk,
		"full_auth":    c.Thresholds.FullAuth,
	}
}
