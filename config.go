package docflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration for a docflow deployment.
type Config struct {
	Thresholds Thresholds    `yaml:"thresholds"`
	Engine     EngineConfig  `yaml:"engine"`
	Rollout    RolloutParams `yaml:"rollout"`
	Shadow     ShadowConfig  `yaml:"shadow"`

	// ValidationRules are script expressions evaluated by the validation
	// agent against the mapped fields. Each must evaluate to a boolean.
	ValidationRules map[string]string `yaml:"validation_rules,omitempty"`
}

// EngineConfig holds the retry and timeout knobs of the engine.
type EngineConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
	StageTimeout        time.Duration `yaml:"stage_timeout"`
	CheckpointDir       string        `yaml:"checkpoint_dir,omitempty"`
	StageLogDir         string        `yaml:"stage_log_dir,omitempty"`
}

// RolloutParams holds the gradual rollout knobs.
type RolloutParams struct {
	Percentage    int                `yaml:"percentage"`
	Window        time.Duration      `yaml:"window"`
	CheckInterval time.Duration      `yaml:"check_interval"`
	Thresholds    RollbackThresholds `yaml:"thresholds"`
}

// ShadowConfig holds the shadow-comparison knobs.
type ShadowConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
	RecordPath    string        `yaml:"record_path,omitempty"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: DefaultThresholds(),
		Engine: EngineConfig{
			MaxAttempts:         3,
			MaxRecoveryAttempts: 1,
			StageTimeout:        60 * time.Second,
		},
		Rollout: RolloutParams{
			Percentage:    0,
			Window:        10 * time.Minute,
			CheckInterval: 30 * time.Second,
			Thresholds:    DefaultRollbackThresholds(),
		},
		Shadow: ShadowConfig{
			Enabled:       false,
			MaxConcurrent: 4,
			Timeout:       2 * time.Minute,
		},
	}
}

// LoadConfig reads a YAML configuration file, overlaying it on the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Validate rejects configurations that the runtime would misbehave under.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine max_attempts must be at least 1")
	}
	if c.Engine.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("engine max_recovery_attempts must not be negative")
	}
	if c.Rollout.Percentage < 0 || c.Rollout.Percentage > 100 {
		return fmt.Errorf("rollout percentage %d out of range [0,100]", c.Rollout.Percentage)
	}
	if c.Shadow.Enabled && c.Shadow.MaxConcurrent < 1 {
		return fmt.Errorf("shadow max_concurrent must be at least 1 when enabled")
	}
	return nil
}
