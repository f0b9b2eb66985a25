// Package config loads file based configuration for the convoflow binaries.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/dukex/convoflow/pkg/autoheal"
)

// MaxBatchSize is the largest write batch a run may use.
const MaxBatchSize = 500

// AutohealConfig is the YAML file read by the auto-heal job. Run options are
// inlined so the file mirrors autoheal.Options field names.
type AutohealConfig struct {
	// Schedule is a standard five field cron expression. Empty means run once.
	Schedule   string `yaml:"schedule"`
	RunOnStart bool   `yaml:"runOnStart"`

	autoheal.Options `yaml:",inline"`
}

// DefaultAutohealConfig runs once, in dry-run mode.
func DefaultAutohealConfig() AutohealConfig {
	return AutohealConfig{
		Options: autoheal.Options{DryRun: true},
	}
}

// LoadAutohealConfig reads path over the defaults. A missing file is not an
// error when optional is true.
func LoadAutohealConfig(path string, optional bool) (AutohealConfig, error) {
	cfg := DefaultAutohealConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the schedule expression and the numeric limits.
func (c AutohealConfig) Validate() error {
	if c.Schedule != "" {
		if _, err := c.CronSchedule(); err != nil {
			return err
		}
	}

	if c.MaxCreators < 0 {
		return errors.New("maxCreators must not be negative")
	}

	if c.MaxWorkflows < 0 {
		return errors.New("maxWorkflows must not be negative")
	}

	if c.BatchSize < 0 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batchSize must be between 0 and %d", MaxBatchSize)
	}

	return nil
}

// CronSchedule parses Schedule.
//
//nolint:ireturn
func (c AutohealConfig) CronSchedule() (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(c.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}

	return schedule, nil
}
