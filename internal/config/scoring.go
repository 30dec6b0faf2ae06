package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/equityrun/equityrun/internal/models"
)

// ScoringFile is the optional YAML override for scoring thresholds.
type ScoringFile struct {
	Classify models.ClassifyThresholds `yaml:"classify"`
	Rvol     RvolOverrides             `yaml:"rvol"`
}

// RvolOverrides tunes the sustained relative-volume window.
type RvolOverrides struct {
	WindowMinutes int     `yaml:"window_minutes"`
	Threshold     float64 `yaml:"threshold"`
}

// LoadScoringFile applies a YAML threshold file on top of the config.
func LoadScoringFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scoring config: %w", err)
	}

	var f ScoringFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse scoring config: %w", err)
	}

	if f.Classify.TradeReady > 0 {
		c.Classify.TradeReady = f.Classify.TradeReady
	}
	if f.Classify.Builder > 0 {
		c.Classify.Builder = f.Classify.Builder
	}
	if f.Classify.Monitor > 0 {
		c.Classify.Monitor = f.Classify.Monitor
	}
	if f.Rvol.WindowMinutes > 0 {
		c.RvolWindow = minuteDuration(f.Rvol.WindowMinutes)
	}
	if f.Rvol.Threshold > 0 {
		c.RvolThreshold = f.Rvol.Threshold
	}
	return nil
}
