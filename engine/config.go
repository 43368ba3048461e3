// Package engine orchestrates scoring: candidate blocks come in from
// scans or the mutation monitor, pass through the two cache tiers and
// the scorer, and leave as rendering-callback dispatches and scan
// reports. It also owns runtime settings: persisted in SQLite, merged
// with defaults on load, hot-reloaded without restart.
package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/slopshield/monitor"
)

// Config is the engine configuration, loadable from YAML.
type Config struct {
	// Threshold is the score at or above which the rendering
	// collaborator treats a block as flagged. Range 1-10.
	Threshold int `yaml:"threshold"`
	// MinTextLength is the generic-walk candidate floor.
	MinTextLength int `yaml:"min_text_length"`

	// DBPath is the SQLite file backing the durable tier and settings.
	DBPath string `yaml:"db_path"`

	SessionCapacity int           `yaml:"session_capacity"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	DurableCapacity int           `yaml:"durable_capacity"`

	Monitor monitor.Config `yaml:"monitor"`
}

func (c *Config) defaults() {
	if c.Threshold < 1 || c.Threshold > 10 {
		c.Threshold = 6
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 50
	}
	if c.DBPath == "" {
		c.DBPath = "slopshield.db"
	}
	if c.SessionCapacity <= 0 {
		c.SessionCapacity = 500
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.DurableCapacity <= 0 {
		c.DurableCapacity = 2000
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var c Config
	c.defaults()
	return c
}

// LoadConfig reads a YAML config file, filling unset fields with
// defaults. A missing file is not an error; defaults apply.
func LoadConfig(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.defaults()
			return c, nil
		}
		return c, fmt.Errorf("engine: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("engine: parse config: %w", err)
	}
	c.defaults()
	return c, nil
}
