// CLAUDE:SUMMARY Engine configuration (storage, flush cadence, alternatives, history, domain aliases, browser capture) and YAML loader.
package domselect

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/selres/domselect/internal/alternative"
	"github.com/hazyhaar/selres/domselect/internal/browser"
	"github.com/hazyhaar/selres/domselect/internal/history"
	"github.com/hazyhaar/selres/domselect/internal/profile"
)

// Config holds all domselect configuration.
type Config struct {
	// DBPath is the SQLite file holding profiles and snapshots.
	DBPath string `yaml:"db_path" json:"db_path"`
	// InMemory disables persistence entirely; profiles live and die with
	// the process.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// FlushInterval is the debounce period of profile writes.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`

	// AlternativeLimit is the default number of alternatives per analysis.
	AlternativeLimit int `yaml:"alternative_limit" json:"alternative_limit"`

	// HistorySize is the number of snapshots kept per domain, in memory
	// and on disk.
	HistorySize int `yaml:"history_size" json:"history_size"`

	// Aliases fold several hosts into one profile, first match wins.
	Aliases []profile.Alias `yaml:"aliases" json:"aliases,omitempty"`

	Browser browser.Config `yaml:"browser" json:"browser"`

	// Addr is the listen address of the HTTP API.
	Addr string `yaml:"addr" json:"addr"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "domselect.db"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = profile.DefaultFlushInterval
	}
	if c.AlternativeLimit <= 0 {
		c.AlternativeLimit = alternative.DefaultLimit
	}
	if c.HistorySize <= 0 {
		c.HistorySize = history.DefaultSize
	}
	if c.Addr == "" {
		c.Addr = ":8087"
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
