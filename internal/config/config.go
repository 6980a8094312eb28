// Package config loads and persists dbma configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the full dbma configuration, loaded from ~/.dbma/dbma.json.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Store   StoreConfig   `json:"store"`
	Target  TargetConfig  `json:"target"`
	LLM     LLMConfig     `json:"llm"`
	Agent   AgentConfig   `json:"agent"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level      string `json:"level"` // "trace", "debug", "info", "warn", "error"
	ShowCaller bool   `json:"showCaller"`
}

// StoreConfig configures the SQLite persistence store.
type StoreConfig struct {
	Path        string `json:"path"`        // database file path
	WALMode     bool   `json:"walMode"`     // enable WAL mode (default: true)
	BusyTimeout int    `json:"busyTimeout"` // busy timeout in ms (default: 5000)
}

// TargetConfig configures the target MySQL server the agent talks to.
type TargetConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	Database       string `json:"database"`       // initial database, may be switched at runtime
	TimeoutSeconds int    `json:"timeoutSeconds"` // per-statement timeout (default: 30)
}

// LLMConfig configures the text-generation backend.
type LLMConfig struct {
	Provider       string  `json:"provider"` // "ollama", "openai", "anthropic"
	Model          string  `json:"model"`
	URL            string  `json:"url"`    // base URL (ollama, openai-compatible)
	APIKey         string  `json:"apiKey"` // openai/anthropic
	Temperature    float32 `json:"temperature"`
	TimeoutSeconds int     `json:"timeoutSeconds"` // per-attempt timeout (default: 120)
}

// AgentConfig holds the operator-tunable agent parameters.
type AgentConfig struct {
	WindowSize          int    `json:"windowSize"`       // unsummarized messages before compaction triggers (default: 40)
	KeepTail            int    `json:"keepTail"`         // most-recent messages always kept verbatim (default: 40)
	MaxRetries          int    `json:"maxRetries"`       // self-healing retry budget (default: 3)
	SchemaTTLMinutes    int    `json:"schemaTTLMinutes"` // schema cache staleness threshold (default: 15)
	HistoryContext      int    `json:"historyContext"`   // recent query-history rows in the system prompt (default: 5)
	MaintenanceCronSpec string `json:"maintenanceCron"`  // cron spec for background maintenance (default: "@every 5m")
}

// Default returns a Config populated with defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Path:        filepath.Join(home, ".dbma", "dbma.db"),
			WALMode:     true,
			BusyTimeout: 5000,
		},
		Target: TargetConfig{
			Host:           "127.0.0.1",
			Port:           3306,
			User:           "root",
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "llama3.1:8b",
			URL:            "http://127.0.0.1:11434",
			Temperature:    0.1,
			TimeoutSeconds: 120,
		},
		Agent: AgentConfig{
			WindowSize:          40,
			KeepTail:            40,
			MaxRetries:          3,
			SchemaTTLMinutes:    15,
			HistoryContext:      5,
			MaintenanceCronSpec: "@every 5m",
		},
	}
}

// Path returns the config file path.
func Path() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dbma", "dbma.json")
}

// Load reads dbma.json over the defaults. A missing file is not an error;
// the defaults are returned unchanged.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path())
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", Path(), err)
	}

	cfg.applyFloors()
	return cfg, nil
}

// Save writes the config atomically to dbma.json.
func (c *Config) Save() error {
	return AtomicWriteJSON(Path(), c, 0600)
}

// applyFloors restores defaults for values that must be positive.
func (c *Config) applyFloors() {
	d := Default()
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = d.Store.BusyTimeout
	}
	if c.Target.TimeoutSeconds <= 0 {
		c.Target.TimeoutSeconds = d.Target.TimeoutSeconds
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = d.LLM.TimeoutSeconds
	}
	if c.Agent.WindowSize <= 0 {
		c.Agent.WindowSize = d.Agent.WindowSize
	}
	if c.Agent.KeepTail <= 0 {
		c.Agent.KeepTail = d.Agent.KeepTail
	}
	if c.Agent.MaxRetries <= 0 {
		c.Agent.MaxRetries = d.Agent.MaxRetries
	}
	if c.Agent.SchemaTTLMinutes <= 0 {
		c.Agent.SchemaTTLMinutes = d.Agent.SchemaTTLMinutes
	}
	if c.Agent.HistoryContext <= 0 {
		c.Agent.HistoryContext = d.Agent.HistoryContext
	}
	if c.Agent.MaintenanceCronSpec == "" {
		c.Agent.MaintenanceCronSpec = d.Agent.MaintenanceCronSpec
	}
}
