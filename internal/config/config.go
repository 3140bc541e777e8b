// Package config handles devspaced configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./devspace.yaml, ~/.config/devspace/config.yaml, /etc/devspace/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"devspace.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "devspace", "config.yaml"))
	}

	paths = append(paths, "/etc/devspace/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all devspaced configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	LLM      LLMConfig     `yaml:"llm"`
	Agent    AgentConfig   `yaml:"agent"`
	Git      GitConfig     `yaml:"git"`
	Cluster  ClusterConfig `yaml:"cluster"`
	Spaces   []SpaceConfig `yaml:"spaces"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines the language model endpoint and selection.
type LLMConfig struct {
	BaseURL    string `yaml:"base_url"` // Ollama-compatible chat endpoint
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"` // per model invocation (default 120)
}

// AgentConfig bounds the turn orchestrator.
type AgentConfig struct {
	MaxIterations  int `yaml:"max_iterations"`   // tool-call loop cap per turn (default 10)
	WindowTurns    int `yaml:"window_turns"`     // context window K in turns (default 10)
	ToolTimeoutSec int `yaml:"tool_timeout_sec"` // per tool execution (default 60)
}

// GitConfig defines git CLI execution settings.
type GitConfig struct {
	WorkDir    string `yaml:"work_dir"`    // persistent clones for push operations
	TimeoutSec int    `yaml:"timeout_sec"` // per git command (default 120)
}

// ClusterConfig maps environment keys to cluster API endpoints.
type ClusterConfig struct {
	Environments map[string]EnvironmentConfig `yaml:"environments"`
	TimeoutSec   int                          `yaml:"timeout_sec"` // per cluster call (default 30)
}

// EnvironmentConfig defines one cluster environment (test, grayscale, production).
type EnvironmentConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// SpaceConfig declares a conversational space and its backing systems.
type SpaceConfig struct {
	ID     string      `yaml:"id"`
	Name   string      `yaml:"name"`
	Domain string      `yaml:"domain"` // dev | ops
	Repo   *RepoConfig `yaml:"repo,omitempty"`
}

// RepoConfig defines the source repository for a dev space.
type RepoConfig struct {
	ID            string `yaml:"id"`
	URL           string `yaml:"url"`
	DefaultBranch string `yaml:"default_branch"`
	Token         string `yaml:"token,omitempty"` // API token for forge-hosted repos
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 5001
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 120
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.WindowTurns == 0 {
		c.Agent.WindowTurns = 10
	}
	if c.Agent.ToolTimeoutSec == 0 {
		c.Agent.ToolTimeoutSec = 60
	}
	if c.Git.TimeoutSec == 0 {
		c.Git.TimeoutSec = 120
	}
	if c.Cluster.TimeoutSec == 0 {
		c.Cluster.TimeoutSec = 30
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	for i := range c.Spaces {
		sp := &c.Spaces[i]
		if sp.Repo != nil && sp.Repo.DefaultBranch == "" {
			sp.Repo.DefaultBranch = "main"
		}
	}
}

func (c *Config) validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("config: llm.model is required")
	}
	seen := make(map[string]bool, len(c.Spaces))
	for _, sp := range c.Spaces {
		if sp.ID == "" {
			return fmt.Errorf("config: space with empty id")
		}
		if seen[sp.ID] {
			return fmt.Errorf("config: duplicate space id %q", sp.ID)
		}
		seen[sp.ID] = true
		switch sp.Domain {
		case "dev", "ops":
		default:
			return fmt.Errorf("config: space %q has invalid domain %q (valid: dev, ops)", sp.ID, sp.Domain)
		}
		if sp.Domain == "dev" && sp.Repo != nil && sp.Repo.URL == "" {
			return fmt.Errorf("config: space %q repo has no url", sp.ID)
		}
	}
	return nil
}
