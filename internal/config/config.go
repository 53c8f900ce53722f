// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the converse server.
// It handles loading and parsing YAML configuration files, and provides
// structured access to server settings, the backend registry, routing
// thresholds, quality gates, caching, and steering rules.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"port"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to
	// rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// Backends is the fixed set of execution targets. The orchestration
	// core only reads this registry, never mutates it.
	Backends []BackendConfig `yaml:"backends" json:"backends"`

	// Routing holds strategy thresholds and category preferences.
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	// Quality holds quality-gate thresholds.
	Quality QualityConfig `yaml:"quality" json:"quality"`

	// Streaming tunes the in-flight quality monitor.
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// Cache configures the approximate-match response cache.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Audit configures the append-only decision log.
	Audit AuditConfig `yaml:"audit" json:"audit"`

	// Embedding configures the optional ONNX embedding collaborator.
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`

	// Steering holds operator-defined routing rules.
	Steering []SteeringRule `yaml:"steering" json:"steering"`
}

// BackendConfig describes one execution target.
type BackendConfig struct {
	// ID is the backend's registry identifier.
	ID string `yaml:"id" json:"id"`
	// Provider selects the adapter (ollama, openai-compat).
	Provider string `yaml:"provider" json:"provider"`
	// Model is the provider-side model identifier.
	Model string `yaml:"model" json:"model"`
	// BaseURL is the provider endpoint. Empty uses the provider default.
	BaseURL string `yaml:"base-url" json:"base-url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api-key-env" json:"-"`
	// Local marks on-device backends eligible for privacy-forced routing.
	Local bool `yaml:"local" json:"local"`
	// CostPer1KTokens is the cost estimate used by the decision engine.
	CostPer1KTokens float64 `yaml:"cost-per-1k-tokens" json:"cost-per-1k-tokens"`
	// BaseLatencyMs overrides the inferred latency estimate when non-zero.
	BaseLatencyMs int64 `yaml:"base-latency-ms" json:"base-latency-ms"`
	// MaxContextTokens overrides the inferred context window when non-zero.
	MaxContextTokens int `yaml:"max-context-tokens" json:"max-context-tokens"`
	// NoStreaming disables streaming for providers that only answer whole.
	NoStreaming bool `yaml:"no-streaming" json:"no-streaming"`
}

// RoutingConfig controls strategy selection.
type RoutingConfig struct {
	// LocalThreshold is the complexity at or below which queries stay local.
	LocalThreshold float64 `yaml:"local-threshold" json:"local-threshold"`
	// CloudThreshold is the complexity at or above which queries delegate.
	CloudThreshold float64 `yaml:"cloud-threshold" json:"cloud-threshold"`
	// CategoryPriority maps task category to an ordered backend
	// preference list.
	CategoryPriority map[string][]string `yaml:"category-priority" json:"category-priority"`
	// DefaultPriority is the preference applied when a request declares
	// none (cost, quality, latency, balanced).
	DefaultPriority string `yaml:"default-priority" json:"default-priority"`
	// MetaPromptAdvisor asks the local model to classify complexity before
	// routing instead of relying on keyword heuristics alone.
	MetaPromptAdvisor bool `yaml:"meta-prompt-advisor" json:"meta-prompt-advisor"`
}

// QualityConfig holds quality-gate thresholds.
type QualityConfig struct {
	Overall      float64 `yaml:"overall" json:"overall"`
	Relevance    float64 `yaml:"relevance" json:"relevance"`
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Accuracy     float64 `yaml:"accuracy" json:"accuracy"`
	Coherence    float64 `yaml:"coherence" json:"coherence"`
	Safety       float64 `yaml:"safety" json:"safety"`
}

// StreamingConfig tunes the in-flight quality monitor.
type StreamingConfig struct {
	MinChunks             int     `yaml:"min-chunks" json:"min-chunks"`
	CheckInterval         int     `yaml:"check-interval" json:"check-interval"`
	RepetitionWindow      int     `yaml:"repetition-window" json:"repetition-window"`
	RepetitionLimit       int     `yaml:"repetition-limit" json:"repetition-limit"`
	MinCoherence          float64 `yaml:"min-coherence" json:"min-coherence"`
	MaxUncertaintyDensity float64 `yaml:"max-uncertainty-density" json:"max-uncertainty-density"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Enabled toggles the cache entirely.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// SimilarityThreshold is the minimum normalized similarity for an
	// approximate hit.
	SimilarityThreshold float64 `yaml:"similarity-threshold" json:"similarity-threshold"`
	// TTLHours is the entry lifetime in hours.
	TTLHours int `yaml:"ttl-hours" json:"ttl-hours"`
	// MaxEntries caps the store size; the oldest entry is evicted first.
	MaxEntries int `yaml:"max-entries" json:"max-entries"`
	// PersistPath is the sqlite file backing the cache. Empty disables
	// persistence.
	PersistPath string `yaml:"persist-path" json:"persist-path"`
}

// AuditConfig configures the append-only decision log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	// MaxSizeMB is the rotation size for the audit file.
	MaxSizeMB int `yaml:"max-size-mb" json:"max-size-mb"`
	// MaxBackups is how many rotated files to keep.
	MaxBackups int `yaml:"max-backups" json:"max-backups"`
}

// EmbeddingConfig configures the optional semantic matcher.
type EmbeddingConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	ModelPath         string `yaml:"model-path" json:"model-path"`
	VocabPath         string `yaml:"vocab-path" json:"vocab-path"`
	SharedLibraryPath string `yaml:"shared-library-path" json:"shared-library-path"`
}

// SteeringRule is an operator-defined routing override.
type SteeringRule struct {
	Name       string `yaml:"name" json:"name"`
	Condition  string `yaml:"condition" json:"condition"`
	Priority   int    `yaml:"priority" json:"priority"`
	Backend    string `yaml:"backend" json:"backend"`
	ForceLocal bool   `yaml:"force-local" json:"force-local"`
}

// CacheTTL returns the configured entry lifetime.
func (c CacheConfig) CacheTTL() time.Duration {
	if c.TTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// APIKey resolves the backend's API key from the environment.
func (b BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}

// applyDefaults fills defaults before unmarshal so that absent keys keep
// them.
func (c *Config) applyDefaults() {
	c.Port = 8318
	c.Routing.LocalThreshold = 0.4
	c.Routing.CloudThreshold = 0.7
	c.Routing.DefaultPriority = "balanced"
	c.Quality.Overall = 0.70
	c.Quality.Relevance = 0.70
	c.Quality.Completeness = 0.65
	c.Quality.Accuracy = 0.65
	c.Quality.Coherence = 0.60
	c.Quality.Safety = 0.95
	c.Streaming.MinChunks = 5
	c.Streaming.CheckInterval = 3
	c.Streaming.RepetitionWindow = 10
	c.Streaming.RepetitionLimit = 3
	c.Streaming.MinCoherence = 0.4
	c.Streaming.MaxUncertaintyDensity = 0.08
	c.Cache.Enabled = true
	c.Cache.SimilarityThreshold = 0.85
	c.Cache.TTLHours = 7 * 24
	c.Cache.MaxEntries = 1000
	c.Audit.Enabled = true
	c.Audit.Path = "./logs/decision_audit.log"
	c.Audit.MaxSizeMB = 50
	c.Audit.MaxBackups = 3
}

// Validate checks the invariants a misconfigured file would break at runtime.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	seen := make(map[string]bool, len(c.Backends))
	hasLocal := false
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend with empty id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
		if b.Local {
			hasLocal = true
		}
	}
	if !hasLocal {
		return fmt.Errorf("at least one local backend is required for privacy-restricted queries")
	}
	if c.Routing.LocalThreshold >= c.Routing.CloudThreshold {
		return fmt.Errorf("routing local-threshold %.2f must be below cloud-threshold %.2f",
			c.Routing.LocalThreshold, c.Routing.CloudThreshold)
	}
	return nil
}

// LoadConfig reads a YAML configuration file from the given path, applies
// defaults for absent keys, validates it, and returns it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	cfg.applyDefaults()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
