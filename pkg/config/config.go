// Package config provides configuration loading, validation, and defaults
// for the iteration driver. Configuration lives in .agentloop/config.json
// inside the target repository; state (sessions, checkpoints, archives) is
// stored separately and never mixed into config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Agent backend selection.
const (
	BackendCLI = "cli" // spawn the claude CLI, stream-json output
	BackendAPI = "api" // direct Anthropic Messages API
)

// File locations relative to the repository root.
const (
	ConfigDir          = ".agentloop"
	ConfigFilename     = "config.json"
	SessionFilename    = "session.json"
	ArchiveFilename    = "history.db"
	DefaultBacklogFile = "BACKLOG.md"
	DefaultProgressLog = "PROGRESS.md"
	DefaultPluginDir   = ".agentloop/plugins"
	SchemaVersion      = "1.0"
)

// Default limits.
const (
	DefaultMaxRetries = 2
	DefaultIterations = 10
)

// ModelPricing holds cost-per-million-token rates for a known model.
type ModelPricing struct {
	InputCPM  float64 // USD per million input tokens
	OutputCPM float64 // USD per million output tokens
}

// KnownModels maps model names to pricing used when the agent backend does
// not report a cost itself. Unknown models fall back to zero cost.
//
//nolint:gochecknoglobals // static pricing registry
var KnownModels = map[string]ModelPricing{
	"claude-sonnet-4-5":          {InputCPM: 3.0, OutputCPM: 15.0},
	"claude-sonnet-4-20250514":   {InputCPM: 3.0, OutputCPM: 15.0},
	"claude-3-7-sonnet-20250219": {InputCPM: 3.0, OutputCPM: 15.0},
	"claude-opus-4-5":            {InputCPM: 5.0, OutputCPM: 25.0},
	"claude-haiku-4-5":           {InputCPM: 1.0, OutputCPM: 5.0},
}

// Config is the full configuration for a run. Zero-valued cost ceilings mean
// "no limit"; MaxRetries of zero means "no retries".
type Config struct {
	SchemaVersion string `json:"schema_version"`

	// Iteration bounds.
	MaxRetries          int     `json:"max_retries"`
	DefaultIterations   int     `json:"default_iterations"`
	MaxCostPerIteration float64 `json:"max_cost_per_iteration_usd,omitempty"`
	MaxCostPerSession   float64 `json:"max_cost_per_session_usd,omitempty"`
	WarnCostThreshold   float64 `json:"warn_cost_threshold_usd,omitempty"`

	// Agent backend.
	Backend string `json:"backend"`
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"api_key,omitempty"`

	// Collaborator documents, relative to the repository root.
	BacklogFile string `json:"backlog_file"`
	ProgressLog string `json:"progress_log"`
	PluginDir   string `json:"plugin_dir"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads .agentloop/config.json under repoRoot, substitutes ${ENV_VAR}
// placeholders, applies defaults, and validates. A missing config file is not
// an error: the defaults are returned so a bare repository still runs.
func Load(repoRoot string) (Config, error) {
	cfg := Defaults()

	path := filepath.Join(repoRoot, ConfigDir, ConfigFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		name := match[2 : len(match)-1]
		if value := os.Getenv(name); value != "" {
			return value
		}
		return match // leave placeholder intact when unset
	})

	// Decoding over the defaults keeps absent fields at their default while
	// letting an explicit zero (e.g. "max_retries": 0 meaning no retries)
	// stand.
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when no config file exists.
func Defaults() Config {
	cfg := Config{SchemaVersion: SchemaVersion}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.DefaultIterations == 0 {
		cfg.DefaultIterations = DefaultIterations
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendCLI
	}
	if cfg.BacklogFile == "" {
		cfg.BacklogFile = DefaultBacklogFile
	}
	if cfg.ProgressLog == "" {
		cfg.ProgressLog = DefaultProgressLog
	}
	if cfg.PluginDir == "" {
		cfg.PluginDir = DefaultPluginDir
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate rejects configurations the engine cannot safely run with.
func Validate(cfg *Config) error {
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.DefaultIterations < 1 {
		return fmt.Errorf("default_iterations must be >= 1, got %d", cfg.DefaultIterations)
	}
	if cfg.MaxCostPerIteration < 0 {
		return fmt.Errorf("max_cost_per_iteration_usd must be >= 0, got %g", cfg.MaxCostPerIteration)
	}
	if cfg.MaxCostPerSession < 0 {
		return fmt.Errorf("max_cost_per_session_usd must be >= 0, got %g", cfg.MaxCostPerSession)
	}
	switch cfg.Backend {
	case BackendCLI, BackendAPI:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendCLI, BackendAPI, cfg.Backend)
	}
	if cfg.Backend == BackendAPI && cfg.APIKey == "" {
		return fmt.Errorf("backend %q requires an api_key or ANTHROPIC_API_KEY", BackendAPI)
	}
	if strings.Contains(cfg.BacklogFile, "..") || strings.Contains(cfg.ProgressLog, "..") {
		return fmt.Errorf("backlog and progress paths must stay inside the repository")
	}
	return nil
}

// Save writes the config back to .agentloop/config.json.
func Save(repoRoot string, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	dir := filepath.Join(repoRoot, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFilename), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// PricingFor resolves pricing for a model name, ok=false when unknown.
func PricingFor(model string) (ModelPricing, bool) {
	p, ok := KnownModels[model]
	return p, ok
}
