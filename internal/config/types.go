// Package config provides configuration loading and management for heartbeat.
//
// Configuration is loaded using Viper, supporting YAML config files, a .env file
// and environment variable overrides. The package provides defaults that work out
// of the box, with the ability to customize the dispatch budget, the feature
// pipeline, the agent CLI and the store location.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [DispatchConfig] bounds how much agent work a single invocation starts
//   - [PipelineConfig] drives the specify -> complete feature pipeline
//
// Configuration priority (highest to lowest):
//  1. Environment variables (HEARTBEAT_ prefix, loaded after .env)
//  2. Config file specified by HEARTBEAT_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/heartbeat/heartbeat.yaml
//     - macOS: ~/Library/Application Support/heartbeat/heartbeat.yaml
//  4. ./config/heartbeat.yaml
//  5. ./heartbeat.yaml
//  6. [DefaultConfig] defaults
package config

import "time"

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and used throughout
// the application. Use [DefaultConfig] to get working defaults.
type Config struct {
	// Store locates the SQLite work-item store shared by every invocation.
	Store StoreConfig `mapstructure:"store"`

	// Registry locates the project registry (project id -> local path).
	Registry RegistryConfig `mapstructure:"registry"`

	// Agent contains agent CLI binary configuration.
	Agent AgentConfig `mapstructure:"agent"`

	// Dispatch bounds each dispatch run.
	Dispatch DispatchConfig `mapstructure:"dispatch"`

	// Pipeline configures the feature-delivery phase pipeline.
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Logging selects the slog handler and level.
	Logging LoggingConfig `mapstructure:"logging"`

	// Metrics configures the Prometheus textfile export.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Output contains terminal output formatting configuration.
	Output OutputConfig `mapstructure:"output"`
}

// StoreConfig locates the work-item database.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	// Default: ~/.heartbeat/heartbeat.db
	Path string `mapstructure:"path" validate:"required"`
}

// RegistryConfig locates the projects.yaml registry.
type RegistryConfig struct {
	// Path is an explicit registry file. Empty means auto-discovery.
	Path string `mapstructure:"path"`
}

// AgentConfig contains agent CLI configuration.
//
// These settings control how the Claude CLI binary is invoked for dispatched work.
type AgentConfig struct {
	// BinaryPath is the path to the Claude CLI binary.
	// Default: "claude" (assumes it is in PATH).
	// Can be overridden with the HEARTBEAT_CLAUDE_PATH environment variable.
	BinaryPath string `mapstructure:"binary_path" validate:"required"`

	// OutputFormat is the output format passed to the CLI.
	// Should be "stream-json" for structured event parsing.
	OutputFormat string `mapstructure:"output_format" validate:"required"`

	// Model is passed as --model when set.
	Model string `mapstructure:"model"`

	// SkipPermissions adds --dangerously-skip-permissions. Unattended runs need it.
	SkipPermissions bool `mapstructure:"skip_permissions"`
}

// DispatchConfig bounds a single dispatch run.
type DispatchConfig struct {
	// MaxConcurrent is the census ceiling: no item starts when this many agents are active.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"min=1"`

	// MaxItems is the number of items one invocation will consider.
	MaxItems int `mapstructure:"max_items" validate:"min=1"`

	// TimeoutMinutes bounds each agent launch.
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"min=1"`

	// StaleAfter closes agent sessions that never reported back (crashed invocations).
	// It must exceed the longest run a live session can take (see
	// [PipelineConfig.LongestRun]). Zero disables reaping.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// PromptTemplate renders the agent prompt for non-pipeline items.
	// Fields: see [PromptData].
	PromptTemplate string `mapstructure:"prompt_template" validate:"required"`
}

// PipelineConfig configures the specify -> plan -> tasks -> implement -> complete pipeline.
type PipelineConfig struct {
	// ToolPath is the phase-execution tool binary. Default: "specflow".
	ToolPath string `mapstructure:"tool_path" validate:"required"`

	// PhaseTimeout bounds each tool invocation. Default: 30m.
	PhaseTimeout time.Duration `mapstructure:"phase_timeout" validate:"gt=0"`

	// AgentTimeout bounds the implement-phase agent and repair agents. Default: 60m.
	AgentTimeout time.Duration `mapstructure:"agent_timeout" validate:"gt=0"`

	// EvalThreshold is the minimum quality-gate score (0-100) to advance.
	EvalThreshold float64 `mapstructure:"eval_threshold" validate:"gte=0,lte=100"`

	// MaxRetries is the number of gate retries per phase.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// WorktreeRoot is the directory holding per-feature worktrees.
	// Default: ~/.heartbeat/worktrees
	WorktreeRoot string `mapstructure:"worktree_root"`

	// StateDir is the tool's state directory inside a project. Default: ".specflow".
	StateDir string `mapstructure:"state_dir" validate:"required"`

	// StateFile is the tool's database file inside StateDir. Default: "features.db".
	StateFile string `mapstructure:"state_file" validate:"required"`

	// SpecsDir holds per-feature artifact directories. Default: "specs".
	SpecsDir string `mapstructure:"specs_dir" validate:"required"`

	// FeaturesFile is the feature-definition file used by the init fallback.
	FeaturesFile string `mapstructure:"features_file"`

	// ManifestPath optionally overrides the built-in phase graph with a CSV manifest.
	ManifestPath string `mapstructure:"manifest_path"`

	// Rubrics maps gated phases to eval rubric names.
	Rubrics map[string]string `mapstructure:"rubrics"`

	// Remote is the git remote pushed to by the implement phase. Default: "origin".
	Remote string `mapstructure:"remote"`
}

// LongestRun is the worst-case duration of one claimed pipeline item: the
// complete phase runs the tool, two repair agents and the tool again.
func (p PipelineConfig) LongestRun() time.Duration {
	return 2*p.PhaseTimeout + 2*p.AgentTimeout
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// Textfile is a node-exporter textfile path written after each run. Empty disables export.
	Textfile string `mapstructure:"textfile"`
}

// OutputConfig contains terminal output formatting configuration.
type OutputConfig struct {
	// TruncateLines is the maximum number of lines to display per block.
	// Default: 20
	TruncateLines int `mapstructure:"truncate_lines"`

	// TruncateLength is the maximum length of each output line.
	// Default: 60
	TruncateLength int `mapstructure:"truncate_length"`
}

// DefaultPromptTemplate is the agent prompt for generic work items.
const DefaultPromptTemplate = `{{.Title}}
{{if .Description}}
{{.Description}}
{{end}}
Work item: {{.ID}} (source: {{.Source}}{{if .SourceRef}}, ref: {{.SourceRef}}{{end}})
Work autonomously. Do not ask clarifying questions - use best judgment based on existing patterns.`

// DefaultConfig returns a new [Config] with working defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: defaultHomePath("heartbeat.db"),
		},
		Agent: AgentConfig{
			BinaryPath:      "claude",
			OutputFormat:    "stream-json",
			SkipPermissions: true,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent:  1,
			MaxItems:       1,
			TimeoutMinutes: 30,
			StaleAfter:     4 * time.Hour,
			PromptTemplate: DefaultPromptTemplate,
		},
		Pipeline: PipelineConfig{
			ToolPath:      "specflow",
			PhaseTimeout:  30 * time.Minute,
			AgentTimeout:  60 * time.Minute,
			EvalThreshold: 80,
			MaxRetries:    1,
			WorktreeRoot:  defaultHomePath("worktrees"),
			StateDir:      ".specflow",
			StateFile:     "features.db",
			SpecsDir:      "specs",
			FeaturesFile:  "features.json",
			Rubrics: map[string]string{
				"specify": "spec-quality",
				"plan":    "plan-quality",
			},
			Remote: "origin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			TruncateLines:  20,
			TruncateLength: 60,
		},
	}
}

// PromptData contains data for dispatch prompt template expansion.
//
// Fields are accessible in templates using {{.FieldName}} syntax.
type PromptData struct {
	ID          string
	Title       string
	Description string
	Source      string
	SourceRef   string
	Project     string
}
