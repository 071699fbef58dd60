package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment override (HEARTBEAT_DISPATCH_MAX_ITEMS, ...).
const EnvPrefix = "HEARTBEAT"

// configFileName is the config file name searched in each location.
const configFileName = "heartbeat.yaml"

// Loader handles Viper-based configuration loading.
//
// Create with [NewLoader]. Each Loader owns a private Viper instance so
// loading never touches package-level state.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	envFiles []string
}

// NewLoader creates a [Loader] that reads .env from the working directory.
func NewLoader() *Loader {
	return &Loader{
		v:        viper.New(),
		validate: validator.New(),
		envFiles: []string{".env"},
	}
}

// WithEnvFiles replaces the .env files loaded before environment lookup.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// Load resolves the config file by priority, applies environment overrides and
// validates the result. A missing config file is not an error; defaults apply.
func (l *Loader) Load() (*Config, error) {
	l.loadEnvFiles()
	l.setup()

	if path := l.resolveConfigPath(); path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return l.unmarshal()
}

// LoadFromFile loads configuration from an explicit file. The extension selects
// the format (yaml, json, toml).
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.loadEnvFiles()
	l.setup()

	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return l.unmarshal()
}

// MustLoad loads configuration and panics on error. Intended for main only.
func MustLoad() *Config {
	cfg, err := NewLoader().Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (l *Loader) loadEnvFiles() {
	for _, f := range l.envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Existing environment wins over .env.
		_ = godotenv.Load(f)
	}
}

func (l *Loader) setup() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Short aliases kept for the common overrides.
	_ = l.v.BindEnv("agent.binary_path", EnvPrefix+"_CLAUDE_PATH", EnvPrefix+"_AGENT_BINARY_PATH")
	_ = l.v.BindEnv("store.path", EnvPrefix+"_DB_PATH", EnvPrefix+"_STORE_PATH")
	_ = l.v.BindEnv("pipeline.tool_path", EnvPrefix+"_SPECFLOW_PATH", EnvPrefix+"_PIPELINE_TOOL_PATH")

	setDefaults(l.v, DefaultConfig())
}

func (l *Loader) resolveConfigPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_PATH"); p != "" {
		return p
	}
	candidates := []string{}
	if p, err := DefaultConfigPath(); err == nil {
		candidates = append(candidates, p)
	}
	candidates = append(candidates,
		filepath.Join("config", configFileName),
		configFileName,
	)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Registry.Path = expandHome(cfg.Registry.Path)
	cfg.Pipeline.WorktreeRoot = expandHome(cfg.Pipeline.WorktreeRoot)

	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateStaleAfter(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateStaleAfter rejects a reaper threshold that could release a claim
// whose session is still running.
func validateStaleAfter(cfg *Config) error {
	stale := cfg.Dispatch.StaleAfter
	if stale <= 0 {
		return nil
	}
	longest := cfg.Pipeline.LongestRun()
	if t := time.Duration(cfg.Dispatch.TimeoutMinutes) * time.Minute; t > longest {
		longest = t
	}
	if stale <= longest {
		return fmt.Errorf("invalid config: dispatch.stale_after (%s) must exceed the longest run (%s)", stale, longest)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("registry.path", d.Registry.Path)

	v.SetDefault("agent.binary_path", d.Agent.BinaryPath)
	v.SetDefault("agent.output_format", d.Agent.OutputFormat)
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.skip_permissions", d.Agent.SkipPermissions)

	v.SetDefault("dispatch.max_concurrent", d.Dispatch.MaxConcurrent)
	v.SetDefault("dispatch.max_items", d.Dispatch.MaxItems)
	v.SetDefault("dispatch.timeout_minutes", d.Dispatch.TimeoutMinutes)
	v.SetDefault("dispatch.stale_after", d.Dispatch.StaleAfter)
	v.SetDefault("dispatch.prompt_template", d.Dispatch.PromptTemplate)

	v.SetDefault("pipeline.tool_path", d.Pipeline.ToolPath)
	v.SetDefault("pipeline.phase_timeout", d.Pipeline.PhaseTimeout)
	v.SetDefault("pipeline.agent_timeout", d.Pipeline.AgentTimeout)
	v.SetDefault("pipeline.eval_threshold", d.Pipeline.EvalThreshold)
	v.SetDefault("pipeline.max_retries", d.Pipeline.MaxRetries)
	v.SetDefault("pipeline.worktree_root", d.Pipeline.WorktreeRoot)
	v.SetDefault("pipeline.state_dir", d.Pipeline.StateDir)
	v.SetDefault("pipeline.state_file", d.Pipeline.StateFile)
	v.SetDefault("pipeline.specs_dir", d.Pipeline.SpecsDir)
	v.SetDefault("pipeline.features_file", d.Pipeline.FeaturesFile)
	v.SetDefault("pipeline.manifest_path", d.Pipeline.ManifestPath)
	v.SetDefault("pipeline.rubrics", d.Pipeline.Rubrics)
	v.SetDefault("pipeline.remote", d.Pipeline.Remote)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)

	v.SetDefault("output.truncate_lines", d.Output.TruncateLines)
	v.SetDefault("output.truncate_length", d.Output.TruncateLength)
}

// ConfigDir returns the platform config directory for heartbeat.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, "heartbeat"), nil
}

// DefaultConfigPath returns the user-level config file path.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// EnsureConfigDir creates dir (and parents) if it does not exist.
func EnsureConfigDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return nil
}

// ExpandTemplate renders the dispatch prompt template with data.
func (c *Config) ExpandTemplate(data PromptData) (string, error) {
	return expandTemplate(c.Dispatch.PromptTemplate, data)
}

// Rubric returns the eval rubric configured for a gated phase.
func (c *Config) Rubric(phase string) (string, bool) {
	r, ok := c.Pipeline.Rubrics[phase]
	return r, ok && r != ""
}

func expandTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func defaultHomePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".heartbeat", name)
	}
	return filepath.Join(home, ".heartbeat", name)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
