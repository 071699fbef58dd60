// Package repair regenerates completion artifacts the phase tool reports as missing.
//
// The complete phase refuses to finish a feature until its documentation and
// verification notes exist. When the tool fails for that reason, the runner
// asks an agent to write each missing file from the branch diff and the spec,
// then retries the tool once. Failures for any other reason are not repaired.
//
// Key types:
//   - [Repairer] - Interface for producing missing artifacts
//   - [AgentRepairer] - Production implementation using the agent launcher
//   - [Mock] - Test implementation with configurable behavior
//   - [Request] - What to repair and where
package repair

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/afero"

	"heartbeat/internal/agent"
)

// KnownArtifacts are the completion artifacts the repair loop can produce.
// Order matters: artifacts are generated in this order.
var KnownArtifacts = []string{"docs.md", "verify.md"}

// missingMarkers are phrases that, on the same line as an artifact name,
// indicate the tool failed because the artifact is absent.
var missingMarkers = []string{"missing", "not found", "required", "does not exist"}

// ParseMissingArtifacts scans tool output for lines reporting a known
// artifact as missing. It returns the artifact names in [KnownArtifacts]
// order, or nil when the failure is unrelated.
func ParseMissingArtifacts(output string) []string {
	found := make(map[string]bool)
	for _, line := range strings.Split(strings.ToLower(output), "\n") {
		if !hasMarker(line) {
			continue
		}
		for _, name := range KnownArtifacts {
			if strings.Contains(line, name) {
				found[name] = true
			}
		}
	}

	var missing []string
	for _, name := range KnownArtifacts {
		if found[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func hasMarker(line string) bool {
	for _, m := range missingMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Request describes the artifacts to regenerate for one feature.
type Request struct {
	SessionID   string
	FeatureID   string
	FeatureName string

	// WorkDir is the feature worktree the agent runs in.
	WorkDir string

	// FeatureDir is the absolute artifact directory the files must appear in.
	FeatureDir string

	// MainBranch is the base the agent diffs against.
	MainBranch string

	// Missing are artifact names, e.g. "docs.md".
	Missing []string

	Timeout time.Duration
}

// Repairer produces missing completion artifacts.
//
// Repair returns nil only when every artifact in the request exists afterwards.
type Repairer interface {
	Repair(ctx context.Context, req Request) error
}

// AgentRepairer implements [Repairer] by launching an agent per artifact.
//
// Create instances using [NewAgentRepairer]. A launch that exits cleanly but
// leaves no file behind counts as a failure.
type AgentRepairer struct {
	launcher agent.Launcher
	fs       afero.Fs
	logger   *slog.Logger
}

// NewAgentRepairer creates a new [AgentRepairer]. A nil fs means the OS filesystem.
func NewAgentRepairer(launcher agent.Launcher, fs afero.Fs, logger *slog.Logger) *AgentRepairer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &AgentRepairer{launcher: launcher, fs: fs, logger: logger}
}

// Repair generates each missing artifact in turn and stops at the first failure.
func (r *AgentRepairer) Repair(ctx context.Context, req Request) error {
	for _, name := range req.Missing {
		prompt, err := BuildPrompt(name, req)
		if err != nil {
			return err
		}

		r.logger.Info("generating missing artifact", "feature", req.FeatureID, "artifact", name)
		res, err := r.launcher.Launch(ctx, agent.Request{
			SessionID: req.SessionID,
			Prompt:    prompt,
			WorkDir:   req.WorkDir,
			Timeout:   req.Timeout,
		})
		if err != nil {
			return fmt.Errorf("generate %s: %w", name, err)
		}
		if !res.Success() {
			return fmt.Errorf("generate %s: agent exited with code %d", name, res.ExitCode)
		}

		path := filepath.Join(req.FeatureDir, name)
		if ok, _ := afero.Exists(r.fs, path); !ok {
			return fmt.Errorf("generate %s: agent finished but %s was not written", name, path)
		}
	}
	return nil
}

var promptTemplate = template.Must(template.New("repair").Parse(
	`The feature {{.FeatureID}}{{if .FeatureName}} ({{.FeatureName}}){{end}} cannot be completed because {{.Artifact}} is missing.

1. Run ` + "`git diff {{.MainBranch}}...HEAD`" + ` to see what was implemented.
2. Read spec.md, plan.md and tasks.md in {{.FeatureDir}}.
3. Write {{.Path}}.
{{- if eq .Artifact "docs.md"}}
   Document the feature for users and maintainers: what it does, how to use it, configuration and limitations.
{{- else if eq .Artifact "verify.md"}}
   Record how the implementation was verified against the spec's acceptance criteria: commands run, results, and any criteria left unverified.
{{- end}}

Only create that file. Do not modify any other file.`))

// BuildPrompt renders the agent instructions for one artifact.
func BuildPrompt(artifact string, req Request) (string, error) {
	base := req.MainBranch
	if base == "" {
		base = "main"
	}
	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, map[string]string{
		"FeatureID":   req.FeatureID,
		"FeatureName": req.FeatureName,
		"Artifact":    artifact,
		"MainBranch":  base,
		"FeatureDir":  req.FeatureDir,
		"Path":        filepath.Join(req.FeatureDir, artifact),
	})
	if err != nil {
		return "", fmt.Errorf("render repair prompt: %w", err)
	}
	return buf.String(), nil
}

// Mock implements [Repairer] for testing.
//
// Configure the mock by setting its fields before calling Repair:
//
//	mock := &Mock{OnRepair: func(req Request) { writeFiles(req) }}
type Mock struct {
	// Err is returned from Repair when set.
	Err error

	// OnRepair runs before Repair returns, e.g. to create the files.
	OnRepair func(req Request)

	// Requests records all Repair invocations for verification.
	Requests []Request
}

// Repair records the request and returns the configured error.
func (m *Mock) Repair(ctx context.Context, req Request) error {
	m.Requests = append(m.Requests, req)
	if m.OnRepair != nil {
		m.OnRepair(req)
	}
	return m.Err
}
