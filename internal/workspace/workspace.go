// Package workspace manages the isolated git worktree each pipeline feature runs in.
//
// A feature gets one worktree on branch specflow-<featureid>, created by its
// first phase and reused by the phases chained after it. Preparing a worktree
// also shares the phase tool's feature database with the source repository by
// symlinking its state directory, keeps that link out of version control, and
// copies spec artifacts the checkout did not carry over.
//
// Key types:
//   - [Manager] - worktree lifecycle and preparation
//   - [Feature] - what Prepare needs to know about a pipeline feature
//   - [StateMode] - how the tool's state reached the worktree
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"heartbeat/internal/config"
	"heartbeat/internal/git"
	"heartbeat/internal/specflow"
)

// BranchPrefix starts every feature branch name.
const BranchPrefix = "specflow-"

// GitClient is the subset of [git.Client] the manager uses.
type GitClient interface {
	AddWorktree(ctx context.Context, repo, path, branch, base string) error
	RemoveWorktree(ctx context.Context, repo, path string) error
	FindWorktree(ctx context.Context, repo, path string) (*git.Worktree, error)
}

// Initializer is the subset of the phase tool used to bootstrap its state.
type Initializer interface {
	Init(ctx context.Context, dir string, opts specflow.InitOptions) (specflow.Result, error)
	Add(ctx context.Context, dir, featureID, name string) (specflow.Result, error)
}

// Deps are the collaborators of a [Manager].
type Deps struct {
	Git    GitClient
	Tool   Initializer
	Fs     afero.Fs
	Logger *slog.Logger
	Config config.PipelineConfig

	// Now defaults to time.Now. Sweep uses it to age worktrees.
	Now func() time.Time
}

// Manager creates, prepares and removes feature worktrees.
type Manager struct {
	git    GitClient
	tool   Initializer
	fs     afero.Fs
	logger *slog.Logger
	cfg    config.PipelineConfig
	now    func() time.Time
}

// NewManager creates a Manager. A nil Fs means the OS filesystem.
func NewManager(d Deps) *Manager {
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Manager{
		git:    d.Git,
		tool:   d.Tool,
		fs:     d.Fs,
		logger: d.Logger,
		cfg:    d.Config,
		now:    d.Now,
	}
}

// Feature identifies the pipeline feature a worktree is prepared for.
type Feature struct {
	ID          string
	Name        string
	ProjectID   string
	ProjectPath string
	MainBranch  string

	// WorktreePath is carried over from the previous phase. Empty on the first phase.
	WorktreePath string
}

// BranchName returns the deterministic branch for a feature.
func BranchName(featureID string) string {
	return BranchPrefix + strings.ToLower(featureID)
}

// PathFor returns the worktree location for a project branch.
func (m *Manager) PathFor(projectID, branch string) string {
	return filepath.Join(m.cfg.WorktreeRoot, projectID, branch)
}

// CreateWorktree creates the worktree for branch from the repository HEAD.
func (m *Manager) CreateWorktree(ctx context.Context, projectPath, branch, projectID string) (string, error) {
	return m.CreateWorktreeFrom(ctx, projectPath, branch, projectID, "HEAD")
}

// CreateWorktreeFrom creates the worktree for branch, branching from base when
// the branch does not exist yet. An existing worktree at the path is reused.
func (m *Manager) CreateWorktreeFrom(ctx context.Context, projectPath, branch, projectID, base string) (string, error) {
	path := m.PathFor(projectID, branch)

	if m.isLive(ctx, projectPath, path) {
		m.logger.Debug("reusing worktree", "path", path, "branch", branch)
		return path, nil
	}
	if err := m.add(ctx, projectPath, path, branch, base); err != nil {
		return "", err
	}
	m.logger.Info("created worktree", "path", path, "branch", branch, "base", base)
	return path, nil
}

// EnsureWorktree returns existingPath when it is a live worktree and recreates
// it at the same location otherwise. A deleted branch is recreated from base.
func (m *Manager) EnsureWorktree(ctx context.Context, projectPath, existingPath, branch, base string) (string, error) {
	if m.isLive(ctx, projectPath, existingPath) {
		return existingPath, nil
	}
	if err := m.add(ctx, projectPath, existingPath, branch, baseOrHead(base)); err != nil {
		return "", err
	}
	m.logger.Info("recreated worktree", "path", existingPath, "branch", branch, "base", baseOrHead(base))
	return existingPath, nil
}

// RemoveWorktree removes the worktree at path and prunes git's bookkeeping.
func (m *Manager) RemoveWorktree(ctx context.Context, projectPath, path string) error {
	if err := m.git.RemoveWorktree(ctx, projectPath, path); err != nil {
		return err
	}
	m.logger.Info("removed worktree", "path", path)
	return nil
}

func baseOrHead(base string) string {
	if base == "" {
		return "HEAD"
	}
	return base
}

func (m *Manager) isLive(ctx context.Context, projectPath, path string) bool {
	wt, err := m.git.FindWorktree(ctx, projectPath, path)
	if err != nil || wt == nil || wt.Prunable {
		return false
	}
	ok, _ := afero.DirExists(m.fs, path)
	return ok
}

func (m *Manager) add(ctx context.Context, projectPath, path, branch, base string) error {
	if err := m.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create worktree parent: %w", err)
	}
	// A stale registration for the path blocks `worktree add`.
	if wt, err := m.git.FindWorktree(ctx, projectPath, path); err == nil && wt != nil {
		if err := m.git.RemoveWorktree(ctx, projectPath, path); err != nil {
			m.logger.Warn("failed to drop stale worktree", "path", path, "error", err)
		}
	}
	if err := m.git.AddWorktree(ctx, projectPath, path, branch, base); err != nil {
		return fmt.Errorf("create worktree %s: %w", path, err)
	}
	return nil
}

// Prepare resolves the feature's worktree and readies it for the phase tool.
// It returns the worktree path and how the tool state was provided.
func (m *Manager) Prepare(ctx context.Context, f Feature) (string, StateMode, error) {
	branch := BranchName(f.ID)

	var (
		path string
		err  error
	)
	if f.WorktreePath == "" {
		path, err = m.CreateWorktreeFrom(ctx, f.ProjectPath, branch, f.ProjectID, baseOrHead(f.MainBranch))
	} else {
		path, err = m.EnsureWorktree(ctx, f.ProjectPath, f.WorktreePath, branch, f.MainBranch)
	}
	if err != nil {
		return "", StateNone, err
	}

	mode, err := m.SetupState(ctx, f.ProjectPath, path, f)
	if err != nil {
		return path, mode, err
	}
	if err := m.EnsureIgnored(path); err != nil {
		return path, mode, err
	}
	copied, err := m.CopyArtifacts(f.ProjectPath, path, f.ID)
	if err != nil {
		return path, mode, err
	}
	if len(copied) > 0 {
		m.logger.Info("copied untracked artifacts", "feature", f.ID, "files", copied)
	}
	return path, mode, nil
}

// EnsureIgnored appends /<state_dir> to the worktree's .gitignore unless present.
func (m *Manager) EnsureIgnored(workspace string) error {
	entry := "/" + strings.Trim(m.cfg.StateDir, "/")
	path := filepath.Join(workspace, ".gitignore")

	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		if exists, _ := afero.Exists(m.fs, path); exists {
			return fmt.Errorf("read .gitignore: %w", err)
		}
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == entry+"/" {
			return nil
		}
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"
	if err := afero.WriteFile(m.fs, path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	return nil
}

// Sweep removes worktrees under the project's worktree root that were last
// modified before olderThan ago. Branch names in keep are left alone.
func (m *Manager) Sweep(ctx context.Context, projectPath, projectID string, olderThan time.Duration, keep map[string]bool) ([]string, error) {
	root := filepath.Join(m.cfg.WorktreeRoot, projectID)
	exists, err := afero.DirExists(m.fs, root)
	if err != nil || !exists {
		return nil, err
	}

	entries, err := afero.ReadDir(m.fs, root)
	if err != nil {
		return nil, fmt.Errorf("read worktree root: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || keep[e.Name()] || !strings.HasPrefix(e.Name(), BranchPrefix) {
			continue
		}
		if e.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := m.git.RemoveWorktree(ctx, projectPath, path); err != nil {
			m.logger.Warn("sweep failed to remove worktree", "path", path, "error", err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, nil
}
