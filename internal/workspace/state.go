package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"heartbeat/internal/specflow"
)

// StateMode reports how the phase tool's state reached a worktree.
type StateMode int

const (
	// StateNone means the state was not set up.
	StateNone StateMode = iota

	// StateExisting means the worktree already had usable state.
	StateExisting

	// StateLinkedDir means the state directory is a symlink to the source's.
	StateLinkedDir

	// StateLinkedFile means only the state database file is a symlink.
	StateLinkedFile

	// StateInitialized means the tool's init command created fresh state.
	StateInitialized
)

// String names the mode for logs and events.
func (m StateMode) String() string {
	switch m {
	case StateExisting:
		return "existing"
	case StateLinkedDir:
		return "linked-dir"
	case StateLinkedFile:
		return "linked-file"
	case StateInitialized:
		return "initialized"
	default:
		return "none"
	}
}

// ErrLinkUnsupported is returned when the filesystem cannot create symlinks.
var ErrLinkUnsupported = errors.New("filesystem does not support symlinks")

// ArtifactNames are the spec documents carried into a worktree.
var ArtifactNames = []string{"spec.md", "plan.md", "tasks.md"}

// SetupState gives the worktree access to the tool's feature database. It
// links the source repository's state so every worktree of a project shares
// one database, and only initializes fresh state when linking is impossible.
func (m *Manager) SetupState(ctx context.Context, source, workspace string, f Feature) (StateMode, error) {
	srcDir := filepath.Join(source, m.cfg.StateDir)
	srcFile := filepath.Join(srcDir, m.cfg.StateFile)
	dstDir := filepath.Join(workspace, m.cfg.StateDir)
	dstFile := filepath.Join(dstDir, m.cfg.StateFile)

	if ok, _ := afero.Exists(m.fs, dstFile); ok {
		return StateExisting, nil
	}

	if ok, _ := afero.Exists(m.fs, srcFile); ok {
		mode, err := m.linkState(srcDir, srcFile, dstDir, dstFile)
		if err == nil {
			m.logger.Info("linked specflow state", "feature", f.ID, "mode", mode.String(), "source", srcDir)
			return mode, nil
		}
		m.logger.Warn("could not link specflow state, initializing instead", "feature", f.ID, "error", err)
	}

	if err := m.initState(ctx, workspace, f); err != nil {
		return StateNone, err
	}
	return StateInitialized, nil
}

// linkState links the whole state directory when the worktree has none, and
// only the database file when the checkout already carries a state directory.
func (m *Manager) linkState(srcDir, srcFile, dstDir, dstFile string) (StateMode, error) {
	linker, ok := m.fs.(afero.Linker)
	if !ok {
		return StateNone, ErrLinkUnsupported
	}

	if exists, _ := afero.DirExists(m.fs, dstDir); !exists {
		if err := linker.SymlinkIfPossible(srcDir, dstDir); err != nil {
			return StateNone, fmt.Errorf("link state dir: %w", err)
		}
		return StateLinkedDir, nil
	}

	if err := linker.SymlinkIfPossible(srcFile, dstFile); err != nil {
		return StateNone, fmt.Errorf("link state file: %w", err)
	}
	// WAL sidecars must sit next to the database they belong to.
	for _, suffix := range []string{"-wal", "-shm"} {
		if ok, _ := afero.Exists(m.fs, srcFile+suffix); ok {
			_ = linker.SymlinkIfPossible(srcFile+suffix, dstFile+suffix)
		}
	}
	return StateLinkedFile, nil
}

// initState runs the tool's init, preferring a features file, then existing
// specs, then a bare init followed by registering the feature.
func (m *Manager) initState(ctx context.Context, workspace string, f Feature) error {
	var attempts []specflow.InitOptions
	if m.cfg.FeaturesFile != "" {
		if ok, _ := afero.Exists(m.fs, filepath.Join(workspace, m.cfg.FeaturesFile)); ok {
			attempts = append(attempts, specflow.InitOptions{Mode: specflow.InitFromFeatures, Source: m.cfg.FeaturesFile})
		}
	}
	if ok, _ := afero.DirExists(m.fs, filepath.Join(workspace, m.cfg.SpecsDir)); ok {
		attempts = append(attempts, specflow.InitOptions{Mode: specflow.InitFromSpecs, Source: m.cfg.SpecsDir})
	}

	var errs []error
	for _, opts := range attempts {
		if _, err := m.tool.Init(ctx, workspace, opts); err != nil {
			m.logger.Warn("specflow init failed", "mode", opts.Mode.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("initialized specflow state", "feature", f.ID, "mode", opts.Mode.String())
		return nil
	}

	if _, err := m.tool.Init(ctx, workspace, specflow.InitOptions{Mode: specflow.InitMinimal}); err != nil {
		errs = append(errs, err)
		return fmt.Errorf("initialize specflow state: %w", errors.Join(errs...))
	}
	name := f.Name
	if name == "" {
		name = f.ID
	}
	if _, err := m.tool.Add(ctx, workspace, f.ID, name); err != nil {
		return fmt.Errorf("register feature %s: %w", f.ID, err)
	}
	m.logger.Info("initialized specflow state", "feature", f.ID, "mode", specflow.InitMinimal.String())
	return nil
}

// FeatureDir returns the artifact directory for featureID under root. The tool
// names feature directories <featureid> or <featureid>-<slug>; when none
// exists yet the bare lower-cased id is returned with found=false.
func (m *Manager) FeatureDir(root, featureID string) (string, bool) {
	specs := filepath.Join(root, m.cfg.SpecsDir)
	id := strings.ToLower(featureID)

	matches, _ := afero.Glob(m.fs, filepath.Join(specs, "*"))
	sort.Strings(matches)
	for _, match := range matches {
		name := strings.ToLower(filepath.Base(match))
		if name != id && !strings.HasPrefix(name, id+"-") {
			continue
		}
		if ok, _ := afero.DirExists(m.fs, match); ok {
			return match, true
		}
	}
	return filepath.Join(specs, id), false
}

// ArtifactPath returns where the named artifact for featureID lives in root.
func (m *Manager) ArtifactPath(root, featureID, artifact string) string {
	dir, _ := m.FeatureDir(root, featureID)
	return filepath.Join(dir, artifact)
}

// HasArtifact reports whether the artifact exists and is non-empty.
func (m *Manager) HasArtifact(root, featureID, artifact string) bool {
	info, err := m.fs.Stat(m.ArtifactPath(root, featureID, artifact))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// CopyArtifacts copies spec documents that exist in the source feature
// directory but are absent from the worktree, which happens when they are
// untracked or ignored. It returns the copied worktree paths.
func (m *Manager) CopyArtifacts(source, workspace, featureID string) ([]string, error) {
	srcDir, found := m.FeatureDir(source, featureID)
	if !found {
		return nil, nil
	}
	rel, err := filepath.Rel(source, srcDir)
	if err != nil {
		return nil, fmt.Errorf("resolve feature dir: %w", err)
	}
	dstDir := filepath.Join(workspace, rel)

	var copied []string
	for _, name := range ArtifactNames {
		src := filepath.Join(srcDir, name)
		dst := filepath.Join(dstDir, name)
		if ok, _ := afero.Exists(m.fs, src); !ok {
			continue
		}
		if ok, _ := afero.Exists(m.fs, dst); ok {
			continue
		}
		if err := m.copyFile(src, dst); err != nil {
			return copied, err
		}
		copied = append(copied, dst)
	}
	return copied, nil
}

func (m *Manager) copyFile(src, dst string) error {
	data, err := afero.ReadFile(m.fs, src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := m.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	mode := os.FileMode(0644)
	if info, err := m.fs.Stat(src); err == nil {
		mode = info.Mode().Perm()
	}
	if err := afero.WriteFile(m.fs, dst, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
