package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbeat/internal/config"
	"heartbeat/internal/git"
	"heartbeat/internal/logging"
	"heartbeat/internal/specflow"
)

// fakeGit tracks worktrees in memory and materializes them on the filesystem.
type fakeGit struct {
	fs      afero.Fs
	trees   map[string]string
	added   []string
	removed []string
	addErr  error
	onAdd   func(path string)
}

func newFakeGit(fs afero.Fs) *fakeGit {
	return &fakeGit{fs: fs, trees: map[string]string{}}
}

func (g *fakeGit) AddWorktree(ctx context.Context, repo, path, branch, base string) error {
	if g.addErr != nil {
		return g.addErr
	}
	g.trees[filepath.Clean(path)] = branch
	g.added = append(g.added, path+" "+branch+" "+base)
	if err := g.fs.MkdirAll(path, 0755); err != nil {
		return err
	}
	if g.onAdd != nil {
		g.onAdd(path)
	}
	return nil
}

func (g *fakeGit) RemoveWorktree(ctx context.Context, repo, path string) error {
	delete(g.trees, filepath.Clean(path))
	g.removed = append(g.removed, path)
	return g.fs.RemoveAll(path)
}

func (g *fakeGit) FindWorktree(ctx context.Context, repo, path string) (*git.Worktree, error) {
	if branch, ok := g.trees[filepath.Clean(path)]; ok {
		return &git.Worktree{Path: path, Branch: branch}, nil
	}
	return nil, nil
}

// noLinkFs hides afero.Linker so symlinking is impossible.
type noLinkFs struct{ afero.Fs }

func testConfig(root string) config.PipelineConfig {
	return config.PipelineConfig{
		WorktreeRoot: root,
		StateDir:     ".specflow",
		StateFile:    "features.db",
		SpecsDir:     "specs",
		FeaturesFile: "features.json",
	}
}

func newTestManager(fs afero.Fs, g *fakeGit, tool Initializer, root string) *Manager {
	return NewManager(Deps{
		Git:    g,
		Tool:   tool,
		Fs:     fs,
		Logger: logging.Discard(),
		Config: testConfig(root),
	})
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "specflow-f-001", BranchName("F-001"))
	assert.Equal(t, "specflow-auth", BranchName("auth"))
}

func TestPrepare_LinksExistingStateWithoutInit(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "web")
	root := filepath.Join(base, "worktrees")
	require.NoError(t, os.MkdirAll(filepath.Join(source, ".specflow"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, ".specflow", "features.db"), []byte("db"), 0644))

	fs := afero.NewOsFs()
	g := newFakeGit(fs)
	tool := specflow.NewMock()
	m := newTestManager(fs, g, tool, root)

	path, mode, err := m.Prepare(context.Background(), Feature{
		ID: "F-001", ProjectID: "web", ProjectPath: source, MainBranch: "main",
	})

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "web", "specflow-f-001"), path)
	assert.Equal(t, StateLinkedDir, mode)
	assert.False(t, tool.Called("init"))
	assert.Equal(t, []string{path + " specflow-f-001 main"}, g.added)

	target, err := os.Readlink(filepath.Join(path, ".specflow"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(source, ".specflow"), target)

	ignore, err := os.ReadFile(filepath.Join(path, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "/.specflow\n", string(ignore))
}

func TestPrepare_LinksFileWhenCheckoutHasStateDir(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "web")
	require.NoError(t, os.MkdirAll(filepath.Join(source, ".specflow"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, ".specflow", "features.db"), []byte("db"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(source, ".specflow", "features.db-wal"), []byte("wal"), 0644))

	fs := afero.NewOsFs()
	g := newFakeGit(fs)
	g.onAdd = func(path string) {
		// tracked config checked out into the state dir
		_ = os.MkdirAll(filepath.Join(path, ".specflow"), 0755)
		_ = os.WriteFile(filepath.Join(path, ".specflow", "config.yaml"), []byte("x"), 0644)
	}
	tool := specflow.NewMock()
	m := newTestManager(fs, g, tool, filepath.Join(base, "worktrees"))

	path, mode, err := m.Prepare(context.Background(), Feature{ID: "F-002", ProjectID: "web", ProjectPath: source})

	require.NoError(t, err)
	assert.Equal(t, StateLinkedFile, mode)
	assert.False(t, tool.Called("init"))

	target, err := os.Readlink(filepath.Join(path, ".specflow", "features.db"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(source, ".specflow", "features.db"), target)
	_, err = os.Readlink(filepath.Join(path, ".specflow", "features.db-wal"))
	assert.NoError(t, err)
}

func TestPrepare_ReusesLinkedStateOnLaterPhase(t *testing.T) {
	base := t.TempDir()
	source := filepath.Join(base, "web")
	require.NoError(t, os.MkdirAll(filepath.Join(source, ".specflow"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, ".specflow", "features.db"), []byte("db"), 0644))

	fs := afero.NewOsFs()
	g := newFakeGit(fs)
	m := newTestManager(fs, g, specflow.NewMock(), filepath.Join(base, "worktrees"))
	f := Feature{ID: "F-003", ProjectID: "web", ProjectPath: source}

	path, _, err := m.Prepare(context.Background(), f)
	require.NoError(t, err)

	f.WorktreePath = path
	again, mode, err := m.Prepare(context.Background(), f)

	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, StateExisting, mode)
	assert.Len(t, g.added, 1)
}

func TestPrepare_InitFallback(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(fs afero.Fs, wt string)
		initErr   map[specflow.InitMode]error
		wantCalls []string
		wantErr   bool
	}{
		{
			name: "features file preferred",
			setup: func(fs afero.Fs, wt string) {
				_ = afero.WriteFile(fs, filepath.Join(wt, "features.json"), []byte("[]"), 0644)
				_ = fs.MkdirAll(filepath.Join(wt, "specs"), 0755)
			},
			wantCalls: []string{"init --from-features features.json"},
		},
		{
			name: "specs when no features file",
			setup: func(fs afero.Fs, wt string) {
				_ = fs.MkdirAll(filepath.Join(wt, "specs"), 0755)
			},
			wantCalls: []string{"init --from-specs specs"},
		},
		{
			name: "falls through failed import",
			setup: func(fs afero.Fs, wt string) {
				_ = afero.WriteFile(fs, filepath.Join(wt, "features.json"), []byte("{"), 0644)
				_ = fs.MkdirAll(filepath.Join(wt, "specs"), 0755)
			},
			initErr:   map[specflow.InitMode]error{specflow.InitFromFeatures: errors.New("bad json")},
			wantCalls: []string{"init --from-features features.json", "init --from-specs specs"},
		},
		{
			name:      "minimal init registers feature",
			setup:     func(fs afero.Fs, wt string) {},
			wantCalls: []string{"init", "add F-001 Login"},
		},
		{
			name:      "minimal init failure",
			setup:     func(fs afero.Fs, wt string) {},
			initErr:   map[specflow.InitMode]error{specflow.InitMinimal: errors.New("boom")},
			wantCalls: []string{"init"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := noLinkFs{afero.NewMemMapFs()}
			require.NoError(t, afero.WriteFile(fs, "/src/web/.specflow/features.db", []byte("db"), 0644))
			g := newFakeGit(fs)
			g.onAdd = func(path string) { tt.setup(fs, path) }
			tool := specflow.NewMock()
			for mode, err := range tt.initErr {
				tool.InitErr[mode] = err
			}
			m := newTestManager(fs, g, tool, "/wt")

			_, mode, err := m.Prepare(context.Background(), Feature{
				ID: "F-001", Name: "Login", ProjectID: "web", ProjectPath: "/src/web",
			})

			assert.Equal(t, tt.wantCalls, tool.Calls)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, StateNone, mode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StateInitialized, mode)
		})
	}
}

func TestEnsureWorktree(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := newFakeGit(fs)
	m := newTestManager(fs, g, specflow.NewMock(), "/wt")
	ctx := context.Background()

	path, err := m.EnsureWorktree(ctx, "/src/web", "/wt/web/specflow-f-1", "specflow-f-1", "develop")
	require.NoError(t, err)
	assert.Equal(t, "/wt/web/specflow-f-1", path)
	assert.Equal(t, []string{"/wt/web/specflow-f-1 specflow-f-1 develop"}, g.added)

	_, err = m.EnsureWorktree(ctx, "/src/web", "/wt/web/specflow-f-1", "specflow-f-1", "develop")
	require.NoError(t, err)
	assert.Len(t, g.added, 1, "live worktree is reused")

	// directory deleted out from under git
	require.NoError(t, fs.RemoveAll("/wt/web/specflow-f-1"))
	_, err = m.EnsureWorktree(ctx, "/src/web", "/wt/web/specflow-f-1", "specflow-f-1", "")
	require.NoError(t, err)
	assert.Equal(t, "/wt/web/specflow-f-1 specflow-f-1 HEAD", g.added[1])
	assert.Equal(t, []string{"/wt/web/specflow-f-1"}, g.removed)
}

func TestPrepare_RecreatesCarriedWorktreeFromMainBranch(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := newFakeGit(fs)
	require.NoError(t, fs.MkdirAll("/src/web", 0755))
	// no Logger: the default logger is used
	m := NewManager(Deps{Git: g, Tool: specflow.NewMock(), Fs: noLinkFs{fs}, Config: testConfig("/wt")})

	path, _, err := m.Prepare(context.Background(), Feature{
		ID:           "F-1",
		Name:         "Login",
		ProjectID:    "web",
		ProjectPath:  "/src/web",
		MainBranch:   "release",
		WorktreePath: "/wt/web/specflow-f-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "/wt/web/specflow-f-1", path)
	assert.Equal(t, []string{"/wt/web/specflow-f-1 specflow-f-1 release"}, g.added)
}

func TestCreateWorktree_Error(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := newFakeGit(fs)
	g.addErr = errors.New("branch already checked out")
	m := newTestManager(fs, g, specflow.NewMock(), "/wt")

	_, err := m.CreateWorktree(context.Background(), "/src/web", "specflow-f-1", "web")

	assert.ErrorContains(t, err, "branch already checked out")
}

func TestEnsureIgnored(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{name: "no file", want: "/.specflow\n"},
		{name: "appends with newline", existing: "node_modules", want: "node_modules\n/.specflow\n"},
		{name: "already present", existing: "bin/\n/.specflow\n", want: "bin/\n/.specflow\n"},
		{name: "present with slash", existing: "/.specflow/\n", want: "/.specflow/\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll("/wt", 0755))
			if tt.existing != "" {
				require.NoError(t, afero.WriteFile(fs, "/wt/.gitignore", []byte(tt.existing), 0644))
			}
			m := newTestManager(fs, newFakeGit(fs), specflow.NewMock(), "/wt")

			require.NoError(t, m.EnsureIgnored("/wt"))
			require.NoError(t, m.EnsureIgnored("/wt"))

			data, err := afero.ReadFile(fs, "/wt/.gitignore")
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestCopyArtifacts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/specs/f-001-login/spec.md", []byte("source spec"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/src/specs/f-001-login/plan.md", []byte("source plan"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/wt/specs/f-001-login/spec.md", []byte("tracked spec"), 0644))
	m := newTestManager(fs, newFakeGit(fs), specflow.NewMock(), "/wt")

	copied, err := m.CopyArtifacts("/src", "/wt", "F-001")

	require.NoError(t, err)
	assert.Equal(t, []string{"/wt/specs/f-001-login/plan.md"}, copied)
	spec, _ := afero.ReadFile(fs, "/wt/specs/f-001-login/spec.md")
	assert.Equal(t, "tracked spec", string(spec))
	plan, _ := afero.ReadFile(fs, "/wt/specs/f-001-login/plan.md")
	assert.Equal(t, "source plan", string(plan))

	none, err := m.CopyArtifacts("/src", "/wt", "F-999")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFeatureDirAndArtifacts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/wt/specs/f-010-billing", 0755))
	require.NoError(t, fs.MkdirAll("/wt/specs/f-0100-other", 0755))
	require.NoError(t, afero.WriteFile(fs, "/wt/specs/f-010-billing/spec.md", []byte("# Spec"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/wt/specs/f-010-billing/plan.md", nil, 0644))
	m := newTestManager(fs, newFakeGit(fs), specflow.NewMock(), "/wt")

	dir, found := m.FeatureDir("/wt", "F-010")
	assert.True(t, found)
	assert.Equal(t, "/wt/specs/f-010-billing", dir)

	dir, found = m.FeatureDir("/wt", "F-011")
	assert.False(t, found)
	assert.Equal(t, "/wt/specs/f-011", dir)

	assert.True(t, m.HasArtifact("/wt", "F-010", "spec.md"))
	assert.False(t, m.HasArtifact("/wt", "F-010", "plan.md"), "empty file does not count")
	assert.False(t, m.HasArtifact("/wt", "F-010", "tasks.md"))
}

func TestSweep(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-72 * time.Hour)
	g := newFakeGit(fs)

	for _, name := range []string{"specflow-f-1", "specflow-f-2", "specflow-f-3", "scratch"} {
		path := "/wt/web/" + name
		require.NoError(t, fs.MkdirAll(path, 0755))
		require.NoError(t, fs.Chtimes(path, old, old))
	}
	require.NoError(t, fs.Chtimes("/wt/web/specflow-f-3", now, now))

	m := NewManager(Deps{
		Git: g, Tool: specflow.NewMock(), Fs: fs, Logger: logging.Discard(),
		Config: testConfig("/wt"), Now: func() time.Time { return now },
	})

	removed, err := m.Sweep(context.Background(), "/src/web", "web", 24*time.Hour, map[string]bool{"specflow-f-2": true})

	require.NoError(t, err)
	assert.Equal(t, []string{"/wt/web/specflow-f-1"}, removed)

	none, err := m.Sweep(context.Background(), "/src/api", "api", time.Hour, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
