package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"heartbeat/internal/agent"
	"heartbeat/internal/claude"
	"heartbeat/internal/config"
	"heartbeat/internal/dispatch"
	"heartbeat/internal/git"
	"heartbeat/internal/logging"
	"heartbeat/internal/manifest"
	"heartbeat/internal/metrics"
	"heartbeat/internal/output"
	"heartbeat/internal/pipeline"
	"heartbeat/internal/registry"
	"heartbeat/internal/repair"
	"heartbeat/internal/specflow"
	"heartbeat/internal/store"
	"heartbeat/internal/workspace"
)

// App holds the dependencies shared by every command.
//
// [NewApp] wires production implementations; tests build an App directly with
// an in-memory store and mocks.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Printer *output.Printer
	Metrics *metrics.Metrics

	// Store is nil when the database could not be opened; StoreErr says why.
	Store    *store.SQLiteStore
	StoreErr error

	Projects     *registry.Registry
	RegistryPath string

	Launcher agent.Launcher
	Tool     specflow.Tool
	Git      *git.Client
	Fs       afero.Fs

	Now          func() time.Time
	NewSessionID func() string
}

// NewApp wires production dependencies from cfg. A store that cannot be
// opened is recorded, not returned: commands that need it fail individually.
func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.New(cfg.Logging, os.Stderr)

	configDir, _ := config.ConfigDir()
	registryPath := registry.ResolvePath(configDir, cfg.Registry.Path)
	projects, err := registry.Load(registryPath)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		Printer:      output.NewPrinter(),
		Metrics:      metrics.New(),
		Projects:     projects,
		RegistryPath: registryPath,
		Launcher:     claude.NewLauncher(cfg.Agent, logger),
		Tool:         specflow.NewCLI(cfg.Pipeline.ToolPath, cfg.Pipeline.PhaseTimeout, logger),
		Git:          git.NewClient(),
		Fs:           afero.NewOsFs(),
	}
	app.Printer.SetMaxWidth(cfg.Output.TruncateLength)

	app.Store, app.StoreErr = store.Open(cfg.Store.Path)
	if app.StoreErr != nil {
		logger.Error("failed to open work item store", "path", cfg.Store.Path, "error", app.StoreErr)
	}
	return app, nil
}

// Close releases the store and exports metrics.
func (a *App) Close() {
	if err := a.Metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
		a.logger().Warn("failed to export metrics", "error", err)
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		return logging.Discard()
	}
	return a.Logger
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) sessionID() string {
	if a.NewSessionID != nil {
		return a.NewSessionID()
	}
	return uuid.NewString()
}

// store returns the opened store or the reason it is unavailable.
func (a *App) store() (*store.SQLiteStore, error) {
	if a.Store != nil {
		return a.Store, nil
	}
	if a.StoreErr != nil {
		return nil, fmt.Errorf("open work item store: %w", a.StoreErr)
	}
	return nil, fmt.Errorf("work item store is not configured")
}

func (a *App) fs() afero.Fs {
	if a.Fs == nil {
		return afero.NewOsFs()
	}
	return a.Fs
}

// graph loads the phase graph, from the manifest when one is configured.
func (a *App) graph() (*pipeline.Graph, error) {
	cfg := a.Config.Pipeline
	if cfg.ManifestPath == "" {
		return pipeline.DefaultGraph(cfg.Rubrics), nil
	}
	m, err := manifest.ReadFromFS(a.fs(), cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	return pipeline.GraphFromManifest(m, cfg.Rubrics)
}

func (a *App) workspace() *workspace.Manager {
	return workspace.NewManager(workspace.Deps{
		Git:    a.Git,
		Tool:   a.Tool,
		Fs:     a.fs(),
		Logger: a.logger(),
		Config: a.Config.Pipeline,
		Now:    a.Now,
	})
}

func (a *App) phaseRunner() (*pipeline.Runner, error) {
	s, err := a.store()
	if err != nil {
		return nil, err
	}
	g, err := a.graph()
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(pipeline.Deps{
		Store:     s,
		Tool:      a.Tool,
		Workspace: a.workspace(),
		Git:       a.Git,
		Launcher:  a.Launcher,
		Repairer:  repair.NewAgentRepairer(a.Launcher, a.fs(), a.logger()),
		Graph:     g,
		Metrics:   a.Metrics,
		Logger:    a.logger(),
		Config:    a.Config.Pipeline,
	}), nil
}

func (a *App) dispatcher() (*dispatch.Dispatcher, error) {
	s, err := a.store()
	if err != nil {
		return nil, err
	}
	runner, err := a.phaseRunner()
	if err != nil {
		return nil, err
	}
	return dispatch.NewDispatcher(dispatch.Deps{
		Store:        s,
		Projects:     a.Projects,
		Launcher:     a.Launcher,
		Phases:       runner,
		Metrics:      a.Metrics,
		Logger:       a.logger(),
		Config:       a.Config,
		NewSessionID: a.sessionID,
	}), nil
}
