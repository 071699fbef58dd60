// Package dispatch claims available work items and hands them to agents under a
// concurrency budget.
//
// A dispatch run reads the active-agent census once, then walks the available
// items in priority order, launching one agent at a time. Pipeline items
// (source specflow) go to the phase runner instead of a bare agent launch.
//
// The census is read once per call and not re-checked between items, so two
// invocations starting together can briefly run more than MaxConcurrent agents.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"heartbeat/internal/agent"
	"heartbeat/internal/config"
	"heartbeat/internal/metrics"
	"heartbeat/internal/registry"
	"heartbeat/internal/store"
)

// Skip reasons reported in [Result.Skipped].
const (
	ReasonConcurrencyLimit = "concurrency limit reached"
	ReasonNoProject        = "no project assigned"
	ReasonNoLocalPath      = "no local_path"
	ReasonAlreadyClaimed   = "already claimed"
	ReasonExceedsMaxItems  = "exceeds max items per run"
	ReasonCancelled        = "dispatch cancelled"
)

// staleGrace is added on top of the longest possible run when the configured
// stale_after would reap sessions that may still be working.
const staleGrace = 30 * time.Minute

// Event types appended by the dispatcher.
const (
	EventClaimed   = "dispatch.claimed"
	EventCompleted = "dispatch.completed"
	EventReleased  = "dispatch.released"
	EventSkipped   = "dispatch.skipped"
	EventDryRun    = "dispatch.dry_run"
	EventReaped    = "dispatch.reaped"
)

// Store is the slice of the work-item store the dispatcher needs.
type Store interface {
	ReapStaleAgents(ctx context.Context, olderThan time.Duration) (int, error)
	CountActiveAgents(ctx context.Context) (int, error)
	ListWorkItems(ctx context.Context, f store.Filter) ([]store.WorkItem, error)
	ClaimWorkItem(ctx context.Context, id, sessionID string) error
	CompleteWorkItem(ctx context.Context, id, sessionID string) error
	ReleaseWorkItem(ctx context.Context, id, sessionID string) error
	AppendEvent(ctx context.Context, e store.Event) error
}

// Projects resolves a project id to its registry entry.
type Projects interface {
	Get(id string) (*registry.Project, error)
}

// PhaseRunner executes one pipeline phase for a claimed item.
type PhaseRunner interface {
	RunPhase(ctx context.Context, item store.WorkItem, project registry.Project, sessionID string) bool
}

// Options bounds one dispatch run. Zero values fall back to the dispatch config.
type Options struct {
	MaxConcurrent int
	MaxItems      int

	// Timeout is the per-agent limit in minutes.
	Timeout int

	Project  string
	Priority *store.Priority

	DryRun        bool
	FireAndForget bool
}

// Dispatched describes one item that was launched, or would have been in a dry run.
type Dispatched struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Completed bool          `json:"completed"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Skipped is an item the run did not start.
type Skipped struct {
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// ItemError is an item whose run failed.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Result reports what one dispatch run did.
type Result struct {
	Dispatched []Dispatched `json:"dispatched"`
	Skipped    []Skipped    `json:"skipped"`
	Errors     []ItemError  `json:"errors"`
	DryRun     bool         `json:"dryRun"`
}

// Deps wires a [Dispatcher].
type Deps struct {
	Store    Store
	Projects Projects
	Launcher agent.Launcher

	// Phases runs specflow items. When nil they are launched like any other item.
	Phases PhaseRunner

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Config  *config.Config

	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

// Dispatcher claims and launches work items.
type Dispatcher struct {
	store     Store
	projects  Projects
	launcher  agent.Launcher
	phases    PhaseRunner
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       *config.Config
	sessionID func() string
}

// NewDispatcher creates a Dispatcher from its dependencies.
func NewDispatcher(d Deps) *Dispatcher {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.NewSessionID == nil {
		d.NewSessionID = uuid.NewString
	}
	return &Dispatcher{
		store:     d.Store,
		projects:  d.Projects,
		launcher:  d.Launcher,
		phases:    d.Phases,
		metrics:   d.Metrics,
		logger:    d.Logger.With("component", "dispatch"),
		cfg:       d.Config,
		sessionID: d.NewSessionID,
	}
}

func (d *Dispatcher) withDefaults(opts Options) Options {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = d.cfg.Dispatch.MaxConcurrent
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = d.cfg.Dispatch.MaxItems
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.cfg.Dispatch.TimeoutMinutes
	}
	return opts
}

// Dispatch runs one dispatch pass.
//
// Item failures are reported in the result, never as an error. An error means
// the store could not be read at all.
func (d *Dispatcher) Dispatch(ctx context.Context, opts Options) (Result, error) {
	opts = d.withDefaults(opts)
	res := Result{
		Dispatched: []Dispatched{},
		Skipped:    []Skipped{},
		Errors:     []ItemError{},
		DryRun:     opts.DryRun,
	}

	if stale := d.staleAfter(opts); stale > 0 && !opts.DryRun {
		n, err := d.store.ReapStaleAgents(ctx, stale)
		if err != nil {
			d.logger.Warn("failed to reap stale agent sessions", "error", err)
		} else if n > 0 {
			d.logger.Info("reaped stale agent sessions", "count", n)
			d.event(ctx, EventReaped, "", "", fmt.Sprintf("closed %d stale agent sessions", n), map[string]any{"count": n})
		}
	}

	active, err := d.store.CountActiveAgents(ctx)
	if err != nil {
		return res, fmt.Errorf("read agent census: %w", err)
	}
	if active >= opts.MaxConcurrent {
		d.logger.Info("concurrency limit reached", "active", active, "max", opts.MaxConcurrent)
		res.Skipped = append(res.Skipped, Skipped{Reason: ReasonConcurrencyLimit})
		d.metrics.DispatchItem(metrics.OutcomeSkipped)
		d.event(ctx, EventSkipped, "", "", ReasonConcurrencyLimit,
			map[string]any{"active": active, "maxConcurrent": opts.MaxConcurrent})
		return res, nil
	}

	items, err := d.store.ListWorkItems(ctx, store.Filter{
		Status:   store.StatusAvailable,
		Project:  opts.Project,
		Priority: opts.Priority,
	})
	if err != nil {
		return res, fmt.Errorf("list available work items: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	d.logger.Info("dispatch started", "available", len(items), "active", active,
		"maxItems", opts.MaxItems, "dryRun", opts.DryRun)

	for i, item := range items {
		if ctx.Err() != nil {
			d.skip(context.WithoutCancel(ctx), &res, item, ReasonCancelled)
			continue
		}
		if i >= opts.MaxItems {
			d.skip(ctx, &res, item, ReasonExceedsMaxItems)
			continue
		}
		d.dispatchItem(ctx, &res, item, opts)
	}

	d.logger.Info("dispatch finished", "dispatched", len(res.Dispatched),
		"skipped", len(res.Skipped), "errors", len(res.Errors))
	return res, nil
}

// staleAfter is the session age at which the reaper may release a claim. It
// never drops to the longest run a live session can be in, so a working
// session is not reaped out from under itself.
func (d *Dispatcher) staleAfter(opts Options) time.Duration {
	stale := d.cfg.Dispatch.StaleAfter
	if stale <= 0 {
		return 0
	}
	longest := d.cfg.Pipeline.LongestRun()
	if t := time.Duration(opts.Timeout) * time.Minute; t > longest {
		longest = t
	}
	if stale <= longest {
		stale = longest + staleGrace
	}
	return stale
}

func (d *Dispatcher) dispatchItem(ctx context.Context, res *Result, item store.WorkItem, opts Options) {
	if item.Project == "" {
		d.skip(ctx, res, item, ReasonNoProject)
		return
	}
	project, err := d.projects.Get(item.Project)
	if err != nil || project.LocalPath == "" {
		d.skip(ctx, res, item, ReasonNoLocalPath)
		return
	}

	if opts.DryRun {
		res.Dispatched = append(res.Dispatched, Dispatched{ID: item.ID, Title: item.Title})
		d.metrics.DispatchItem(metrics.OutcomeDryRun)
		d.event(ctx, EventDryRun, item.ID, "", "would dispatch "+item.Title, map[string]any{"project": item.Project})
		return
	}

	sessionID := d.sessionID()
	if err := d.store.ClaimWorkItem(ctx, item.ID, sessionID); err != nil {
		if errors.Is(err, store.ErrNotClaimable) {
			d.skip(ctx, res, item, ReasonAlreadyClaimed)
			return
		}
		d.fail(ctx, res, Dispatched{ID: item.ID, Title: item.Title}, sessionID, fmt.Sprintf("claim: %v", err), false)
		return
	}
	log := d.logger.With("item", item.ID, "session", sessionID)
	log.Info("work item claimed", "project", project.ID, "source", item.Source)
	d.event(ctx, EventClaimed, item.ID, sessionID, "claimed "+item.Title, map[string]any{"project": project.ID})

	entry := Dispatched{ID: item.ID, Title: item.Title}
	start := time.Now()

	var failure string
	if item.Source == store.SourceSpecflow && d.phases != nil {
		if !d.phases.RunPhase(ctx, item, *project, sessionID) {
			failure = "pipeline phase did not succeed"
			entry.ExitCode = 1
		}
		entry.Duration = time.Since(start)
	} else {
		failure = d.launch(ctx, item, *project, sessionID, opts, &entry)
	}
	d.metrics.AgentLaunch(entry.Duration)

	// The claim is settled even when the run was cancelled mid-launch.
	ctx = context.WithoutCancel(ctx)
	if failure != "" {
		d.fail(ctx, res, entry, sessionID, failure, true)
		return
	}

	if err := d.store.CompleteWorkItem(ctx, item.ID, sessionID); err != nil {
		d.fail(ctx, res, entry, sessionID, fmt.Sprintf("complete: %v", err), false)
		return
	}
	entry.Completed = true
	res.Dispatched = append(res.Dispatched, entry)
	d.metrics.DispatchItem(metrics.OutcomeCompleted)
	log.Info("work item completed", "duration", entry.Duration)
	d.event(ctx, EventCompleted, item.ID, sessionID, "completed "+item.Title,
		map[string]any{"durationMs": entry.Duration.Milliseconds()})
}

// launch runs a plain agent for item and returns a failure reason, or "" on success.
func (d *Dispatcher) launch(ctx context.Context, item store.WorkItem, project registry.Project, sessionID string, opts Options, entry *Dispatched) string {
	prompt, err := d.cfg.ExpandTemplate(config.PromptData{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Source:      item.Source,
		SourceRef:   item.SourceRef,
		Project:     item.Project,
	})
	if err != nil {
		entry.ExitCode = 1
		return fmt.Sprintf("render prompt: %v", err)
	}

	start := time.Now()
	result, err := d.launcher.Launch(ctx, agent.Request{
		SessionID: sessionID,
		Prompt:    prompt,
		WorkDir:   project.LocalPath,
		Timeout:   time.Duration(opts.Timeout) * time.Minute,
	})
	entry.Duration = result.Duration
	if entry.Duration == 0 {
		entry.Duration = time.Since(start)
	}
	if err != nil {
		entry.ExitCode = 1
		return fmt.Sprintf("launch agent: %v", err)
	}
	entry.ExitCode = result.ExitCode
	if result.TimedOut {
		return fmt.Sprintf("agent timed out after %d minutes", opts.Timeout)
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("agent exited with code %d", result.ExitCode)
	}
	return ""
}

// fail records a failed item and, when release is set, returns it to the queue.
func (d *Dispatcher) fail(ctx context.Context, res *Result, entry Dispatched, sessionID, reason string, release bool) {
	entry.Error = reason
	res.Dispatched = append(res.Dispatched, entry)
	res.Errors = append(res.Errors, ItemError{ID: entry.ID, Error: reason})
	d.metrics.DispatchItem(metrics.OutcomeFailed)
	d.logger.Warn("work item failed", "item", entry.ID, "reason", reason)

	if release {
		if err := d.store.ReleaseWorkItem(ctx, entry.ID, sessionID); err != nil {
			d.logger.Error("failed to release work item", "item", entry.ID, "error", err)
			res.Errors = append(res.Errors, ItemError{ID: entry.ID, Error: fmt.Sprintf("release: %v", err)})
		}
	}
	d.event(ctx, EventReleased, entry.ID, sessionID, reason,
		map[string]any{"exitCode": entry.ExitCode, "released": release})
}

func (d *Dispatcher) skip(ctx context.Context, res *Result, item store.WorkItem, reason string) {
	res.Skipped = append(res.Skipped, Skipped{ID: item.ID, Reason: reason})
	d.metrics.DispatchItem(metrics.OutcomeSkipped)
	d.logger.Debug("work item skipped", "item", item.ID, "reason", reason)
	d.event(ctx, EventSkipped, item.ID, "", reason, nil)
}

func (d *Dispatcher) event(ctx context.Context, typ, itemID, sessionID, summary string, meta map[string]any) {
	err := d.store.AppendEvent(ctx, store.Event{
		Type:       typ,
		WorkItemID: itemID,
		SessionID:  sessionID,
		Summary:    summary,
		Metadata:   meta,
	})
	if err != nil {
		d.logger.Warn("failed to append event", "type", typ, "item", itemID, "error", err)
	}
}

// Outcome is the result of a dispatch started with [Dispatcher.Start].
type Outcome struct {
	Result Result
	Err    error
}

// Start runs Dispatch in its own goroutine. The returned channel receives the
// outcome once and is then closed.
func (d *Dispatcher) Start(ctx context.Context, opts Options) <-chan Outcome {
	opts.FireAndForget = true
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := d.Dispatch(ctx, opts)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}
