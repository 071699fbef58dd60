// Package pipeline drives features through the specify -> plan -> tasks ->
// implement -> complete pipeline.
//
// Each phase is one work item. [Runner.RunPhase] prepares the feature's
// worktree, runs the phase tool, checks the phase produced its artifact, runs
// the implement agent or the quality gate, and then chains the work item for
// the next phase (or a retry of this one). Items are never edited: the chain
// of items keyed by (featureId, phase, retryCount) is the pipeline state, and
// [BuildLineage] reconstructs it.
//
// Key types:
//   - [Runner] - executes one phase of one feature
//   - [Graph] - the phase order, artifacts and gates
//   - [PhaseState] - pipeline metadata stored on each work item
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"heartbeat/internal/agent"
	"heartbeat/internal/config"
	"heartbeat/internal/git"
	"heartbeat/internal/metrics"
	"heartbeat/internal/registry"
	"heartbeat/internal/repair"
	"heartbeat/internal/specflow"
	"heartbeat/internal/store"
	"heartbeat/internal/workspace"
)

// Store is the subset of the work-item store the runner writes to.
type Store interface {
	CreateWorkItem(ctx context.Context, in store.NewWorkItem) (*store.WorkItem, error)
	AppendEvent(ctx context.Context, e store.Event) error
}

// Tool runs phases and quality gates.
type Tool interface {
	RunPhase(ctx context.Context, dir, phase, featureID string) (specflow.Result, error)
	Eval(ctx context.Context, dir, file, rubric string) (specflow.EvalResult, error)
}

// Workspace prepares and removes feature worktrees.
type Workspace interface {
	Prepare(ctx context.Context, f workspace.Feature) (string, workspace.StateMode, error)
	RemoveWorktree(ctx context.Context, projectPath, path string) error
	FeatureDir(root, featureID string) (string, bool)
	ArtifactPath(root, featureID, artifact string) string
	HasArtifact(root, featureID, artifact string) bool
}

// VCS publishes implement-phase work and closes issues.
type VCS interface {
	CommitAll(ctx context.Context, dir, message string) (string, error)
	Push(ctx context.Context, dir, remote, branch string) error
	CreatePR(ctx context.Context, dir string, req git.PRRequest) (*git.PRInfo, error)
	CloseIssue(ctx context.Context, dir, repo string, number int, comment string) error
}

// Deps are the collaborators of a [Runner].
type Deps struct {
	Store     Store
	Tool      Tool
	Workspace Workspace
	Git       VCS
	Launcher  agent.Launcher
	Repairer  repair.Repairer

	// Graph defaults to [DefaultGraph] with the configured rubrics.
	Graph *Graph

	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Config  config.PipelineConfig
}

// Runner executes pipeline phases.
type Runner struct {
	store     Store
	tool      Tool
	workspace Workspace
	git       VCS
	launcher  agent.Launcher
	repairer  repair.Repairer
	graph     *Graph
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       config.PipelineConfig
}

// NewRunner creates a Runner from its dependencies.
func NewRunner(d Deps) *Runner {
	if d.Graph == nil {
		d.Graph = DefaultGraph(d.Config.Rubrics)
	}
	if d.Config.Remote == "" {
		d.Config.Remote = "origin"
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Runner{
		store:     d.Store,
		tool:      d.Tool,
		workspace: d.Workspace,
		git:       d.Git,
		launcher:  d.Launcher,
		repairer:  d.Repairer,
		graph:     d.Graph,
		metrics:   d.Metrics,
		logger:    d.Logger,
		cfg:       d.Config,
	}
}

// Graph returns the phase graph the runner routes with.
func (r *Runner) Graph() *Graph {
	return r.graph
}

// phaseRun carries everything one RunPhase call works with.
type phaseRun struct {
	item      store.WorkItem
	st        PhaseState
	phase     Phase
	project   registry.Project
	sessionID string
	dir       string
	log       *slog.Logger
}

// RunPhase executes the phase recorded in item's metadata.
//
// It returns true when the item was handled: the chain advanced, a retry was
// scheduled, the retry budget ran out, or the feature completed. It returns
// false on transient failure, in which case nothing was chained and the
// caller should not treat the item as progressed.
func (r *Runner) RunPhase(ctx context.Context, item store.WorkItem, project registry.Project, sessionID string) bool {
	st, err := ParseState(item.Metadata)
	if err != nil {
		r.record(ctx, EventInvalidState, item, sessionID, st, err.Error(), nil)
		return false
	}
	phase, err := r.graph.Get(st.Phase)
	if err != nil {
		r.record(ctx, EventInvalidState, item, sessionID, st, err.Error(), nil)
		return false
	}
	if st.MainBranch == "" {
		st.MainBranch = project.Branch()
	}
	if st.ProjectID == "" {
		st.ProjectID = project.ID
	}

	run := &phaseRun{
		item:      item,
		st:        st,
		phase:     phase,
		project:   project,
		sessionID: sessionID,
		log:       r.logger.With("feature", st.FeatureID, "phase", st.Phase, "item", item.ID),
	}
	ok := r.run(ctx, run)
	r.metrics.PhaseRun(st.Phase, ok)
	return ok
}

func (r *Runner) run(ctx context.Context, run *phaseRun) bool {
	run.log.Info("phase started", "retry", run.st.RetryCount)
	r.record(ctx, EventPhaseStarted, run.item, run.sessionID, run.st, "phase "+run.phase.Name+" started", nil)

	dir, mode, err := r.workspace.Prepare(ctx, workspace.Feature{
		ID:           run.st.FeatureID,
		Name:         run.st.FeatureName,
		ProjectID:    run.st.ProjectID,
		ProjectPath:  run.project.LocalPath,
		MainBranch:   run.st.MainBranch,
		WorktreePath: run.st.WorktreePath,
	})
	if err != nil {
		run.log.Error("workspace preparation failed", "error", err)
		r.record(ctx, EventWorkspaceFailed, run.item, run.sessionID, run.st, err.Error(), nil)
		return false
	}
	run.dir = dir
	run.st.WorktreePath = dir
	r.record(ctx, EventWorkspaceReady, run.item, run.sessionID, run.st, "worktree ready at "+dir,
		map[string]any{"worktreePath": dir, "state": mode.String()})

	res, err := r.tool.RunPhase(ctx, dir, run.phase.Name, run.st.FeatureID)
	if err != nil {
		if run.phase.Name != PhaseComplete {
			r.phaseFailed(ctx, run, res, err)
			return false
		}
		if !r.repairAndRetry(ctx, run, res) {
			return false
		}
	}

	if run.phase.Artifact != "" && !r.workspace.HasArtifact(dir, run.st.FeatureID, run.phase.Artifact) {
		path := r.workspace.ArtifactPath(dir, run.st.FeatureID, run.phase.Artifact)
		run.log.Error("phase succeeded without producing its artifact", "artifact", path)
		r.record(ctx, EventArtifactMissing, run.item, run.sessionID, run.st,
			fmt.Sprintf("%s reported success but %s is missing", run.phase.Name, run.phase.Artifact),
			map[string]any{"artifact": path})
		return false
	}

	switch {
	case run.phase.Name == PhaseImplement:
		if !r.implement(ctx, run, res.Stdout) {
			return false
		}
	case run.phase.Gated:
		return r.gate(ctx, run)
	case run.phase.Name == PhaseComplete:
		r.finishFeature(ctx, run)
	}

	return r.chain(ctx, run)
}

func (r *Runner) phaseFailed(ctx context.Context, run *phaseRun, res specflow.Result, err error) {
	run.log.Error("phase tool failed", "exit_code", res.ExitCode, "error", err)
	r.record(ctx, EventPhaseFailed, run.item, run.sessionID, run.st, err.Error(), map[string]any{
		"exitCode": res.ExitCode,
		"timedOut": errors.Is(err, specflow.ErrTimeout),
		"stderr":   truncate(res.Stderr, maxOutput),
		"stdout":   truncate(res.Stdout, maxOutput),
	})
}

// repairAndRetry regenerates missing completion artifacts and reruns the
// complete phase once. It records its own failure events.
func (r *Runner) repairAndRetry(ctx context.Context, run *phaseRun, res specflow.Result) bool {
	missing := repair.ParseMissingArtifacts(res.Combined())
	if len(missing) == 0 || r.repairer == nil {
		r.phaseFailed(ctx, run, res, fmt.Errorf("complete failed (exit %d)", res.ExitCode))
		return false
	}

	run.log.Info("repairing missing artifacts", "missing", missing)
	r.record(ctx, EventRepairStarted, run.item, run.sessionID, run.st,
		"regenerating "+strings.Join(missing, ", "), map[string]any{"missing": missing})

	featureDir, _ := r.workspace.FeatureDir(run.dir, run.st.FeatureID)
	err := r.repairer.Repair(ctx, repair.Request{
		SessionID:   run.sessionID,
		FeatureID:   run.st.FeatureID,
		FeatureName: run.st.FeatureName,
		WorkDir:     run.dir,
		FeatureDir:  featureDir,
		MainBranch:  run.st.MainBranch,
		Missing:     missing,
		Timeout:     r.cfg.AgentTimeout,
	})
	if err != nil {
		run.log.Error("artifact repair failed", "error", err)
		r.record(ctx, EventRepairFailed, run.item, run.sessionID, run.st, err.Error(), nil)
		return false
	}

	retry, err := r.tool.RunPhase(ctx, run.dir, run.phase.Name, run.st.FeatureID)
	if err != nil {
		r.phaseFailed(ctx, run, retry, fmt.Errorf("complete failed after repair: %w", err))
		return false
	}
	r.record(ctx, EventRepairSucceeded, run.item, run.sessionID, run.st,
		"complete succeeded after repair", map[string]any{"repaired": missing})
	return true
}

// implement hands the tool's prompt to an agent and publishes the result.
func (r *Runner) implement(ctx context.Context, run *phaseRun, prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		run.log.Error("implement produced no prompt")
		r.record(ctx, EventAgentFailed, run.item, run.sessionID, run.st, "implement produced no agent prompt", nil)
		return false
	}

	res, err := r.launcher.Launch(ctx, agent.Request{
		SessionID: run.sessionID,
		Prompt:    prompt,
		WorkDir:   run.dir,
		Timeout:   r.cfg.AgentTimeout,
	})
	r.metrics.AgentLaunch(res.Duration)
	if err != nil || !res.Success() {
		summary := fmt.Sprintf("implement agent exited with code %d", res.ExitCode)
		if err != nil {
			summary = "implement agent could not run: " + err.Error()
		}
		run.log.Error("implement agent failed", "exit_code", res.ExitCode, "timed_out", res.TimedOut, "error", err)
		r.record(ctx, EventAgentFailed, run.item, run.sessionID, run.st, summary, map[string]any{
			"exitCode": res.ExitCode,
			"timedOut": res.TimedOut,
			"stderr":   truncate(res.Stderr, maxOutput),
		})
		return false
	}

	return r.publish(ctx, run)
}

// publish commits the worktree and opens a pull request. Push and PR failures
// are recorded but do not stop the chain: the commit stays on the branch.
func (r *Runner) publish(ctx context.Context, run *phaseRun) bool {
	msg := fmt.Sprintf("feat(%s): %s", strings.ToLower(run.st.FeatureID), run.st.DisplayName())
	sha, err := r.git.CommitAll(ctx, run.dir, msg)
	if err != nil {
		run.log.Error("commit failed", "error", err)
		r.record(ctx, EventCommitFailed, run.item, run.sessionID, run.st, err.Error(), nil)
		return false
	}
	if sha == "" {
		run.log.Info("implement left nothing to commit, skipping pull request")
		r.record(ctx, EventNothingToCommit, run.item, run.sessionID, run.st, "nothing to commit", nil)
		return true
	}

	branch := workspace.BranchName(run.st.FeatureID)
	if err := r.git.Push(ctx, run.dir, r.cfg.Remote, branch); err != nil {
		run.log.Warn("push failed", "branch", branch, "error", err)
		r.record(ctx, EventPushFailed, run.item, run.sessionID, run.st, err.Error(),
			map[string]any{"branch": branch, "commit": sha})
		return true
	}

	pr, err := r.git.CreatePR(ctx, run.dir, git.PRRequest{
		Title: fmt.Sprintf("%s: %s", run.st.FeatureID, run.st.DisplayName()),
		Body:  git.GeneratePRBody(r.prSummary(run), r.artifactLinks(run), run.st.IssueRef()),
		Base:  run.st.MainBranch,
		Head:  branch,
	})
	if err != nil {
		run.log.Warn("pull request failed", "branch", branch, "error", err)
		r.record(ctx, EventPRFailed, run.item, run.sessionID, run.st, err.Error(),
			map[string]any{"branch": branch, "commit": sha})
		return true
	}

	run.log.Info("pull request opened", "url", pr.URL)
	r.record(ctx, EventPROpened, run.item, run.sessionID, run.st, pr.URL, map[string]any{
		"url":    pr.URL,
		"number": pr.Number,
		"commit": sha,
	})
	return true
}

func (r *Runner) prSummary(run *phaseRun) string {
	return fmt.Sprintf("Implements feature %s (%s) from its spec, plan and tasks.",
		run.st.FeatureID, run.st.DisplayName())
}

// artifactLinks lists the spec documents present in the worktree, relative to it.
func (r *Runner) artifactLinks(run *phaseRun) []string {
	var links []string
	for _, name := range []string{"spec.md", "plan.md", "tasks.md"} {
		if !r.workspace.HasArtifact(run.dir, run.st.FeatureID, name) {
			continue
		}
		path := r.workspace.ArtifactPath(run.dir, run.st.FeatureID, name)
		if rel, err := filepath.Rel(run.dir, path); err == nil {
			path = rel
		}
		links = append(links, filepath.ToSlash(path))
	}
	return links
}

// finishFeature closes the originating issue and removes the worktree. Both
// are best-effort; leftover worktrees are collected by the sweep.
func (r *Runner) finishFeature(ctx context.Context, run *phaseRun) {
	if run.st.IssueRepo != "" && run.st.IssueNumber > 0 {
		comment := fmt.Sprintf("Delivered by feature %s.", run.st.FeatureID)
		if err := r.git.CloseIssue(ctx, run.project.LocalPath, run.st.IssueRepo, run.st.IssueNumber, comment); err != nil {
			run.log.Warn("failed to close issue", "issue", run.st.IssueRef(), "error", err)
			r.record(ctx, EventIssueCloseFailed, run.item, run.sessionID, run.st, err.Error(), nil)
		}
	}

	if err := r.workspace.RemoveWorktree(ctx, run.project.LocalPath, run.dir); err != nil {
		run.log.Warn("worktree cleanup failed", "path", run.dir, "error", err)
		r.record(ctx, EventCleanupFailed, run.item, run.sessionID, run.st, err.Error(),
			map[string]any{"worktreePath": run.dir})
	}

	run.log.Info("feature completed")
	r.record(ctx, EventFeatureCompleted, run.item, run.sessionID, run.st, "feature "+run.st.FeatureID+" completed", nil)
}

// chain creates the work item for the next phase. An item that already exists
// counts as chained, so re-running a phase never forks the pipeline.
func (r *Runner) chain(ctx context.Context, run *phaseRun) bool {
	next, err := r.graph.Next(run.phase.Name)
	if errors.Is(err, ErrPipelineComplete) {
		return true
	}
	if err != nil {
		r.record(ctx, EventChainFailed, run.item, run.sessionID, run.st, err.Error(), nil)
		return false
	}

	in, err := NextItem(run.item, run.st, next)
	if err != nil {
		r.record(ctx, EventChainFailed, run.item, run.sessionID, run.st, err.Error(), nil)
		return false
	}
	return r.create(ctx, run, in, EventPhaseChained, "chained "+next.Name)
}

func (r *Runner) create(ctx context.Context, run *phaseRun, in store.NewWorkItem, eventType, summary string) bool {
	_, err := r.store.CreateWorkItem(ctx, in)
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		run.log.Error("failed to create work item", "next_item", in.ID, "error", err)
		r.record(ctx, EventChainFailed, run.item, run.sessionID, run.st, err.Error(), map[string]any{"nextItem": in.ID})
		return false
	}
	if err != nil {
		run.log.Info("work item already exists", "next_item", in.ID)
	}
	r.record(ctx, eventType, run.item, run.sessionID, run.st, summary, map[string]any{"nextItem": in.ID})
	return true
}
