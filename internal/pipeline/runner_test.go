package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbeat/internal/agent"
	"heartbeat/internal/config"
	"heartbeat/internal/git"
	"heartbeat/internal/logging"
	"heartbeat/internal/registry"
	"heartbeat/internal/repair"
	"heartbeat/internal/specflow"
	"heartbeat/internal/store"
	"heartbeat/internal/workspace"
)

const testWorktree = "/wt/web/specflow-f-001"

type fakeStore struct {
	created   []store.NewWorkItem
	existing  map[string]bool
	createErr error
	events    []store.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: map[string]bool{}}
}

func (s *fakeStore) CreateWorkItem(ctx context.Context, in store.NewWorkItem) (*store.WorkItem, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.existing[in.ID] {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicate, in.ID)
	}
	s.existing[in.ID] = true
	s.created = append(s.created, in)
	return &store.WorkItem{ID: in.ID, Metadata: in.Metadata, Status: store.StatusAvailable}, nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, e store.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *fakeStore) event(typ string) (store.Event, bool) {
	for _, e := range s.events {
		if e.Type == typ {
			return e, true
		}
	}
	return store.Event{}, false
}

func (s *fakeStore) createdIDs() []string {
	ids := make([]string, len(s.created))
	for i, c := range s.created {
		ids[i] = c.ID
	}
	return ids
}

type fakeWorkspace struct {
	artifacts  map[string]bool
	prepareErr error
	removeErr  error
	prepared   []workspace.Feature
	removed    []string
}

func (w *fakeWorkspace) Prepare(ctx context.Context, f workspace.Feature) (string, workspace.StateMode, error) {
	w.prepared = append(w.prepared, f)
	if w.prepareErr != nil {
		return "", workspace.StateNone, w.prepareErr
	}
	return testWorktree, workspace.StateLinkedDir, nil
}

func (w *fakeWorkspace) RemoveWorktree(ctx context.Context, projectPath, path string) error {
	w.removed = append(w.removed, path)
	return w.removeErr
}

func (w *fakeWorkspace) FeatureDir(root, featureID string) (string, bool) {
	return filepath.Join(root, "specs", strings.ToLower(featureID)), true
}

func (w *fakeWorkspace) ArtifactPath(root, featureID, artifact string) string {
	dir, _ := w.FeatureDir(root, featureID)
	return filepath.Join(dir, artifact)
}

func (w *fakeWorkspace) HasArtifact(root, featureID, artifact string) bool {
	return w.artifacts[artifact]
}

type fixture struct {
	store    *fakeStore
	ws       *fakeWorkspace
	tool     *specflow.Mock
	cmd      *git.MockCommander
	launcher *agent.MockLauncher
	repairer *repair.Mock
	runner   *Runner
}

var testProject = registry.Project{ID: "web", Name: "Web", LocalPath: "/src/web", MainBranch: "main"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		ws:       &fakeWorkspace{artifacts: map[string]bool{"spec.md": true, "plan.md": true, "tasks.md": true}},
		tool:     specflow.NewMock(),
		cmd:      git.NewMockCommander(),
		launcher: &agent.MockLauncher{},
		repairer: &repair.Mock{},
	}
	f.runner = NewRunner(Deps{
		Store:     f.store,
		Tool:      f.tool,
		Workspace: f.ws,
		Git:       git.NewClientWithCommander(f.cmd),
		Launcher:  f.launcher,
		Repairer:  f.repairer,
		Logger:    logging.Discard(),
		Config: config.PipelineConfig{
			EvalThreshold: 80,
			MaxRetries:    1,
			AgentTimeout:  time.Hour,
			Rubrics:       map[string]string{"specify": "spec-quality", "plan": "plan-quality"},
		},
	})
	return f
}

func phaseItem(t *testing.T, phase string, retry int, mutate ...func(*PhaseState)) store.WorkItem {
	t.Helper()
	st := PhaseState{
		FeatureID:   "F-001",
		ProjectID:   "web",
		FeatureName: "Login",
		Phase:       phase,
		MainBranch:  "main",
		RetryCount:  retry,
	}
	if phase != PhaseSpecify {
		st.WorktreePath = testWorktree
	}
	for _, m := range mutate {
		m(&st)
	}
	meta, err := st.Marshal()
	require.NoError(t, err)
	return store.WorkItem{
		ID:       ItemID(st.FeatureID, phase, retry),
		Project:  "web",
		Source:   store.SourceSpecflow,
		Priority: store.P1,
		Status:   store.StatusClaimed,
		Metadata: meta,
	}
}

func (f *fixture) run(t *testing.T, item store.WorkItem) bool {
	t.Helper()
	return f.runner.RunPhase(context.Background(), item, testProject, "session-1")
}

func createdState(t *testing.T, in store.NewWorkItem) PhaseState {
	t.Helper()
	st, err := ParseState(in.Metadata)
	require.NoError(t, err)
	return st
}

func TestRunPhase_GatePassChainsNextPhase(t *testing.T) {
	tests := []struct {
		phase    string
		rubric   string
		artifact string
		score    float64
		wantNext string
	}{
		{phase: PhaseSpecify, rubric: "spec-quality", artifact: "spec.md", score: 85, wantNext: "specflow-F-001-plan"},
		{phase: PhasePlan, rubric: "plan-quality", artifact: "plan.md", score: 80, wantNext: "specflow-F-001-tasks"},
	}

	for _, tt := range tests {
		t.Run(tt.phase, func(t *testing.T) {
			f := newFixture(t)
			f.tool.EvalResults[tt.rubric] = specflow.EvalResult{Score: tt.score}

			ok := f.run(t, phaseItem(t, tt.phase, 0))

			require.True(t, ok)
			assert.True(t, f.tool.Called("eval specs/f-001/"+tt.artifact+" "+tt.rubric))
			require.Equal(t, []string{tt.wantNext}, f.store.createdIDs())

			next := f.store.created[0]
			st := createdState(t, next)
			assert.Equal(t, 0, st.RetryCount)
			assert.Equal(t, testWorktree, st.WorktreePath)
			assert.Equal(t, "main", st.MainBranch)
			assert.Equal(t, store.P1, next.Priority)
			assert.Equal(t, "web", next.Project)
			assert.Equal(t, store.SourceSpecflow, next.Source)

			_, chained := f.store.event(EventPhaseChained)
			assert.True(t, chained)
		})
	}
}

func TestRunPhase_GateFailSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	raw, err := specflow.ParseEvalOutput(`{"score": 0.65, "feedback": "Acceptance criteria are not testable."}`)
	require.NoError(t, err)
	f.tool.EvalResults["spec-quality"] = raw

	ok := f.run(t, phaseItem(t, PhaseSpecify, 0))

	require.True(t, ok)
	require.Equal(t, []string{"specflow-F-001-specify-retry1"}, f.store.createdIDs())
	retry := f.store.created[0]
	st := createdState(t, retry)
	assert.Equal(t, 1, st.RetryCount)
	assert.Equal(t, PhaseSpecify, st.Phase)
	assert.Equal(t, "Acceptance criteria are not testable.", st.EvalFeedback)
	assert.Contains(t, retry.Description, "Acceptance criteria are not testable.")
	assert.Contains(t, retry.Description, "65/100")

	e, found := f.store.event(EventGateEvaluated)
	require.True(t, found)
	assert.Equal(t, "retry", e.Metadata["decision"])
	_, found = f.store.event(EventRetryScheduled)
	assert.True(t, found)
}

func TestRunPhase_GateJustBelowThreshold(t *testing.T) {
	f := newFixture(t)
	f.tool.EvalResults["plan-quality"] = specflow.EvalResult{Score: 79, Feedback: "thin"}

	ok := f.run(t, phaseItem(t, PhasePlan, 0))

	require.True(t, ok)
	assert.Equal(t, []string{"specflow-F-001-plan-retry1"}, f.store.createdIDs())
}

func TestRunPhase_GateRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	f.tool.EvalResults["spec-quality"] = specflow.EvalResult{Score: 50, Feedback: "still vague"}

	ok := f.run(t, phaseItem(t, PhaseSpecify, 1))

	assert.True(t, ok, "exhausted budget is handled, not a transient failure")
	assert.Empty(t, f.store.created)
	e, found := f.store.event(EventRetriesExhausted)
	require.True(t, found)
	assert.Equal(t, 1, e.Metadata["retryCount"])
}

func TestRunPhase_EvalFailure(t *testing.T) {
	f := newFixture(t)
	f.tool.EvalErr = errors.New("rubric spec-quality not found")

	ok := f.run(t, phaseItem(t, PhaseSpecify, 0))

	assert.False(t, ok)
	assert.Empty(t, f.store.created)
	_, found := f.store.event(EventEvalFailed)
	assert.True(t, found)
}

func TestRunPhase_TransientFailures(t *testing.T) {
	tests := []struct {
		name      string
		phase     string
		setup     func(f *fixture)
		wantEvent string
	}{
		{
			name:  "tool fails",
			phase: PhasePlan,
			setup: func(f *fixture) {
				f.tool.PhaseResults[PhasePlan] = []specflow.MockOutcome{{
					Result: specflow.Result{ExitCode: 3, Stderr: "plan: spec.md not approved"},
					Err:    errors.New("command failed (exit 3)"),
				}}
			},
			wantEvent: EventPhaseFailed,
		},
		{
			name:  "tool times out",
			phase: PhaseTasks,
			setup: func(f *fixture) {
				f.tool.PhaseResults[PhaseTasks] = []specflow.MockOutcome{{
					Result: specflow.Result{ExitCode: -1},
					Err:    fmt.Errorf("%w after 30m0s", specflow.ErrTimeout),
				}}
			},
			wantEvent: EventPhaseFailed,
		},
		{
			name:      "artifact missing after success",
			phase:     PhaseSpecify,
			setup:     func(f *fixture) { f.ws.artifacts["spec.md"] = false },
			wantEvent: EventArtifactMissing,
		},
		{
			name:      "workspace cannot be prepared",
			phase:     PhaseTasks,
			setup:     func(f *fixture) { f.ws.prepareErr = errors.New("branch checked out elsewhere") },
			wantEvent: EventWorkspaceFailed,
		},
		{
			name:      "next item cannot be created",
			phase:     PhaseTasks,
			setup:     func(f *fixture) { f.store.createErr = errors.New("database is locked") },
			wantEvent: EventChainFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			ok := f.run(t, phaseItem(t, tt.phase, 0))

			assert.False(t, ok)
			assert.Empty(t, f.store.created)
			_, found := f.store.event(tt.wantEvent)
			assert.True(t, found, "expected %s event", tt.wantEvent)
			assert.False(t, f.tool.Called("eval"))
		})
	}
}

func TestRunPhase_ToolFailureRecordsDiagnostics(t *testing.T) {
	f := newFixture(t)
	f.tool.PhaseResults[PhasePlan] = []specflow.MockOutcome{{
		Result: specflow.Result{ExitCode: 3, Stderr: strings.Repeat("x", 900)},
		Err:    errors.New("command failed (exit 3)"),
	}}

	f.run(t, phaseItem(t, PhasePlan, 0))

	e, found := f.store.event(EventPhaseFailed)
	require.True(t, found)
	assert.Equal(t, 3, e.Metadata["exitCode"])
	assert.Equal(t, "F-001", e.Metadata["featureId"])
	assert.Equal(t, PhasePlan, e.Metadata["phase"])
	assert.Len(t, e.Metadata["stderr"], 503)
	assert.Equal(t, "session-1", e.SessionID)
}

func TestRunPhase_UngatedPhaseChains(t *testing.T) {
	f := newFixture(t)

	ok := f.run(t, phaseItem(t, PhaseTasks, 0))

	require.True(t, ok)
	assert.False(t, f.tool.Called("eval"))
	assert.Equal(t, []string{"specflow-F-001-implement"}, f.store.createdIDs())
}

func TestRunPhase_FirstPhasePreparesFreshWorktree(t *testing.T) {
	f := newFixture(t)

	f.run(t, phaseItem(t, PhaseSpecify, 0))

	require.Len(t, f.ws.prepared, 1)
	prepared := f.ws.prepared[0]
	assert.Equal(t, "", prepared.WorktreePath)
	assert.Equal(t, "/src/web", prepared.ProjectPath)
	assert.Equal(t, "web", prepared.ProjectID)
	assert.Equal(t, "main", prepared.MainBranch)
}

func TestRunPhase_ChainingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.existing["specflow-F-001-implement"] = true

	ok := f.run(t, phaseItem(t, PhaseTasks, 0))

	assert.True(t, ok)
	assert.Empty(t, f.store.created)
}

func TestRunPhase_ChainInheritsIssueLinkage(t *testing.T) {
	f := newFixture(t)
	item := phaseItem(t, PhaseTasks, 0, func(st *PhaseState) {
		st.IssueURL = "https://github.com/org/web/issues/7"
		st.IssueRepo = "org/web"
		st.IssueNumber = 7
	})

	require.True(t, f.run(t, item))

	next := f.store.created[0]
	st := createdState(t, next)
	assert.Equal(t, "org/web", st.IssueRepo)
	assert.Equal(t, 7, st.IssueNumber)
	assert.Equal(t, "https://github.com/org/web/issues/7", next.SourceRef)
	assert.Equal(t, "Login", st.FeatureName)
}

func TestRunPhase_InvalidMetadata(t *testing.T) {
	f := newFixture(t)

	ok := f.run(t, store.WorkItem{ID: "specflow-x", Metadata: []byte(`{"phase":"plan"}`)})
	assert.False(t, ok)

	ok = f.run(t, store.WorkItem{ID: "specflow-y", Metadata: []byte(`{"featureId":"F-9","phase":"deploy"}`)})
	assert.False(t, ok)

	assert.Len(t, f.store.events, 2)
	assert.Empty(t, f.ws.prepared)
}

func TestNewRunner_DefaultsLogger(t *testing.T) {
	st := newFakeStore()
	ws := &fakeWorkspace{prepareErr: errors.New("disk full")}
	r := NewRunner(Deps{Store: st, Workspace: ws, Tool: specflow.NewMock()})

	require.NotNil(t, r.Graph())
	assert.NotPanics(t, func() {
		r.RunPhase(context.Background(), phaseItem(t, PhasePlan, 0), testProject, "session-1")
	})
	assert.Len(t, ws.prepared, 1)
	_, found := st.event(EventWorkspaceFailed)
	assert.True(t, found)
}

func TestRunPhase_Implement(t *testing.T) {
	f := newFixture(t)
	f.tool.SucceedPhase(PhaseImplement, "Implement the tasks in specs/f-001/tasks.md\n")
	f.cmd.SetResponse("git status --porcelain", " M login.go", nil)
	f.cmd.SetResponse("git rev-parse HEAD", "abc123", nil)
	f.cmd.SetPrefixResponse("gh pr create", "https://github.com/org/web/pull/42", nil)
	item := phaseItem(t, PhaseImplement, 0, func(st *PhaseState) {
		st.IssueRepo = "org/web"
		st.IssueNumber = 7
	})

	ok := f.run(t, item)

	require.True(t, ok)
	require.Len(t, f.launcher.Requests, 1)
	req := f.launcher.Requests[0]
	assert.Equal(t, "Implement the tasks in specs/f-001/tasks.md", req.Prompt)
	assert.Equal(t, testWorktree, req.WorkDir)
	assert.Equal(t, "session-1", req.SessionID)
	assert.Equal(t, time.Hour, req.Timeout)

	assert.True(t, f.cmd.Ran("git commit -m feat(f-001): Login"))
	assert.True(t, f.cmd.Ran("git push -u origin specflow-f-001"))
	body := prBody(t, f.cmd)
	assert.Contains(t, body, "`specs/f-001/spec.md`")
	assert.Contains(t, body, "`specs/f-001/plan.md`")
	assert.Contains(t, body, "Closes org/web#7")

	e, found := f.store.event(EventPROpened)
	require.True(t, found)
	assert.Equal(t, 42, e.Metadata["number"])
	assert.Equal(t, []string{"specflow-F-001-complete"}, f.store.createdIDs())
}

func prBody(t *testing.T, cmd *git.MockCommander) string {
	t.Helper()
	for _, c := range cmd.Calls {
		if c.Name == "gh" && len(c.Args) > 5 && c.Args[0] == "pr" && c.Args[1] == "create" {
			return c.Args[5]
		}
	}
	t.Fatal("gh pr create was not called")
	return ""
}

func TestRunPhase_ImplementPublishing(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantOK    bool
		wantEvent string
		wantPR    bool
		wantNext  bool
	}{
		{
			name:      "nothing to commit skips pull request",
			setup:     func(f *fixture) {},
			wantOK:    true,
			wantEvent: EventNothingToCommit,
			wantNext:  true,
		},
		{
			name: "push failure does not block chaining",
			setup: func(f *fixture) {
				f.cmd.SetResponse("git status --porcelain", "?? new.go", nil)
				f.cmd.SetPrefixResponse("git push", "", errors.New("remote rejected"))
			},
			wantOK:    true,
			wantEvent: EventPushFailed,
			wantNext:  true,
		},
		{
			name: "pull request failure does not block chaining",
			setup: func(f *fixture) {
				f.cmd.SetResponse("git status --porcelain", "?? new.go", nil)
				f.cmd.SetResponse("gh --version", "", errors.New("gh: not found"))
			},
			wantOK:    true,
			wantEvent: EventPRFailed,
			wantNext:  true,
		},
		{
			name: "commit failure stops the phase",
			setup: func(f *fixture) {
				f.cmd.SetResponse("git status --porcelain", "?? new.go", nil)
				f.cmd.SetPrefixResponse("git commit", "", errors.New("pre-commit hook failed"))
			},
			wantOK:    false,
			wantEvent: EventCommitFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tool.SucceedPhase(PhaseImplement, "do the work")
			f.cmd.SetResponse("git rev-parse HEAD", "abc123", nil)
			tt.setup(f)

			ok := f.run(t, phaseItem(t, PhaseImplement, 0))

			assert.Equal(t, tt.wantOK, ok)
			_, found := f.store.event(tt.wantEvent)
			assert.True(t, found, "expected %s event", tt.wantEvent)
			assert.Equal(t, tt.wantPR, f.cmd.Ran("gh pr create"))
			if tt.wantNext {
				assert.Equal(t, []string{"specflow-F-001-complete"}, f.store.createdIDs())
			} else {
				assert.Empty(t, f.store.created)
			}
		})
	}
}

func TestRunPhase_ImplementAgentFailures(t *testing.T) {
	tests := []struct {
		name      string
		stdout    string
		launcher  *agent.MockLauncher
		wantCalls int
	}{
		{name: "empty prompt", stdout: "  \n", launcher: &agent.MockLauncher{}, wantCalls: 0},
		{name: "non-zero exit", stdout: "go", launcher: &agent.MockLauncher{Results: []agent.Result{{ExitCode: 1}}}, wantCalls: 1},
		{name: "timeout", stdout: "go", launcher: &agent.MockLauncher{Results: []agent.Result{{ExitCode: -1, TimedOut: true}}}, wantCalls: 1},
		{name: "cannot launch", stdout: "go", launcher: &agent.MockLauncher{Err: errors.New("exec: claude not found")}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runner.launcher = tt.launcher
			f.tool.SucceedPhase(PhaseImplement, tt.stdout)

			ok := f.run(t, phaseItem(t, PhaseImplement, 0))

			assert.False(t, ok)
			assert.Len(t, tt.launcher.Requests, tt.wantCalls)
			assert.False(t, f.cmd.Ran("git commit"))
			assert.Empty(t, f.store.created)
			_, found := f.store.event(EventAgentFailed)
			assert.True(t, found)
		})
	}
}

func TestRunPhase_Complete(t *testing.T) {
	f := newFixture(t)
	item := phaseItem(t, PhaseComplete, 0, func(st *PhaseState) {
		st.IssueRepo = "org/web"
		st.IssueNumber = 7
	})

	ok := f.run(t, item)

	require.True(t, ok)
	assert.Empty(t, f.store.created)
	assert.Equal(t, []string{"gh issue close 7 --repo org/web --comment Delivered by feature F-001."}, f.cmd.Commands())
	assert.Equal(t, []string{testWorktree}, f.ws.removed)
	_, found := f.store.event(EventFeatureCompleted)
	assert.True(t, found)
}

func TestRunPhase_CompleteCleanupIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.ws.removeErr = errors.New("worktree is dirty")
	f.cmd.SetPrefixResponse("gh issue close", "", errors.New("HTTP 403"))
	item := phaseItem(t, PhaseComplete, 0, func(st *PhaseState) {
		st.IssueRepo = "org/web"
		st.IssueNumber = 7
	})

	ok := f.run(t, item)

	assert.True(t, ok)
	_, found := f.store.event(EventIssueCloseFailed)
	assert.True(t, found)
	_, found = f.store.event(EventCleanupFailed)
	assert.True(t, found)
}

func TestRunPhase_CompleteRepair(t *testing.T) {
	tests := []struct {
		name        string
		outcomes    []specflow.MockOutcome
		repairErr   error
		wantOK      bool
		wantRepairs int
		wantRuns    int
		wantMissing []string
		wantEvent   string
	}{
		{
			name: "regenerates and retries",
			outcomes: []specflow.MockOutcome{
				{Result: specflow.Result{ExitCode: 1, Stdout: "Error: docs.md is missing\nError: verify.md not found"}, Err: errors.New("exit 1")},
				{Result: specflow.Result{Stdout: "complete"}},
			},
			wantOK:      true,
			wantRepairs: 1,
			wantRuns:    2,
			wantMissing: []string{"docs.md", "verify.md"},
			wantEvent:   EventRepairSucceeded,
		},
		{
			name: "repair fails",
			outcomes: []specflow.MockOutcome{
				{Result: specflow.Result{ExitCode: 1, Stderr: "verify.md required"}, Err: errors.New("exit 1")},
			},
			repairErr:   errors.New("agent finished but verify.md was not written"),
			wantRepairs: 1,
			wantRuns:    1,
			wantMissing: []string{"verify.md"},
			wantEvent:   EventRepairFailed,
		},
		{
			name: "second failure is final",
			outcomes: []specflow.MockOutcome{
				{Result: specflow.Result{ExitCode: 1, Stdout: "docs.md missing"}, Err: errors.New("exit 1")},
				{Result: specflow.Result{ExitCode: 1, Stdout: "tests failing"}, Err: errors.New("exit 1")},
			},
			wantRepairs: 1,
			wantRuns:    2,
			wantMissing: []string{"docs.md"},
			wantEvent:   EventPhaseFailed,
		},
		{
			name: "unrelated failure is not repaired",
			outcomes: []specflow.MockOutcome{
				{Result: specflow.Result{ExitCode: 2, Stderr: "lint errors"}, Err: errors.New("exit 2")},
			},
			wantRuns:  1,
			wantEvent: EventPhaseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tool.PhaseResults[PhaseComplete] = tt.outcomes
			f.repairer.Err = tt.repairErr

			ok := f.run(t, phaseItem(t, PhaseComplete, 0))

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRuns, f.tool.CallCount("complete F-001"))
			require.Len(t, f.repairer.Requests, tt.wantRepairs)
			if tt.wantRepairs > 0 {
				req := f.repairer.Requests[0]
				assert.Equal(t, tt.wantMissing, req.Missing)
				assert.Equal(t, testWorktree+"/specs/f-001", req.FeatureDir)
				assert.Equal(t, "main", req.MainBranch)
				assert.Equal(t, time.Hour, req.Timeout)
			}
			_, found := f.store.event(tt.wantEvent)
			assert.True(t, found, "expected %s event", tt.wantEvent)
			assert.Equal(t, tt.wantOK, len(f.ws.removed) == 1)
		})
	}
}
