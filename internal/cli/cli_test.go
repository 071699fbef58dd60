package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbeat/internal/agent"
	"heartbeat/internal/config"
	"heartbeat/internal/dispatch"
	"heartbeat/internal/git"
	"heartbeat/internal/logging"
	"heartbeat/internal/output"
	"heartbeat/internal/pipeline"
	"heartbeat/internal/registry"
	"heartbeat/internal/specflow"
	"heartbeat/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testApp struct {
	*App
	out      *bytes.Buffer
	launcher *agent.MockLauncher
	cmd      *git.MockCommander
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.DefaultConfig()
	cfg.Pipeline.WorktreeRoot = "/wt"

	out := &bytes.Buffer{}
	launcher := &agent.MockLauncher{}
	cmd := git.NewMockCommander()
	sessions := 0

	return &testApp{
		App: &App{
			Config:       cfg,
			Logger:       logging.Discard(),
			Printer:      output.NewPrinterWithWriter(out),
			Store:        s,
			Projects:     registry.New(registry.Project{ID: "proj-a", Name: "Project A", LocalPath: "/proj-a"}),
			RegistryPath: filepath.Join(t.TempDir(), "projects.yaml"),
			Launcher:     launcher,
			Tool:         specflow.NewMock(),
			Git:          git.NewClientWithCommander(cmd),
			Fs:           afero.NewMemMapFs(),
			Now:          func() time.Time { return testNow },
			NewSessionID: func() string {
				sessions++
				return fmt.Sprintf("session-%d", sessions)
			},
		},
		out:      out,
		launcher: launcher,
		cmd:      cmd,
	}
}

func (a *testApp) exec(t *testing.T, args ...string) error {
	t.Helper()
	a.out.Reset()
	root := NewRootCommand(a.App)
	root.SetOut(a.out)
	root.SetErr(a.out)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func (a *testApp) addItem(t *testing.T, id, project string, p store.Priority) {
	t.Helper()
	_, err := a.Store.CreateWorkItem(context.Background(), store.NewWorkItem{
		ID: id, Title: "Task " + id, Project: project, Source: store.SourceManual, Priority: p,
	})
	require.NoError(t, err)
}

func TestDispatchCommand_JSON(t *testing.T) {
	app := newTestApp(t)
	app.addItem(t, "task-2", "proj-a", store.P2)
	app.addItem(t, "task-1", "proj-a", store.P1)

	err := app.exec(t, "dispatch", "--max-items", "2", "--max-concurrent", "3", "--json")

	require.NoError(t, err)
	var res dispatch.Result
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &res))
	require.Len(t, res.Dispatched, 2)
	assert.Equal(t, "task-1", res.Dispatched[0].ID)
	assert.Equal(t, "task-2", res.Dispatched[1].ID)
	assert.True(t, res.Dispatched[0].Completed)
	assert.Equal(t, 2, app.launcher.Calls())
	assert.Equal(t, "/proj-a", app.launcher.Requests[0].WorkDir)
}

func TestDispatchCommand_ItemFailureIsNotAnError(t *testing.T) {
	app := newTestApp(t)
	app.launcher.Results = []agent.Result{{ExitCode: 3}}
	app.addItem(t, "task-1", "proj-a", store.P1)

	err := app.exec(t, "dispatch")

	require.NoError(t, err)
	assert.Contains(t, app.out.String(), "task-1: agent exited with code 3")
	item, err := app.Store.GetWorkItem(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAvailable, item.Status)
}

func TestDispatchCommand_FireAndForget(t *testing.T) {
	app := newTestApp(t)
	app.addItem(t, "task-1", "proj-a", store.P1)

	err := app.exec(t, "dispatch", "--fire-and-forget")

	require.NoError(t, err)
	assert.Contains(t, app.out.String(), "dispatch started")
	item, err := app.Store.GetWorkItem(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, item.Status)
}

func TestDispatchCommand_InvalidPriority(t *testing.T) {
	app := newTestApp(t)

	err := app.exec(t, "dispatch", "--priority", "P9")

	assert.ErrorContains(t, err, "invalid priority")
}

func TestCommands_StoreUnavailable(t *testing.T) {
	tests := [][]string{
		{"dispatch"},
		{"items", "list"},
		{"events"},
		{"agents"},
		{"pipeline", "lineage", "F-001"},
	}

	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			app := newTestApp(t)
			app.Store = nil
			app.StoreErr = errors.New("unable to open database file")

			res := run(context.Background(), app.App, args)

			assert.Equal(t, 1, res.ExitCode)
			assert.EqualError(t, res.Err, "open work item store: unable to open database file")
		})
	}
}

func TestItemsCommands(t *testing.T) {
	app := newTestApp(t)

	require.NoError(t, app.exec(t, "items", "add", "Fix", "login", "--id", "task-9", "--project", "proj-a", "--priority", "p1"))
	assert.Contains(t, app.out.String(), "queued task-9 (P1)")

	require.NoError(t, app.exec(t, "items", "list", "--json"))
	var items []store.WorkItem
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Fix login", items[0].Title)
	assert.Equal(t, store.SourceManual, items[0].Source)

	require.NoError(t, app.Store.ClaimWorkItem(context.Background(), "task-9", "crashed"))
	require.NoError(t, app.exec(t, "items", "release", "task-9"))
	assert.Contains(t, app.out.String(), "released task-9")
	count, err := app.Store.CountActiveAgents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, app.exec(t, "items", "release", "task-9"))
	assert.Contains(t, app.out.String(), "task-9 is available, nothing to release")

	require.NoError(t, app.exec(t, "items", "show", "task-9"))
	assert.Contains(t, app.out.String(), "Status:")
	assert.Contains(t, app.out.String(), "available")
	assert.Contains(t, app.out.String(), "released by operator")

	require.NoError(t, app.exec(t, "items", "fail", "task-9", "--reason", "abandoned"))
	item, err := app.Store.GetWorkItem(context.Background(), "task-9")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, "abandoned", item.LastError)

	assert.ErrorContains(t, app.exec(t, "items", "list", "--status", "done"), `invalid status "done"`)
	assert.ErrorIs(t, app.exec(t, "items", "show", "nope"), store.ErrNotFound)
}

func TestPipelineCommands(t *testing.T) {
	app := newTestApp(t)

	err := app.exec(t, "pipeline", "start", "F-001", "--name", "Login", "--project", "proj-a",
		"--priority", "P1", "--issue-repo", "org/web", "--issue-number", "7")
	require.NoError(t, err)
	assert.Contains(t, app.out.String(), "queued specflow-F-001-specify")

	item, err := app.Store.GetWorkItem(context.Background(), "specflow-F-001-specify")
	require.NoError(t, err)
	assert.Equal(t, store.SourceSpecflow, item.Source)
	assert.Equal(t, store.P1, item.Priority)
	st, err := pipeline.ParseState(item.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "main", st.MainBranch)
	assert.Equal(t, "org/web#7", st.IssueRef())

	require.NoError(t, app.exec(t, "pipeline", "lineage", "F-001"))
	assert.Contains(t, app.out.String(), "Feature F-001 (in progress)")
	assert.Contains(t, app.out.String(), "specflow-F-001-specify")

	err = app.exec(t, "pipeline", "start", "F-001", "--project", "proj-a")
	assert.ErrorIs(t, err, store.ErrDuplicate)

	err = app.exec(t, "pipeline", "start", "F-002", "--project", "nope")
	assert.ErrorIs(t, err, registry.ErrProjectNotFound)
}

func TestRunPhaseCommand_RejectsNonPipelineItem(t *testing.T) {
	app := newTestApp(t)
	app.addItem(t, "task-1", "proj-a", store.P1)

	err := app.exec(t, "run-phase", "task-1")

	assert.EqualError(t, err, `work item task-1 is not a pipeline item (source "manual")`)
	item, err := app.Store.GetWorkItem(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAvailable, item.Status)
}

func TestEventsAndAgentsCommands(t *testing.T) {
	app := newTestApp(t)
	app.addItem(t, "task-1", "proj-a", store.P1)
	app.addItem(t, "task-2", "proj-a", store.P1)
	require.NoError(t, app.Store.ClaimWorkItem(context.Background(), "task-2", "session-x"))

	require.NoError(t, app.exec(t, "agents", "--json"))
	var sessions []store.AgentSession
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "task-2", sessions[0].WorkItemID)

	require.NoError(t, app.exec(t, "dispatch", "--max-concurrent", "1"))
	require.NoError(t, app.exec(t, "events", "--type", dispatch.EventSkipped, "--json"))
	var events []store.Event
	require.NoError(t, json.Unmarshal(app.out.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, dispatch.ReasonConcurrencyLimit, events[0].Summary)
}

func TestCheckCommand(t *testing.T) {
	app := newTestApp(t)
	app.addItem(t, "task-1", "proj-a", store.P1)

	require.NoError(t, app.exec(t, "check"))

	assert.Contains(t, app.out.String(), "agent-dispatch: dispatch started")
	item, err := app.Store.GetWorkItem(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, item.Status)
}

func TestCheckCommand_NoStore(t *testing.T) {
	app := newTestApp(t)
	app.Store = nil
	app.StoreErr = errors.New("unable to open database file")

	res := run(context.Background(), app.App, []string{"check"})

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, app.out.String(), "✗ agent-dispatch: work item store is not configured")
}

func TestWorktreeSweepCommand(t *testing.T) {
	app := newTestApp(t)
	old := testNow.Add(-96 * time.Hour)
	for _, dir := range []string{"specflow-f-001", "specflow-f-002"} {
		path := filepath.Join("/wt", "proj-a", dir)
		require.NoError(t, app.Fs.MkdirAll(path, 0755))
		require.NoError(t, app.Fs.Chtimes(path, old, old))
	}
	require.NoError(t, app.exec(t, "pipeline", "start", "F-002", "--project", "proj-a"))

	require.NoError(t, app.exec(t, "worktree", "sweep", "--older-than", "72h"))

	assert.Contains(t, app.out.String(), "removed /wt/proj-a/specflow-f-001")
	assert.NotContains(t, app.out.String(), "specflow-f-002")
	var removals []string
	for _, c := range app.cmd.Calls {
		if len(c.Args) > 1 && c.Args[0] == "worktree" && c.Args[1] == "remove" {
			removals = append(removals, c.Args[len(c.Args)-1])
		}
	}
	assert.Equal(t, []string{"/wt/proj-a/specflow-f-001"}, removals)
}

func TestProjectsCommands(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()

	require.NoError(t, app.exec(t, "projects", "add", "web", dir, "--main-branch", "develop"))
	assert.Contains(t, app.out.String(), "registered web")

	_, err := os.Stat(app.RegistryPath)
	require.NoError(t, err)
	loaded, err := registry.Load(app.RegistryPath)
	require.NoError(t, err)
	p, err := loaded.Get("web")
	require.NoError(t, err)
	assert.Equal(t, dir, p.LocalPath)
	assert.Equal(t, "develop", p.Branch())

	require.NoError(t, app.exec(t, "projects", "list"))
	assert.Contains(t, app.out.String(), "proj-a")
	assert.Contains(t, app.out.String(), "develop")
}

func TestExitError(t *testing.T) {
	err := NewExitError(3)

	code, ok := IsExitError(err)
	assert.True(t, ok)
	assert.Equal(t, 3, code)
	assert.Equal(t, "exit status 3", err.Error())

	code, ok = IsExitError(fmt.Errorf("check: %w", err))
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok = IsExitError(errors.New("plain"))
	assert.False(t, ok)
}
