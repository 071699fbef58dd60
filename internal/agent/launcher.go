// Package agent defines the contract for launching autonomous agent subprocesses.
//
// Dispatch, the implement phase and artifact repair all start agents through a
// [Launcher]; the Claude CLI implementation lives in package claude and tests
// use [MockLauncher].
package agent

import (
	"context"
	"time"
)

// Request describes one agent launch.
type Request struct {
	// SessionID identifies the launch in the store's agent census.
	SessionID string

	// Prompt is the full instruction text.
	Prompt string

	// WorkDir is the repository (or worktree) the agent works in.
	WorkDir string

	// Timeout bounds the launch. Zero means no limit beyond the context.
	Timeout time.Duration
}

// Result is the outcome of a finished launch.
type Result struct {
	// ExitCode is the process exit code; 0 means success. A timeout yields -1.
	ExitCode int

	// Stdout is the agent's final text output.
	Stdout string

	// Stderr is captured diagnostics.
	Stderr string

	// Duration is the wall time of the launch.
	Duration time.Duration

	// TimedOut is true when the launch hit its timeout.
	TimedOut bool
}

// Success reports whether the agent exited cleanly.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Launcher starts an agent and waits for it to finish.
//
// Launch returns an error only when the agent could not be run at all (binary
// missing, working directory invalid). A non-zero exit is reported in
// Result.ExitCode with a nil error.
type Launcher interface {
	Launch(ctx context.Context, req Request) (Result, error)
}
