// Package specflow drives the phase-execution tool that owns feature state.
//
// The tool is an external CLI: `specflow <phase> <featureId>` runs a pipeline
// phase, `specflow eval run` scores an artifact against a rubric, and
// `specflow init`/`add` bootstrap its feature database in a fresh worktree.
// [CLI] invokes it as a subprocess; [Mock] replaces it in tests.
package specflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is wrapped by errors from invocations that hit their deadline.
var ErrTimeout = errors.New("specflow timed out")

// Tool is the phase-execution tool port. Consumers usually depend on a
// narrower subset of it.
type Tool interface {
	RunPhase(ctx context.Context, dir, phase, featureID string) (Result, error)
	Eval(ctx context.Context, dir, file, rubric string) (EvalResult, error)
	Init(ctx context.Context, dir string, opts InitOptions) (Result, error)
	Add(ctx context.Context, dir, featureID, name string) (Result, error)
}

var (
	_ Tool = (*CLI)(nil)
	_ Tool = (*Mock)(nil)
)

// Result holds the output from a tool invocation.
type Result struct {
	// Stdout contains the standard output from the command.
	Stdout string

	// Stderr contains the standard error output from the command.
	Stderr string

	// ExitCode is the process exit code (0 = success, -1 = did not finish).
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration

	// Command is the full command that was executed (for logging).
	Command string
}

// Combined returns stdout and stderr joined, for marker scanning.
func (r Result) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// CLI invokes the specflow binary as a subprocess.
type CLI struct {
	// Binary is the path to the tool. Default: "specflow" (PATH lookup).
	Binary string

	// Timeout is the per-command timeout. Default: 30 minutes.
	Timeout time.Duration

	// Env contains additional environment variables, appended to os.Environ().
	Env []string

	logger *slog.Logger
}

// NewCLI creates a CLI with the given binary and timeout.
func NewCLI(binary string, timeout time.Duration, logger *slog.Logger) *CLI {
	if binary == "" {
		binary = "specflow"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &CLI{Binary: binary, Timeout: timeout, logger: logger}
}

// WithEnv adds environment variables for command execution.
func (c *CLI) WithEnv(env ...string) *CLI {
	c.Env = append(c.Env, env...)
	return c
}

// Execute runs the tool in dir with args. A non-zero exit or timeout returns an
// error alongside the populated Result.
func (c *CLI) Execute(ctx context.Context, dir string, args ...string) (Result, error) {
	start := time.Now()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Env, c.Env...)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	cmdStr := c.Binary + " " + strings.Join(args, " ")
	c.logger.Debug("running specflow", "command", cmdStr, "dir", dir)

	err := cmd.Run()
	result := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
		Command:  cmdStr,
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%w after %v: %s", ErrTimeout, c.Timeout, cmdStr)
		}
		return result, fmt.Errorf("command failed (exit %d): %s: %w", result.ExitCode, cmdStr, err)
	}
	return result, nil
}

// RunPhase runs `specflow <phase> <featureID>` in dir.
func (c *CLI) RunPhase(ctx context.Context, dir, phase, featureID string) (Result, error) {
	return c.Execute(ctx, dir, phase, featureID)
}

// Eval scores file against rubric with `specflow eval run --json`.
func (c *CLI) Eval(ctx context.Context, dir, file, rubric string) (EvalResult, error) {
	res, err := c.Execute(ctx, dir, "eval", "run", "--file", file, "--rubric", rubric, "--json")
	if err != nil {
		return EvalResult{}, fmt.Errorf("eval %s: %w", file, err)
	}
	return ParseEvalOutput(res.Stdout)
}

// Init bootstraps the tool's feature database in dir.
func (c *CLI) Init(ctx context.Context, dir string, opts InitOptions) (Result, error) {
	return c.Execute(ctx, dir, opts.Args()...)
}

// Add registers a feature with the tool.
func (c *CLI) Add(ctx context.Context, dir, featureID, name string) (Result, error) {
	args := []string{"add", featureID}
	if name != "" {
		args = append(args, name)
	}
	return c.Execute(ctx, dir, args...)
}

// InitMode selects how `specflow init` seeds its database.
type InitMode int

// Init modes, in order of preference.
const (
	InitFromFeatures InitMode = iota
	InitFromSpecs
	InitMinimal
)

// String names the mode for logs.
func (m InitMode) String() string {
	switch m {
	case InitFromFeatures:
		return "from-features"
	case InitFromSpecs:
		return "from-specs"
	default:
		return "minimal"
	}
}

// InitOptions parameterize `specflow init`.
type InitOptions struct {
	Mode InitMode

	// Source is the features file (InitFromFeatures) or specs dir (InitFromSpecs).
	Source string
}

// Args returns the CLI arguments for the init call.
func (o InitOptions) Args() []string {
	switch o.Mode {
	case InitFromFeatures:
		return []string{"init", "--from-features", o.Source}
	case InitFromSpecs:
		return []string{"init", "--from-specs", o.Source}
	default:
		return []string{"init"}
	}
}
