package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"heartbeat/internal/agent"
	"heartbeat/internal/config"
)

// commandFunc builds the subprocess. Replaced in tests.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Launcher implements agent.Launcher by running the Claude CLI in print mode.
type Launcher struct {
	binary          string
	outputFormat    string
	model           string
	skipPermissions bool

	parser  Parser
	logger  *slog.Logger
	command commandFunc
}

// NewLauncher creates a Launcher from agent configuration.
func NewLauncher(cfg config.AgentConfig, logger *slog.Logger) *Launcher {
	return &Launcher{
		binary:          cfg.BinaryPath,
		outputFormat:    cfg.OutputFormat,
		model:           cfg.Model,
		skipPermissions: cfg.SkipPermissions,
		parser:          NewParser(),
		logger:          logger,
		command:         exec.CommandContext,
	}
}

// Args returns the CLI arguments for prompt.
func (l *Launcher) Args(prompt string) []string {
	var args []string
	if l.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, "-p", prompt, "--output-format", l.outputFormat)
	if l.outputFormat == "stream-json" {
		args = append(args, "--verbose")
	}
	if l.model != "" {
		args = append(args, "--model", l.model)
	}
	return args
}

// Launch runs the CLI in req.WorkDir and waits for it, bounded by req.Timeout.
func (l *Launcher) Launch(ctx context.Context, req agent.Request) (agent.Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	log := l.logger.With("session", req.SessionID, "dir", req.WorkDir)
	start := time.Now()

	cmd := l.command(ctx, l.binary, l.Args(req.Prompt)...)
	cmd.Dir = req.WorkDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	// Grandchildren can hold stdout open after a kill; stop waiting on them.
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		pw.Close()
		return agent.Result{}, fmt.Errorf("failed to start %s: %w", l.binary, err)
	}
	log.Info("agent started", "pid", cmd.Process.Pid)

	var (
		texts      []string
		resultText string
		hasResult  bool
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range l.parser.Parse(pr) {
			switch {
			case event.SessionStarted:
				log.Debug("agent session started", "claude_session", event.SessionID)
			case event.IsToolUse():
				log.Debug("agent tool use", "tool", event.ToolName, "description", event.ToolDescription)
			case event.IsText():
				texts = append(texts, event.Text)
			case event.SessionComplete:
				resultText = event.ResultText
				hasResult = true
			}
		}
		// Keep the writer unblocked if the parser stopped early.
		_, _ = io.Copy(io.Discard, pr)
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done

	res := agent.Result{
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if hasResult {
		res.Stdout = resultText
	} else {
		res.Stdout = strings.Join(texts, "\n")
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		log.Warn("agent timed out", "timeout", req.Timeout)
		return res, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			log.Warn("agent exited with error", "exit_code", res.ExitCode, "duration", res.Duration)
			return res, nil
		}
		return res, fmt.Errorf("failed waiting for %s: %w", l.binary, waitErr)
	}

	log.Info("agent finished", "duration", res.Duration)
	return res, nil
}
