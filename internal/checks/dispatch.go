package checks

import (
	"context"
	"log/slog"
	"sync"

	"heartbeat/internal/dispatch"
)

// Starter begins a dispatch without waiting for it.
type Starter interface {
	Start(ctx context.Context, opts dispatch.Options) <-chan dispatch.Outcome
}

// AgentDispatch is the checklist condition that kicks off a dispatch run.
type AgentDispatch struct {
	starter Starter
	opts    dispatch.Options
	logger  *slog.Logger

	mu       sync.Mutex
	pending  []<-chan dispatch.Outcome
	outcomes []dispatch.Outcome
}

// NewAgentDispatch creates the evaluator. A nil starter means the store could
// not be opened; every evaluation then reports an error.
func NewAgentDispatch(starter Starter, opts dispatch.Options, logger *slog.Logger) *AgentDispatch {
	if logger == nil {
		logger = slog.Default()
	}
	opts.FireAndForget = true
	return &AgentDispatch{starter: starter, opts: opts, logger: logger.With("check", "agent-dispatch")}
}

// Name implements [Evaluator].
func (a *AgentDispatch) Name() string {
	return "agent-dispatch"
}

// Evaluate starts a fire-and-forget dispatch and returns immediately.
func (a *AgentDispatch) Evaluate(ctx context.Context) CheckResult {
	if a.starter == nil {
		return CheckResult{Name: a.Name(), Status: StatusError, Summary: "work item store is not configured"}
	}

	ch := a.starter.Start(ctx, a.opts)
	a.mu.Lock()
	a.pending = append(a.pending, ch)
	a.mu.Unlock()

	return CheckResult{Name: a.Name(), Status: StatusOK, Summary: "dispatch started"}
}

// Wait blocks until every dispatch started by Evaluate has finished.
func (a *AgentDispatch) Wait() {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, ch := range pending {
		out, ok := <-ch
		if !ok {
			continue
		}
		if out.Err != nil {
			a.logger.Error("background dispatch failed", "error", out.Err)
		} else {
			a.logger.Info("background dispatch finished",
				"dispatched", len(out.Result.Dispatched),
				"skipped", len(out.Result.Skipped),
				"errors", len(out.Result.Errors))
		}
		a.mu.Lock()
		a.outcomes = append(a.outcomes, out)
		a.mu.Unlock()
	}
}

// Outcomes returns the dispatches collected by Wait.
func (a *AgentDispatch) Outcomes() []dispatch.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]dispatch.Outcome(nil), a.outcomes...)
}
