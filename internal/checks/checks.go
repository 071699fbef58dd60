// Package checks runs the periodic checklist conditions.
//
// An [Evaluator] returns quickly with a [CheckResult]. Evaluators that start
// background work also implement [Waiter]; [Runner.Run] reports every result
// first and then waits for that work so the process does not exit under it.
package checks

import (
	"context"
	"log/slog"
)

// Status is the outcome of one check.
type Status string

// Check statuses.
const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// CheckResult is what an evaluator reports.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Summary string `json:"summary"`
}

// Evaluator is one checklist condition.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context) CheckResult
}

// Waiter is implemented by evaluators that leave work running after Evaluate returns.
type Waiter interface {
	Wait()
}

// ReportFunc receives the results of a run before background work is awaited.
type ReportFunc func([]CheckResult)

// Runner evaluates a fixed set of evaluators.
type Runner struct {
	evaluators []Evaluator
	report     ReportFunc
	logger     *slog.Logger
}

// NewRunner creates a Runner. report may be nil.
func NewRunner(logger *slog.Logger, report ReportFunc, evaluators ...Evaluator) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{evaluators: evaluators, report: report, logger: logger.With("component", "checks")}
}

// Run evaluates every evaluator in order, reports the results, then waits for
// background work started by the evaluators.
func (r *Runner) Run(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, len(r.evaluators))
	for _, e := range r.evaluators {
		res := e.Evaluate(ctx)
		if res.Name == "" {
			res.Name = e.Name()
		}
		r.logger.Info("check evaluated", "check", res.Name, "status", string(res.Status), "summary", res.Summary)
		results = append(results, res)
	}

	if r.report != nil {
		r.report(results)
	}

	r.Wait()
	return results
}

// Wait blocks until every evaluator's background work has finished.
func (r *Runner) Wait() {
	for _, e := range r.evaluators {
		if w, ok := e.(Waiter); ok {
			w.Wait()
		}
	}
}
