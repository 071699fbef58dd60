package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
)

// GateDecision is the outcome of a quality gate.
type GateDecision int

const (
	// GatePassed advances the chain.
	GatePassed GateDecision = iota

	// GateRetry repeats the phase with the evaluator's feedback.
	GateRetry

	// GateExhausted ends the feature: the gate failed with no retries left.
	GateExhausted
)

// String names the decision for logs and events.
func (d GateDecision) String() string {
	switch d {
	case GatePassed:
		return "passed"
	case GateRetry:
		return "retry"
	default:
		return "exhausted"
	}
}

// Decide applies the threshold and retry budget to a normalized score.
func Decide(score, threshold float64, retryCount, maxRetries int) GateDecision {
	if score >= threshold {
		return GatePassed
	}
	if retryCount < maxRetries {
		return GateRetry
	}
	return GateExhausted
}

// gate evaluates the phase artifact and chains the next phase, schedules a
// retry, or stops the feature. Only an evaluation that could not run counts
// as a transient failure.
func (r *Runner) gate(ctx context.Context, run *phaseRun) bool {
	path := r.workspace.ArtifactPath(run.dir, run.st.FeatureID, run.phase.Artifact)
	file := path
	if rel, err := filepath.Rel(run.dir, path); err == nil {
		file = rel
	}

	result, err := r.tool.Eval(ctx, run.dir, file, run.phase.Rubric)
	if err != nil {
		run.log.Error("quality gate could not run", "rubric", run.phase.Rubric, "error", err)
		r.record(ctx, EventEvalFailed, run.item, run.sessionID, run.st, err.Error(),
			map[string]any{"rubric": run.phase.Rubric, "file": file})
		return false
	}
	r.metrics.GateScore(run.phase.Name, result.Score)

	decision := Decide(result.Score, r.cfg.EvalThreshold, run.st.RetryCount, r.cfg.MaxRetries)
	run.log.Info("quality gate evaluated", "score", result.Score, "threshold", r.cfg.EvalThreshold, "decision", decision.String())
	r.record(ctx, EventGateEvaluated, run.item, run.sessionID, run.st,
		fmt.Sprintf("%s scored %.0f/100 (%s)", run.phase.Artifact, result.Score, decision),
		map[string]any{
			"score":     result.Score,
			"rawScore":  result.RawScore,
			"threshold": r.cfg.EvalThreshold,
			"rubric":    run.phase.Rubric,
			"decision":  decision.String(),
		})

	switch decision {
	case GatePassed:
		return r.chain(ctx, run)
	case GateRetry:
		in, err := RetryItem(run.item, run.st, run.phase, result.Score, r.cfg.EvalThreshold, result.Feedback)
		if err != nil {
			r.record(ctx, EventChainFailed, run.item, run.sessionID, run.st, err.Error(), nil)
			return false
		}
		return r.create(ctx, run, in, EventRetryScheduled,
			fmt.Sprintf("retry %d of %s scheduled", run.st.RetryCount+1, run.phase.Name))
	default:
		run.log.Warn("quality gate retries exhausted, feature stopped", "retries", run.st.RetryCount)
		r.record(ctx, EventRetriesExhausted, run.item, run.sessionID, run.st,
			fmt.Sprintf("%s failed the quality gate after %d retries", run.phase.Name, run.st.RetryCount),
			map[string]any{"score": result.Score, "feedback": truncate(result.Feedback, maxOutput)})
		return true
	}
}
