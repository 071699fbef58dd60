package pipeline

import (
	"context"
	"strings"

	"heartbeat/internal/store"
)

// Event types appended by the phase runner.
const (
	EventFeatureStarted   = "pipeline.feature_started"
	EventPhaseStarted     = "pipeline.phase_started"
	EventWorkspaceReady   = "pipeline.workspace_ready"
	EventWorkspaceFailed  = "pipeline.workspace_failed"
	EventPhaseFailed      = "pipeline.phase_failed"
	EventArtifactMissing  = "pipeline.artifact_missing"
	EventAgentFailed      = "pipeline.agent_failed"
	EventCommitFailed     = "pipeline.commit_failed"
	EventNothingToCommit  = "pipeline.nothing_to_commit"
	EventPushFailed       = "pipeline.push_failed"
	EventPROpened         = "pipeline.pr_opened"
	EventPRFailed         = "pipeline.pr_failed"
	EventEvalFailed       = "pipeline.eval_failed"
	EventGateEvaluated    = "pipeline.gate_evaluated"
	EventRetryScheduled   = "pipeline.retry_scheduled"
	EventRetriesExhausted = "pipeline.retries_exhausted"
	EventPhaseChained     = "pipeline.phase_chained"
	EventChainFailed      = "pipeline.chain_failed"
	EventRepairStarted    = "pipeline.repair_started"
	EventRepairFailed     = "pipeline.repair_failed"
	EventRepairSucceeded  = "pipeline.repair_succeeded"
	EventIssueCloseFailed = "pipeline.issue_close_failed"
	EventCleanupFailed    = "pipeline.worktree_cleanup_failed"
	EventFeatureCompleted = "pipeline.feature_completed"
	EventInvalidState     = "pipeline.invalid_state"
)

// maxOutput bounds tool output copied into event metadata.
const maxOutput = 500

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// record appends an event for the item, tagging it with the feature and phase.
// Store errors are logged, never returned: an unrecorded event must not change
// the phase outcome.
func (r *Runner) record(ctx context.Context, typ string, item store.WorkItem, sessionID string, st PhaseState, summary string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	if st.FeatureID != "" {
		meta["featureId"] = st.FeatureID
	}
	if st.Phase != "" {
		meta["phase"] = st.Phase
	}
	if st.RetryCount > 0 {
		meta["retryCount"] = st.RetryCount
	}
	err := r.store.AppendEvent(ctx, store.Event{
		Type:       typ,
		WorkItemID: item.ID,
		SessionID:  sessionID,
		Summary:    summary,
		Metadata:   meta,
	})
	if err != nil {
		r.logger.Warn("failed to append event", "type", typ, "item", item.ID, "error", err)
	}
}
