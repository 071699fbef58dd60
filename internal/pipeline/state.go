package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"heartbeat/internal/store"
)

// ItemPrefix starts the id of every pipeline work item.
const ItemPrefix = "specflow-"

// PhaseState is the metadata carried by every pipeline work item. Items are
// never updated in place: each phase, and each retry of a phase, gets a new
// item whose state is derived from the one before it.
type PhaseState struct {
	FeatureID   string `json:"featureId"`
	ProjectID   string `json:"projectId"`
	FeatureName string `json:"featureName,omitempty"`
	Phase       string `json:"phase"`

	// WorktreePath is empty until the first phase creates the worktree.
	WorktreePath string `json:"worktreePath,omitempty"`
	MainBranch   string `json:"mainBranch,omitempty"`

	RetryCount   int    `json:"retryCount"`
	EvalFeedback string `json:"evalFeedback,omitempty"`

	// Originating issue, closed when the feature completes.
	IssueURL    string `json:"issueUrl,omitempty"`
	IssueRepo   string `json:"issueRepo,omitempty"`
	IssueNumber int    `json:"issueNumber,omitempty"`
}

// ParseState decodes pipeline metadata from a work item.
func ParseState(raw json.RawMessage) (PhaseState, error) {
	var st PhaseState
	if len(raw) == 0 {
		return st, errors.New("work item has no pipeline metadata")
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode pipeline metadata: %w", err)
	}
	if st.FeatureID == "" {
		return st, errors.New("pipeline metadata missing featureId")
	}
	if st.Phase == "" {
		return st, errors.New("pipeline metadata missing phase")
	}
	return st, nil
}

// Marshal encodes the state for a work item's metadata.
func (s PhaseState) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline metadata: %w", err)
	}
	return data, nil
}

// IssueRef returns the reference a pull request uses to close the issue:
// owner/repo#N when known, else the issue URL.
func (s PhaseState) IssueRef() string {
	if s.IssueRepo != "" && s.IssueNumber > 0 {
		return fmt.Sprintf("%s#%d", s.IssueRepo, s.IssueNumber)
	}
	return s.IssueURL
}

// DisplayName is the feature name, or its id when unnamed.
func (s PhaseState) DisplayName() string {
	if s.FeatureName != "" {
		return s.FeatureName
	}
	return s.FeatureID
}

// ItemID returns the deterministic id for a feature phase:
// specflow-<featureId>-<phase>, with -retry<n> appended for retries.
func ItemID(featureID, phase string, retry int) string {
	id := ItemPrefix + featureID + "-" + phase
	if retry > 0 {
		id += fmt.Sprintf("-retry%d", retry)
	}
	return id
}

// StartRequest describes a feature entering the pipeline.
type StartRequest struct {
	FeatureID   string
	FeatureName string
	ProjectID   string
	MainBranch  string
	Priority    store.Priority
	IssueURL    string
	IssueRepo   string
	IssueNumber int
}

// StartItem builds the work item for the first phase of a feature.
func StartItem(g *Graph, req StartRequest) (store.NewWorkItem, error) {
	if strings.TrimSpace(req.FeatureID) == "" {
		return store.NewWorkItem{}, errors.New("feature id is required")
	}
	st := PhaseState{
		FeatureID:   req.FeatureID,
		ProjectID:   req.ProjectID,
		FeatureName: req.FeatureName,
		Phase:       g.First().Name,
		MainBranch:  req.MainBranch,
		IssueURL:    req.IssueURL,
		IssueRepo:   req.IssueRepo,
		IssueNumber: req.IssueNumber,
	}
	return buildItem(st, g.First(), req.Priority, req.ProjectID)
}

// NextItem builds the item for the phase after the current one. Retry state
// is reset; everything else is inherited.
func NextItem(cur store.WorkItem, st PhaseState, next Phase) (store.NewWorkItem, error) {
	st.Phase = next.Name
	st.RetryCount = 0
	st.EvalFeedback = ""
	return buildItem(st, next, cur.Priority, cur.Project)
}

// RetryItem builds the item that repeats the current phase with the gate's
// feedback attached.
func RetryItem(cur store.WorkItem, st PhaseState, phase Phase, score, threshold float64, feedback string) (store.NewWorkItem, error) {
	st.RetryCount++
	st.EvalFeedback = feedback

	item, err := buildItem(st, phase, cur.Priority, cur.Project)
	if err != nil {
		return item, err
	}
	item.Description += fmt.Sprintf(
		"\n\nRetry %d: the previous %s scored %.0f/100 (needs %.0f).\nEvaluator feedback:\n%s",
		st.RetryCount, phase.Artifact, score, threshold, feedback,
	)
	return item, nil
}

func buildItem(st PhaseState, phase Phase, priority store.Priority, project string) (store.NewWorkItem, error) {
	meta, err := st.Marshal()
	if err != nil {
		return store.NewWorkItem{}, err
	}
	if project == "" {
		project = st.ProjectID
	}
	title := fmt.Sprintf("%s %s: %s", st.FeatureID, phase.Name, st.DisplayName())
	if st.RetryCount > 0 {
		title += fmt.Sprintf(" (retry %d)", st.RetryCount)
	}
	return store.NewWorkItem{
		ID:          ItemID(st.FeatureID, phase.Name, st.RetryCount),
		Title:       title,
		Description: phase.Description,
		Project:     project,
		Source:      store.SourceSpecflow,
		SourceRef:   st.IssueURL,
		Priority:    priority,
		Metadata:    meta,
	}, nil
}
