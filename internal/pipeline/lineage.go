package pipeline

import (
	"sort"
	"time"

	"heartbeat/internal/store"
)

// Step is one work item in a feature's chain.
type Step struct {
	ItemID     string
	Phase      string
	RetryCount int
	Status     store.Status
	Feedback   string
	CreatedAt  time.Time
}

// Lineage is the reconstructed history of one feature.
type Lineage struct {
	FeatureID string
	Steps     []Step
}

// BuildLineage orders the feature's items by creation and drops items that
// carry no pipeline state or belong to another feature.
func BuildLineage(featureID string, items []store.WorkItem) Lineage {
	l := Lineage{FeatureID: featureID}
	for _, item := range items {
		st, err := ParseState(item.Metadata)
		if err != nil || st.FeatureID != featureID {
			continue
		}
		l.Steps = append(l.Steps, Step{
			ItemID:     item.ID,
			Phase:      st.Phase,
			RetryCount: st.RetryCount,
			Status:     item.Status,
			Feedback:   st.EvalFeedback,
			CreatedAt:  item.CreatedAt,
		})
	}
	sort.SliceStable(l.Steps, func(i, j int) bool {
		return l.Steps[i].CreatedAt.Before(l.Steps[j].CreatedAt)
	})
	return l
}

// Current returns the most recent step.
func (l Lineage) Current() (Step, bool) {
	if len(l.Steps) == 0 {
		return Step{}, false
	}
	return l.Steps[len(l.Steps)-1], true
}

// Done reports whether the feature's final phase has completed.
func (l Lineage) Done(g *Graph) bool {
	cur, ok := l.Current()
	if !ok || cur.Status != store.StatusCompleted {
		return false
	}
	p, err := g.Get(cur.Phase)
	return err == nil && p.Next == ""
}

// Stalled reports whether the newest item is completed but nothing was chained
// after it, which is how an exhausted retry budget or a failed chain looks.
func (l Lineage) Stalled(g *Graph) bool {
	cur, ok := l.Current()
	if !ok {
		return false
	}
	return cur.Status == store.StatusFailed || (cur.Status == store.StatusCompleted && !l.Done(g))
}

// Attempts counts the items created for phase.
func (l Lineage) Attempts(phase string) int {
	n := 0
	for _, s := range l.Steps {
		if s.Phase == phase {
			n++
		}
	}
	return n
}
