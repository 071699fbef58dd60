package pipeline

import (
	"errors"
	"fmt"

	"heartbeat/internal/manifest"
)

// Phase names of the built-in feature pipeline.
const (
	PhaseSpecify   = "specify"
	PhasePlan      = "plan"
	PhaseTasks     = "tasks"
	PhaseImplement = "implement"
	PhaseComplete  = "complete"
)

// Sentinel errors for phase routing.
var (
	// ErrPipelineComplete indicates the phase has no successor. Callers should
	// treat the feature as finished rather than as a failure.
	ErrPipelineComplete = errors.New("pipeline complete, no next phase")

	// ErrUnknownPhase indicates a phase name the graph does not contain,
	// usually a typo in a manifest or in hand-written item metadata.
	ErrUnknownPhase = errors.New("unknown phase")
)

// Phase describes one step of the feature pipeline.
type Phase struct {
	// Name is passed to the phase tool as `specflow <name> <featureId>`.
	Name string

	// Artifact is the document the phase must leave in the feature directory.
	// Empty for phases that produce none.
	Artifact string

	// Gated phases must pass the quality gate before the chain advances.
	Gated bool

	// Rubric is the eval rubric for gated phases.
	Rubric string

	// Next is the following phase. Empty for the last phase.
	Next string

	// Description is included in the work item created for the phase.
	Description string
}

// Graph routes pipeline phases.
//
// Create with [DefaultGraph] for the built-in specify -> plan -> tasks ->
// implement -> complete chain, or [GraphFromManifest] to load the chain from a
// phase manifest.
type Graph struct {
	phases []Phase
	index  map[string]int
}

// DefaultGraph returns the built-in pipeline. rubrics maps gated phase names to
// eval rubrics; missing entries fall back to <phase>-quality.
func DefaultGraph(rubrics map[string]string) *Graph {
	g, _ := newGraph([]Phase{
		{Name: PhaseSpecify, Artifact: "spec.md", Gated: true, Next: PhasePlan,
			Description: "Write the feature specification (spec.md)."},
		{Name: PhasePlan, Artifact: "plan.md", Gated: true, Next: PhaseTasks,
			Description: "Write the implementation plan (plan.md)."},
		{Name: PhaseTasks, Artifact: "tasks.md", Next: PhaseImplement,
			Description: "Break the plan into tasks (tasks.md)."},
		{Name: PhaseImplement, Next: PhaseComplete,
			Description: "Implement the tasks and open a pull request."},
		{Name: PhaseComplete,
			Description: "Verify the feature, close its issue and clean up."},
	}, rubrics)
	return g
}

// GraphFromManifest builds a graph from a phase manifest. Rubrics named in the
// manifest win over the rubrics map.
//
// Returns [ErrUnknownPhase] when a next_phase names a phase the manifest does
// not define.
func GraphFromManifest(m *manifest.Manifest, rubrics map[string]string) (*Graph, error) {
	phases := make([]Phase, 0, len(m.Entries))
	for _, e := range m.Entries {
		phases = append(phases, Phase{
			Name:        e.Phase,
			Artifact:    e.Artifact,
			Gated:       e.Gated,
			Rubric:      e.Rubric,
			Next:        e.NextPhase,
			Description: e.Description,
		})
	}
	return newGraph(phases, rubrics)
}

func newGraph(phases []Phase, rubrics map[string]string) (*Graph, error) {
	g := &Graph{index: make(map[string]int, len(phases))}
	for i, p := range phases {
		if _, dup := g.index[p.Name]; dup {
			return nil, fmt.Errorf("phase %q defined twice", p.Name)
		}
		if p.Gated && p.Rubric == "" {
			p.Rubric = rubrics[p.Name]
			if p.Rubric == "" {
				p.Rubric = p.Name + "-quality"
			}
		}
		g.index[p.Name] = i
		g.phases = append(g.phases, p)
	}
	for _, p := range g.phases {
		if p.Next == "" {
			continue
		}
		if _, ok := g.index[p.Next]; !ok {
			return nil, fmt.Errorf("%w: %q follows %q", ErrUnknownPhase, p.Next, p.Name)
		}
	}
	return g, nil
}

// First returns the phase a new feature starts in.
func (g *Graph) First() Phase {
	return g.phases[0]
}

// Get returns the named phase or [ErrUnknownPhase].
func (g *Graph) Get(name string) (Phase, error) {
	i, ok := g.index[name]
	if !ok {
		return Phase{}, fmt.Errorf("%w: %q", ErrUnknownPhase, name)
	}
	return g.phases[i], nil
}

// Next returns the phase chained after name.
//
// Returns [ErrPipelineComplete] for the last phase (caller should stop, not fail).
// Returns [ErrUnknownPhase] for unrecognized names.
func (g *Graph) Next(name string) (Phase, error) {
	p, err := g.Get(name)
	if err != nil {
		return Phase{}, err
	}
	if p.Next == "" {
		return Phase{}, ErrPipelineComplete
	}
	return g.Get(p.Next)
}

// Remaining returns the phases from name through the end of the chain.
func (g *Graph) Remaining(name string) ([]Phase, error) {
	p, err := g.Get(name)
	if err != nil {
		return nil, err
	}
	steps := []Phase{p}
	seen := map[string]bool{p.Name: true}
	for p.Next != "" && !seen[p.Next] {
		p, _ = g.Get(p.Next)
		seen[p.Name] = true
		steps = append(steps, p)
	}
	return steps, nil
}

// Names returns the phase names in definition order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.phases))
	for i, p := range g.phases {
		names[i] = p.Name
	}
	return names
}
