package specflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock implements the tool operations for tests.
//
// Phase outcomes are keyed by phase name; unconfigured phases succeed with
// empty output. PhaseResults entries are consumed in order, so a second call
// for the same phase can behave differently (used by repair retries).
type Mock struct {
	mu sync.Mutex

	// PhaseResults maps phase -> sequential outcomes.
	PhaseResults map[string][]MockOutcome

	// EvalResults maps rubric -> result. EvalErr fails every eval.
	EvalResults map[string]EvalResult
	EvalErr     error

	// InitErr fails init calls whose mode is listed.
	InitErr map[InitMode]error

	// OnPhase runs before a phase returns, e.g. to write the expected artifact.
	OnPhase func(dir, phase, featureID string)

	// Calls records every invocation as "verb args".
	Calls []string

	phaseIdx map[string]int
}

// MockOutcome is one scripted phase result.
type MockOutcome struct {
	Result Result
	Err    error
}

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{
		PhaseResults: map[string][]MockOutcome{},
		EvalResults:  map[string]EvalResult{},
		InitErr:      map[InitMode]error{},
		phaseIdx:     map[string]int{},
	}
}

// FailPhase scripts the next call of phase to fail with output.
func (m *Mock) FailPhase(phase, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PhaseResults[phase] = append(m.PhaseResults[phase], MockOutcome{
		Result: Result{Stdout: output, ExitCode: 1},
		Err:    fmt.Errorf("command failed (exit 1): specflow %s", phase),
	})
}

// SucceedPhase scripts the next call of phase to succeed with stdout.
func (m *Mock) SucceedPhase(phase, stdout string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PhaseResults[phase] = append(m.PhaseResults[phase], MockOutcome{Result: Result{Stdout: stdout}})
}

func (m *Mock) record(parts ...string) {
	m.Calls = append(m.Calls, strings.Join(parts, " "))
}

// RunPhase returns the next scripted outcome for phase.
func (m *Mock) RunPhase(ctx context.Context, dir, phase, featureID string) (Result, error) {
	m.mu.Lock()
	m.record(phase, featureID)
	var out MockOutcome
	if script := m.PhaseResults[phase]; len(script) > 0 {
		idx := m.phaseIdx[phase]
		if idx >= len(script) {
			idx = len(script) - 1
		}
		out = script[idx]
		m.phaseIdx[phase]++
	}
	hook := m.OnPhase
	m.mu.Unlock()

	if hook != nil && out.Err == nil {
		hook(dir, phase, featureID)
	}
	return out.Result, out.Err
}

// Eval returns the configured result for rubric.
func (m *Mock) Eval(ctx context.Context, dir, file, rubric string) (EvalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("eval", file, rubric)
	if m.EvalErr != nil {
		return EvalResult{}, m.EvalErr
	}
	r, ok := m.EvalResults[rubric]
	if !ok {
		return EvalResult{Score: 100, RawScore: 1}, nil
	}
	return r, nil
}

// Init records the call and fails when the mode is configured to.
func (m *Mock) Init(ctx context.Context, dir string, opts InitOptions) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(opts.Args()...)
	if err := m.InitErr[opts.Mode]; err != nil {
		return Result{ExitCode: 1}, err
	}
	return Result{}, nil
}

// Add records the call.
func (m *Mock) Add(ctx context.Context, dir, featureID, name string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("add", featureID, name)
	return Result{}, nil
}

// Called reports whether any call starts with prefix.
func (m *Mock) Called(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// CallCount counts calls starting with prefix.
func (m *Mock) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
