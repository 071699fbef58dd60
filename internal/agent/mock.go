package agent

import (
	"context"
	"sync"
)

// MockLauncher implements [Launcher] for testing.
//
// Configure Results (consumed in order) or set Handler for dynamic behavior.
// When neither is set, every launch succeeds with exit code 0.
type MockLauncher struct {
	mu sync.Mutex

	// Results are returned in order, one per launch. The last entry repeats.
	Results []Result

	// Err is returned from every launch when set.
	Err error

	// Handler, when set, decides each launch.
	Handler func(req Request) (Result, error)

	// Requests records every launch.
	Requests []Request
}

// Launch records the request and returns the configured outcome.
func (m *MockLauncher) Launch(ctx context.Context, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.Requests)
	m.Requests = append(m.Requests, req)

	if m.Handler != nil {
		return m.Handler(req)
	}
	if m.Err != nil {
		return Result{}, m.Err
	}
	if len(m.Results) == 0 {
		return Result{}, nil
	}
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	}
	return m.Results[idx], nil
}

// Calls returns the number of launches so far.
func (m *MockLauncher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
