package git

import (
	"context"
	"strings"
	"sync"
)

// MockCommander is a test double for Commander that records calls and returns
// configured responses.
type MockCommander struct {
	mu sync.Mutex

	// Calls records all commands that were executed.
	Calls []MockCall

	// Responses maps "name arg1 arg2" to the output/error for that command.
	Responses map[string]MockResponse

	// Prefixes maps a command prefix to a response when no exact key matches.
	Prefixes map[string]MockResponse
}

// MockCall records a single command invocation.
type MockCall struct {
	Dir  string
	Name string
	Args []string
}

// String renders the call as "name arg1 arg2".
func (c MockCall) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// MockResponse holds the output and error for a mocked command.
type MockResponse struct {
	Output string
	Error  error
}

// NewMockCommander creates a mock commander with no configured responses.
func NewMockCommander() *MockCommander {
	return &MockCommander{
		Responses: make(map[string]MockResponse),
		Prefixes:  make(map[string]MockResponse),
	}
}

// RunInDir implements Commander. Unconfigured commands succeed with empty output.
func (m *MockCommander) RunInDir(ctx context.Context, dir, name string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := MockCall{Dir: dir, Name: name, Args: args}
	m.Calls = append(m.Calls, call)

	key := call.String()
	if resp, ok := m.Responses[key]; ok {
		return resp.Output, resp.Error
	}
	for prefix, resp := range m.Prefixes {
		if strings.HasPrefix(key, prefix) {
			return resp.Output, resp.Error
		}
	}
	return "", nil
}

// SetResponse configures the response for an exact command.
func (m *MockCommander) SetResponse(cmd, output string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[cmd] = MockResponse{Output: output, Error: err}
}

// SetPrefixResponse configures the response for every command starting with prefix.
func (m *MockCommander) SetPrefixResponse(prefix, output string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prefixes[prefix] = MockResponse{Output: output, Error: err}
}

// Commands returns every call rendered as "name args".
func (m *MockCommander) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.String()
	}
	return out
}

// Ran reports whether a command with the given prefix was executed.
func (m *MockCommander) Ran(prefix string) bool {
	for _, c := range m.Commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
