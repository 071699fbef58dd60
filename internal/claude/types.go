// Package claude runs the Claude CLI as an agent subprocess.
//
// The CLI is invoked in print mode with stream-json output. Each stdout line is
// a JSON event; [Parser] turns them into [Event] values and [Launcher] folds
// them into an agent.Result whose Stdout is the session's final text.
//
// Key types:
//   - [Launcher]: agent.Launcher implementation over the CLI binary
//   - [Parser]: streaming JSON event parser
//   - [Event]: parsed event with convenience methods
package claude

// StreamEvent is a raw JSON event from the CLI's stream-json output.
type StreamEvent struct {
	Type          string          `json:"type"`
	Subtype       string          `json:"subtype,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Message       *MessageContent `json:"message,omitempty"`
	ToolUseResult *ToolResult     `json:"tool_use_result,omitempty"`

	// Result event fields.
	Result     string  `json:"result,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	CostUSD    float64 `json:"total_cost_usd,omitempty"`
}

// MessageContent holds the content blocks of an assistant message.
type MessageContent struct {
	Content []ContentBlock `json:"content,omitempty"`
}

// ContentBlock is one text or tool_use block.
type ContentBlock struct {
	Type  string     `json:"type"`
	Text  string     `json:"text,omitempty"`
	Name  string     `json:"name,omitempty"`
	Input *ToolInput `json:"input,omitempty"`
}

// ToolInput carries the tool parameters heartbeat logs.
type ToolInput struct {
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
}

// ToolResult is the output of a tool execution.
type ToolResult struct {
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// EventType is the kind of a stream event.
type EventType string

// Event types in stream order: system init, assistant/user turns, final result.
const (
	EventTypeSystem    EventType = "system"
	EventTypeAssistant EventType = "assistant"
	EventTypeUser      EventType = "user"
	EventTypeResult    EventType = "result"
)

// SubtypeInit marks the system event that starts a session.
const SubtypeInit = "init"

// Event is a parsed stream event.
type Event struct {
	Raw     *StreamEvent
	Type    EventType
	Subtype string

	// Text is the assistant text block, if any.
	Text string

	// Tool invocation fields (assistant tool_use blocks).
	ToolName        string
	ToolDescription string
	ToolCommand     string
	ToolFilePath    string

	// Tool output fields (user events).
	ToolStdout      string
	ToolStderr      string
	ToolInterrupted bool

	SessionID       string
	SessionStarted  bool
	SessionComplete bool

	// ResultText is the session's final answer (result events).
	ResultText string

	// IsError is set on result events when the session failed.
	IsError bool
}

// NewEventFromStream converts a raw event.
func NewEventFromStream(raw *StreamEvent) Event {
	e := Event{
		Raw:       raw,
		Type:      EventType(raw.Type),
		Subtype:   raw.Subtype,
		SessionID: raw.SessionID,
	}

	switch e.Type {
	case EventTypeSystem:
		e.SessionStarted = raw.Subtype == SubtypeInit

	case EventTypeAssistant:
		if raw.Message == nil {
			break
		}
		for _, block := range raw.Message.Content {
			switch block.Type {
			case "text":
				e.Text = block.Text
			case "tool_use":
				e.ToolName = block.Name
				if block.Input != nil {
					e.ToolDescription = block.Input.Description
					e.ToolCommand = block.Input.Command
					e.ToolFilePath = block.Input.FilePath
				}
			}
		}

	case EventTypeUser:
		if raw.ToolUseResult != nil {
			e.ToolStdout = raw.ToolUseResult.Stdout
			e.ToolStderr = raw.ToolUseResult.Stderr
			e.ToolInterrupted = raw.ToolUseResult.Interrupted
		}

	case EventTypeResult:
		e.SessionComplete = true
		e.ResultText = raw.Result
		e.IsError = raw.IsError
	}

	return e
}

// IsText reports an assistant text event.
func (e Event) IsText() bool {
	return e.Type == EventTypeAssistant && e.Text != ""
}

// IsToolUse reports an assistant tool invocation.
func (e Event) IsToolUse() bool {
	return e.Type == EventTypeAssistant && e.ToolName != ""
}

// IsToolResult reports tool output returned to the agent.
func (e Event) IsToolResult() bool {
	return e.Type == EventTypeUser && (e.ToolStdout != "" || e.ToolStderr != "")
}
