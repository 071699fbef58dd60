package claude

import (
	"bufio"
	"encoding/json"
	"io"
)

// defaultBufferSize caps a single JSON line; tool results can carry whole files.
const defaultBufferSize = 10 * 1024 * 1024

// Parser reads stream-json output and emits events.
//
// The returned channel closes at EOF or on a read error. Blank lines and lines
// that are not JSON (the CLI occasionally prints warnings) are skipped.
type Parser interface {
	Parse(reader io.Reader) <-chan Event
}

// DefaultParser implements [Parser] with a line scanner.
type DefaultParser struct {
	// BufferSize is the maximum line length. Defaults to 10MB when <= 0.
	BufferSize int
}

// NewParser creates a [DefaultParser] with the default buffer size.
func NewParser() *DefaultParser {
	return &DefaultParser{BufferSize: defaultBufferSize}
}

// Parse starts a goroutine that scans reader and sends each parsed event.
// The caller must drain the channel.
func (p *DefaultParser) Parse(reader io.Reader) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		bufSize := p.BufferSize
		if bufSize <= 0 {
			bufSize = defaultBufferSize
		}
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), bufSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var raw StreamEvent
			if err := json.Unmarshal(line, &raw); err != nil {
				continue
			}
			events <- NewEventFromStream(&raw)
		}
	}()

	return events
}

// ParseSingle parses one stream-json line. Unlike Parse it reports malformed input.
func ParseSingle(line string) (Event, error) {
	var raw StreamEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, err
	}
	return NewEventFromStream(&raw), nil
}
