// Package manifest reads phase manifest files.
//
// A phase manifest overrides the built-in feature pipeline: it lists each
// phase with the artifact it must produce, the rubric its quality gate uses,
// and the phase that follows it.
//
// CSV format:
//
//	phase,artifact,rubric,gated,next_phase,description
//	specify,spec.md,spec-quality,true,plan,Write the feature specification
//	plan,plan.md,plan-quality,true,tasks,Write the implementation plan
//	tasks,tasks.md,,false,implement,Break the plan into tasks
//	implement,,,false,complete,Implement the tasks
//	complete,,,false,,Verify and close the feature
//
// Rows are ordered by execution sequence. An empty next_phase ends the chain.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// PhaseEntry represents a single row in the phase manifest CSV.
type PhaseEntry struct {
	// Phase is the phase name passed to the phase-execution tool.
	Phase string

	// Artifact is the file the phase must leave in the feature directory.
	// Empty when the phase produces no document.
	Artifact string

	// Rubric names the evaluation rubric for gated phases.
	Rubric string

	// Gated marks phases whose artifact must pass the quality gate.
	Gated bool

	// NextPhase is the phase chained after success. Empty for the last phase.
	NextPhase string

	// Description is a human-readable summary, used in work item titles.
	Description string
}

// Manifest holds all phase entries parsed from a manifest CSV file.
type Manifest struct {
	// Entries are the phases in execution order.
	Entries []PhaseEntry
}

// ReadFromFile reads and parses a phase manifest CSV file from the OS filesystem.
func ReadFromFile(path string) (*Manifest, error) {
	return ReadFromFS(afero.NewOsFs(), path)
}

// ReadFromFS reads and parses a phase manifest CSV file from fs.
func ReadFromFS(fs afero.Fs, path string) (*Manifest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return readFromReader(f)
}

// ReadFromString parses a phase manifest from a CSV string.
func ReadFromString(data string) (*Manifest, error) {
	return readFromReader(strings.NewReader(data))
}

func readFromReader(r io.Reader) (*Manifest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}

	colIndex := buildColumnIndex(header)
	if err := validateColumns(colIndex); err != nil {
		return nil, err
	}

	var entries []PhaseEntry
	lineNum := 1
	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest line %d: %w", lineNum, err)
		}

		entry := PhaseEntry{
			Phase:       getField(record, colIndex, "phase"),
			Artifact:    getField(record, colIndex, "artifact"),
			Rubric:      getField(record, colIndex, "rubric"),
			NextPhase:   getField(record, colIndex, "next_phase"),
			Description: getField(record, colIndex, "description"),
		}
		if entry.Phase == "" {
			return nil, fmt.Errorf("manifest line %d: phase name is required", lineNum)
		}

		if gated := getField(record, colIndex, "gated"); gated != "" {
			entry.Gated, err = strconv.ParseBool(gated)
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: invalid gated value %q", lineNum, gated)
			}
		}

		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest contains no phase entries")
	}

	return &Manifest{Entries: entries}, nil
}

var requiredColumns = []string{"phase", "next_phase"}

func buildColumnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return index
}

func validateColumns(colIndex map[string]int) error {
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("manifest missing required column: %s", col)
		}
	}
	return nil
}

func getField(record []string, colIndex map[string]int, column string) string {
	idx, ok := colIndex[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Phases returns the phase names in execution order.
func (m *Manifest) Phases() []string {
	phases := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		phases = append(phases, e.Phase)
	}
	return phases
}

// GetPhaseEntry returns the entry for the named phase, or nil.
func (m *Manifest) GetPhaseEntry(name string) *PhaseEntry {
	for _, e := range m.Entries {
		if e.Phase == name {
			return &e
		}
	}
	return nil
}

// HasPhase returns true if the manifest contains the given phase.
func (m *Manifest) HasPhase(name string) bool {
	return m.GetPhaseEntry(name) != nil
}

// GatedPhases returns the phases that carry a quality gate.
func (m *Manifest) GatedPhases() []string {
	var phases []string
	for _, e := range m.Entries {
		if e.Gated {
			phases = append(phases, e.Phase)
		}
	}
	return phases
}
