package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Writer persists a registry to its YAML file.
type Writer struct {
	path string
}

// NewWriter creates a Writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Save writes every project in r.
func (w *Writer) Save(r *Registry) error {
	f := File{Projects: make(map[string]Project, len(r.projects))}
	for id, p := range r.projects {
		f.Projects[id] = p
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to marshal project registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to write project registry: %w", err)
	}

	// Write atomically (write to temp, then rename)
	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write project registry: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write project registry: %w", err)
	}
	return nil
}

// AddProject loads the registry, registers p and saves it.
func (w *Writer) AddProject(p Project) error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	r, err := Load(w.path)
	if err != nil {
		return err
	}
	r.Put(p)
	return w.Save(r)
}
