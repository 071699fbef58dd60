package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// FileName is the registry file name searched during discovery.
const FileName = "projects.yaml"

// EnvPath overrides every other registry location.
const EnvPath = "HEARTBEAT_REGISTRY_PATH"

// ResolvePath discovers the projects.yaml location.
//
// Resolution order:
//  1. HEARTBEAT_REGISTRY_PATH environment variable (used as-is if set)
//  2. Explicit path parameter (if non-empty)
//  3. Auto-discovery: configDir/projects.yaml, then ./projects.yaml
//  4. Falls back to configDir/projects.yaml (empty registry until written)
func ResolvePath(configDir, path string) string {
	if envPath := os.Getenv(EnvPath); envPath != "" {
		return envPath
	}
	if path != "" {
		return path
	}

	candidates := []string{FileName}
	if configDir != "" {
		candidates = append([]string{filepath.Join(configDir, FileName)}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}

// Registry is a loaded project table.
type Registry struct {
	path     string
	projects map[string]Project
}

// Load reads the registry at path. A missing file yields an empty registry so a
// fresh install can still list and add projects.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, projects: map[string]Project{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project registry: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse project registry: %w", err)
	}
	for id, p := range f.Projects {
		p.ID = id
		r.projects[id] = p
	}
	return r, nil
}

// New builds an in-memory registry (tests and programmatic use).
func New(projects ...Project) *Registry {
	r := &Registry{projects: map[string]Project{}}
	for _, p := range projects {
		r.projects[p.ID] = p
	}
	return r
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// Get returns the project registered under id.
func (r *Registry) Get(id string) (*Project, error) {
	p, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return &p, nil
}

// List returns all projects sorted by id.
func (r *Registry) List() []Project {
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put adds or replaces a project in memory. Persist with [Writer.Save].
func (r *Registry) Put(p Project) {
	r.projects[p.ID] = p
}
