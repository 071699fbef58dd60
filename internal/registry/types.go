// Package registry maps project ids to local checkouts.
//
// The registry is a small YAML file (projects.yaml) listing every project that
// dispatch may launch agents in. Work items name a project id; the registry
// resolves it to the repository path used as the agent's working directory and
// as the source repository for feature worktrees.
//
// Key types:
//   - [Registry] - Loaded project table with lookup by id
//   - [Project] - One registered project
//   - [Writer] - Atomic updates to the registry file
package registry

import "errors"

// ErrProjectNotFound is returned when an id is not registered.
var ErrProjectNotFound = errors.New("project not found")

// Project is one registered repository.
type Project struct {
	// ID is the key referenced by work items. Filled from the YAML map key.
	ID string `yaml:"-" json:"id"`

	// Name is a display name.
	Name string `yaml:"name" json:"name"`

	// LocalPath is the repository checkout. Empty means the project cannot be dispatched.
	LocalPath string `yaml:"local_path" json:"localPath"`

	// MainBranch is the integration branch PRs target. Default: main.
	MainBranch string `yaml:"main_branch,omitempty" json:"mainBranch,omitempty"`
}

// Branch returns the main branch, defaulting to "main".
func (p Project) Branch() string {
	if p.MainBranch == "" {
		return "main"
	}
	return p.MainBranch
}

// File is the on-disk projects.yaml layout.
type File struct {
	Projects map[string]Project `yaml:"projects"`
}
