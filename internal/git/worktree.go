package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path     string
	Head     string
	Branch   string
	Bare     bool
	Detached bool
	Prunable bool
}

// AddWorktree checks out branch at path. The branch is created from base when it
// does not exist yet.
func (c *Client) AddWorktree(ctx context.Context, repo, path, branch, base string) error {
	args := []string{"worktree", "add"}
	if c.BranchExists(ctx, repo, branch) {
		args = append(args, path, branch)
	} else {
		args = append(args, "-b", branch, path)
		if base != "" {
			args = append(args, base)
		}
	}
	if _, err := c.commander.RunInDir(ctx, repo, "git", args...); err != nil {
		return fmt.Errorf("add worktree %s: %w", path, err)
	}
	return nil
}

// RemoveWorktree force-removes the worktree at path and prunes stale metadata.
func (c *Client) RemoveWorktree(ctx context.Context, repo, path string) error {
	if _, err := c.commander.RunInDir(ctx, repo, "git", "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", path, err)
	}
	if _, err := c.commander.RunInDir(ctx, repo, "git", "worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// ListWorktrees returns the worktrees registered in repo.
func (c *Client) ListWorktrees(ctx context.Context, repo string) ([]Worktree, error) {
	out, err := c.commander.RunInDir(ctx, repo, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return ParseWorktreeList(out), nil
}

// FindWorktree returns the worktree registered at path, or nil.
func (c *Client) FindWorktree(ctx context.Context, repo, path string) (*Worktree, error) {
	trees, err := c.ListWorktrees(ctx, repo)
	if err != nil {
		return nil, err
	}
	want := filepath.Clean(path)
	for _, wt := range trees {
		if filepath.Clean(wt.Path) == want {
			return &wt, nil
		}
	}
	return nil, nil
}

// ParseWorktreeList parses porcelain output into worktrees.
func ParseWorktreeList(out string) []Worktree {
	var (
		trees   []Worktree
		current *Worktree
	)
	flush := func() {
		if current != nil {
			trees = append(trees, *current)
			current = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			flush()
			current = &Worktree{Path: value}
		case "HEAD":
			if current != nil {
				current.Head = value
			}
		case "branch":
			if current != nil {
				current.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "bare":
			if current != nil {
				current.Bare = true
			}
		case "detached":
			if current != nil {
				current.Detached = true
			}
		case "prunable":
			if current != nil {
				current.Prunable = true
			}
		}
	}
	flush()
	return trees
}
