// Package git provides shell-based wrappers for git and gh CLI commands.
// It uses os/exec instead of go-git so worktrees, SSH keys, signing config and
// gh authentication behave exactly as they do in the user's shell.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Common errors returned by git operations.
var (
	ErrNotGitRepository = errors.New("not a git repository")
	ErrGhNotInstalled   = errors.New("gh CLI is not installed or not in PATH")
	ErrNothingToCommit  = errors.New("nothing to commit")
)

// DefaultTimeout bounds every git/gh invocation that has no deadline of its own.
const DefaultTimeout = 5 * time.Minute

// Commander executes commands. This allows mocking in tests.
type Commander interface {
	RunInDir(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ShellCommander executes real shell commands.
type ShellCommander struct {
	// Timeout applies when ctx has no deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

// RunInDir executes a command in dir and returns trimmed stdout.
func (c *ShellCommander) RunInDir(ctx context.Context, dir, name string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s %s timed out: %w", name, firstArg(args), ctx.Err())
		}
		// Include stderr in error for debugging
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// Client wraps git and gh CLI operations. Every method takes the repository
// directory because heartbeat works across many worktrees at once.
type Client struct {
	commander Commander
}

// NewClient creates a client backed by the shell.
func NewClient() *Client {
	return &Client{commander: &ShellCommander{}}
}

// NewClientWithCommander creates a client with a custom commander (for testing).
func NewClientWithCommander(commander Commander) *Client {
	return &Client{commander: commander}
}

// IsRepository reports whether dir is inside a git work tree.
func (c *Client) IsRepository(ctx context.Context, dir string) bool {
	_, err := c.commander.RunInDir(ctx, dir, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// CurrentBranch returns the checked-out branch of dir.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.commander.RunInDir(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return out, nil
}

// IsClean reports whether dir has no uncommitted or untracked changes.
func (c *Client) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := c.commander.RunInDir(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("check clean state: %w", err)
	}
	return out == "", nil
}

// BranchExists reports whether a local branch exists in repo.
func (c *Client) BranchExists(ctx context.Context, repo, branch string) bool {
	_, err := c.commander.RunInDir(ctx, repo, "git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CommitAll stages everything in dir and commits it. It returns the new commit
// SHA, or "" when there was nothing to commit.
func (c *Client) CommitAll(ctx context.Context, dir, message string) (string, error) {
	if _, err := c.commander.RunInDir(ctx, dir, "git", "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	clean, err := c.IsClean(ctx, dir)
	if err != nil {
		return "", err
	}
	if clean {
		return "", nil
	}
	if _, err := c.commander.RunInDir(ctx, dir, "git", "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	sha, err := c.commander.RunInDir(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read commit sha: %w", err)
	}
	return sha, nil
}

// Push pushes branch to remote and sets upstream.
func (c *Client) Push(ctx context.Context, dir, remote, branch string) error {
	if remote == "" {
		remote = "origin"
	}
	if _, err := c.commander.RunInDir(ctx, dir, "git", "push", "-u", remote, branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// DiffSummary returns `git diff --stat base...HEAD` for dir.
func (c *Client) DiffSummary(ctx context.Context, dir, base string) (string, error) {
	out, err := c.commander.RunInDir(ctx, dir, "git", "diff", "--stat", base+"...HEAD")
	if err != nil {
		return "", fmt.Errorf("diff summary: %w", err)
	}
	return out, nil
}
