package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PRRequest describes a pull request to open.
type PRRequest struct {
	Title string
	Body  string
	Base  string
	Head  string
}

// PRInfo is an opened pull request.
type PRInfo struct {
	URL    string
	Number int
	Title  string
	Branch string
	Base   string
}

// IsGhInstalled checks if the gh CLI is available.
func (c *Client) IsGhInstalled(ctx context.Context) bool {
	_, err := c.commander.RunInDir(ctx, "", "gh", "--version")
	return err == nil
}

// CreatePR opens a pull request from dir with gh.
func (c *Client) CreatePR(ctx context.Context, dir string, req PRRequest) (*PRInfo, error) {
	if !c.IsGhInstalled(ctx) {
		return nil, ErrGhNotInstalled
	}

	title := req.Title
	const maxTitleLen = 72
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}

	out, err := c.commander.RunInDir(ctx, dir, "gh", "pr", "create",
		"--title", title,
		"--body", req.Body,
		"--base", req.Base,
		"--head", req.Head,
	)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}

	url := lastLine(out)
	return &PRInfo{
		URL:    url,
		Number: trailingNumber(url),
		Title:  title,
		Branch: req.Head,
		Base:   req.Base,
	}, nil
}

// CloseIssue closes an issue with a comment. repo may be empty to use dir's remote.
func (c *Client) CloseIssue(ctx context.Context, dir, repo string, number int, comment string) error {
	args := []string{"issue", "close", strconv.Itoa(number)}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	if comment != "" {
		args = append(args, "--comment", comment)
	}
	if _, err := c.commander.RunInDir(ctx, dir, "gh", args...); err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func trailingNumber(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// GeneratePRBody formats a pull request body for a delivered feature.
func GeneratePRBody(summary string, artifacts []string, closes string) string {
	var sb strings.Builder

	sb.WriteString("## Summary\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n")

	if len(artifacts) > 0 {
		sb.WriteString("## Artifacts\n\n")
		for _, a := range artifacts {
			sb.WriteString("- `")
			sb.WriteString(a)
			sb.WriteString("`\n")
		}
		sb.WriteString("\n")
	}

	if closes != "" {
		sb.WriteString("Closes ")
		sb.WriteString(closes)
		sb.WriteString("\n\n")
	}

	sb.WriteString("---\n")
	sb.WriteString("*Generated by heartbeat*\n")
	return sb.String()
}
