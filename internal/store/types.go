// Package store persists work items, the event log and the active-agent census
// in SQLite.
//
// The store is shared by every heartbeat invocation on the host. Claim is an
// atomic conditional update, so two processes racing for the same item cannot
// both win; complete and release are idempotent.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by store operations.
var (
	ErrNotFound     = errors.New("work item not found")
	ErrDuplicate    = errors.New("work item already exists")
	ErrNotClaimable = errors.New("work item is not available")
	ErrClaimLost    = errors.New("work item claim is not held by this session")
)

// Priority orders work; lower values are more urgent.
type Priority int

// Priority levels.
const (
	P0 Priority = iota
	P1
	P2
	P3
)

// String renders the priority as P0..P3.
func (p Priority) String() string {
	return fmt.Sprintf("P%d", int(p))
}

// ParsePriority accepts "P1", "p1" or "1".
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "P")
	switch s {
	case "0":
		return P0, nil
	case "1":
		return P1, nil
	case "2":
		return P2, nil
	case "3":
		return P3, nil
	}
	return 0, fmt.Errorf("invalid priority %q (want P0-P3)", s)
}

// Status is the lifecycle state of a work item.
type Status string

// Work item statuses.
const (
	StatusAvailable          Status = "available"
	StatusClaimed            Status = "claimed"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusWaitingForResponse Status = "waiting_for_response"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusClaimed, StatusCompleted, StatusFailed, StatusWaitingForResponse:
		return true
	}
	return false
}

// Well-known item sources.
const (
	SourceSpecflow = "specflow"
	SourceGitHub   = "github"
	SourceManual   = "manual"
)

// WorkItem is one unit of agent work.
type WorkItem struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Project     string          `json:"project,omitempty"`
	Source      string          `json:"source"`
	SourceRef   string          `json:"sourceRef,omitempty"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	ClaimedBy   string          `json:"claimedBy,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewWorkItem is the input to CreateWorkItem.
type NewWorkItem struct {
	ID          string          `validate:"required"`
	Title       string          `validate:"required"`
	Description string
	Project     string
	Source      string          `validate:"required"`
	SourceRef   string
	Priority    Priority        `validate:"gte=0,lte=3"`
	Metadata    json.RawMessage
}

// Filter narrows ListWorkItems. Zero values match everything.
type Filter struct {
	Status    Status
	Project   string
	Source    string
	Priority  *Priority
	FeatureID string
	Limit     int
}

// Event is one append-only log entry.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       string         `json:"type"`
	WorkItemID string         `json:"workItemId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Summary    string         `json:"summary"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	WorkItemID string
	Type       string
	Limit      int
}

// AgentSession is one launched agent, open until its item is completed or released.
type AgentSession struct {
	SessionID  string     `json:"sessionId"`
	WorkItemID string     `json:"workItemId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}
