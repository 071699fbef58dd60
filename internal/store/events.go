package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendEvent writes one event. Missing id and timestamp are filled in.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e Event) error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	ts := s.timestamp()
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.UTC().Format(timeLayout)
	}
	metadata := "{}"
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		metadata = string(data)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, timestamp, type, work_item_id, session_id, summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, ts, e.Type, e.WorkItemID, e.SessionID, e.Summary, metadata); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns matching events oldest first. With a Limit, the newest Limit
// events are returned.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkItemID != "" {
		where = append(where, "work_item_id = ?")
		args = append(args, f.WorkItemID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}

	query := `SELECT id, timestamp, type, work_item_id, session_id, summary, metadata FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e            Event
			ts, metadata string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.WorkItemID, &e.SessionID, &e.Summary, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = parseTime(ts)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// CountActiveAgents returns the number of open agent sessions.
func (s *SQLiteStore) CountActiveAgents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE ended_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active agents: %w", err)
	}
	return n, nil
}

// ListActiveAgents returns open agent sessions, oldest first.
func (s *SQLiteStore) ListActiveAgents(ctx context.Context) ([]AgentSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, work_item_id, started_at FROM agents
		WHERE ended_at IS NULL ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()

	var sessions []AgentSession
	for rows.Next() {
		var (
			a       AgentSession
			started string
		)
		if err := rows.Scan(&a.SessionID, &a.WorkItemID, &started); err != nil {
			return nil, fmt.Errorf("scan agent session: %w", err)
		}
		a.StartedAt = parseTime(started)
		sessions = append(sessions, a)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ReapStaleAgents closes sessions older than olderThan and releases the items they
// still hold. It returns the number of sessions closed.
func (s *SQLiteStore) ReapStaleAgents(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan).UTC().Format(timeLayout)
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reap stale agents: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET status = 'available', claimed_by = '', updated_at = ?
		WHERE status = 'claimed' AND claimed_by IN (
			SELECT session_id FROM agents WHERE ended_at IS NULL AND started_at < ?
		)
	`, now, cutoff); err != nil {
		return 0, fmt.Errorf("release stale items: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE agents SET ended_at = ? WHERE ended_at IS NULL AND started_at < ?
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("close stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close stale sessions rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("reap stale agents: %w", err)
	}
	return int(n), nil
}
