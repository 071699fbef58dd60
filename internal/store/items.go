package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const itemColumns = `id, title, description, project, source, source_ref, priority, status,
	claimed_by, last_error, metadata, created_at, updated_at`

// CreateWorkItem inserts a new available item. An existing id yields ErrDuplicate.
func (s *SQLiteStore) CreateWorkItem(ctx context.Context, in NewWorkItem) (*WorkItem, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid work item: %w", err)
	}
	metadata := "{}"
	if len(in.Metadata) > 0 {
		if !json.Valid(in.Metadata) {
			return nil, fmt.Errorf("invalid work item: metadata is not valid JSON")
		}
		metadata = string(in.Metadata)
	}

	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO work_items
			(id, title, description, project, source, source_ref, priority, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.Title, in.Description, in.Project, in.Source, in.SourceRef, int(in.Priority),
		StatusAvailable, metadata, now, now)
	if err != nil {
		return nil, fmt.Errorf("create work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create work item rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, in.ID)
	}
	return s.GetWorkItem(ctx, in.ID)
}

// GetWorkItem returns one item by id.
func (s *SQLiteStore) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// ListWorkItems returns items matching f, most urgent first, then oldest first.
func (s *SQLiteStore) ListWorkItems(ctx context.Context, f Filter) ([]WorkItem, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.Priority != nil {
		where = append(where, "priority = ?")
		args = append(args, int(*f.Priority))
	}
	if f.FeatureID != "" {
		where = append(where, "json_extract(metadata, '$.featureId') = ?")
		args = append(args, f.FeatureID)
	}

	query := `SELECT ` + itemColumns + ` FROM work_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC, rowid ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, *item)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}
	return items, nil
}

// FeatureLineage returns every item of one feature pipeline in creation order.
func (s *SQLiteStore) FeatureLineage(ctx context.Context, featureID string) ([]WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE json_extract(metadata, '$.featureId') = ?
		ORDER BY created_at ASC, rowid ASC
	`, featureID)
	if err != nil {
		return nil, fmt.Errorf("feature lineage: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, *item)
	}
	if err := checkRowsErr(rows); err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimWorkItem atomically moves an available item to claimed and opens an agent
// session. Losing the race yields ErrNotClaimable.
func (s *SQLiteStore) ClaimWorkItem(ctx context.Context, id, sessionID string) error {
	if id == "" {
		return fmt.Errorf("work item id is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("claim work item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE work_items
		SET status = ?, claimed_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusClaimed, sessionID, now, id, StatusAvailable)
	if err != nil {
		return fmt.Errorf("claim work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim work item rows affected: %w", err)
	}
	if affected == 0 {
		var status Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM work_items WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %s is %s", ErrNotClaimable, id, status)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agents (session_id, work_item_id, started_at) VALUES (?, ?, ?)
	`, sessionID, id, now); err != nil {
		return fmt.Errorf("register agent session: %w", err)
	}

	return tx.Commit()
}

// CompleteWorkItem marks an item completed and closes sessionID's agent session.
// Only the session holding the claim may complete it; any other session gets
// ErrClaimLost. Completing a completed item is a no-op.
func (s *SQLiteStore) CompleteWorkItem(ctx context.Context, id, sessionID string) error {
	return s.finish(ctx, id, sessionID, StatusCompleted)
}

// ReleaseWorkItem returns an item claimed by sessionID to available and closes
// that session. A claim held by another session yields ErrClaimLost and is left
// alone. Releasing an item that is not claimed is a no-op.
func (s *SQLiteStore) ReleaseWorkItem(ctx context.Context, id, sessionID string) error {
	return s.finish(ctx, id, sessionID, StatusAvailable)
}

// FailWorkItem parks an open item as failed with a reason. Completed items are left alone.
func (s *SQLiteStore) FailWorkItem(ctx context.Context, id, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail work item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET status = 'failed', claimed_by = '', last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('available', 'claimed', 'waiting_for_response')
	`, reason, now, id); err != nil {
		return fmt.Errorf("fail work item: %w", err)
	}
	if err := requireItem(ctx, tx, id); err != nil {
		return err
	}
	if err := endSessions(ctx, tx, id, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) finish(ctx context.Context, id, sessionID string, to Status) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE work_items SET status = ?, claimed_by = '', updated_at = ?
		WHERE id = ? AND status = ? AND claimed_by = ?
	`, to, now, id, StatusClaimed, sessionID)
	if err != nil {
		return fmt.Errorf("update work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update work item rows affected: %w", err)
	}
	if affected == 0 {
		var (
			status    Status
			claimedBy string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, claimed_by FROM work_items WHERE id = ?`, id).Scan(&status, &claimedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lookup work item: %w", err)
		}
		switch {
		case status == StatusClaimed:
			return fmt.Errorf("%w: %s is held by %s", ErrClaimLost, id, claimedBy)
		case to == StatusCompleted && status != StatusCompleted:
			return fmt.Errorf("%w: %s is %s", ErrClaimLost, id, status)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET ended_at = ? WHERE session_id = ? AND work_item_id = ? AND ended_at IS NULL
	`, now, sessionID, id); err != nil {
		return fmt.Errorf("end agent session: %w", err)
	}
	return tx.Commit()
}

func requireItem(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM work_items WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lookup work item: %w", err)
	}
	return nil
}

func endSessions(ctx context.Context, tx *sql.Tx, id, now string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET ended_at = ? WHERE work_item_id = ? AND ended_at IS NULL
	`, now, id); err != nil {
		return fmt.Errorf("end agent sessions: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*WorkItem, error) {
	var (
		item                 WorkItem
		priority             int
		status, metadata     string
		createdAt, updatedAt string
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &item.Project, &item.Source,
		&item.SourceRef, &priority, &status, &item.ClaimedBy, &item.LastError, &metadata,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	item.Priority = Priority(priority)
	item.Status = Status(status)
	if metadata != "" && metadata != "{}" {
		item.Metadata = json.RawMessage(metadata)
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}
