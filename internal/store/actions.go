package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetsentry/sentinel/internal/actions"
	"github.com/fleetsentry/sentinel/internal/models"
	"github.com/google/uuid"
)

// ActionStore implements actions.Store over the sqlite actions table. Every
// mutation is a single UPDATE ... WHERE status = ? statement, so a racing
// caller observes either the old row or the new one, never an invalid
// intermediate one (§5: "acquires a read of the current row, validates the
// transition, and writes in a single statement").
type ActionStore struct {
	store *Store
}

// NewActionStore wraps store for use as an actions.Store.
func NewActionStore(store *Store) *ActionStore {
	return &ActionStore{store: store}
}

var _ actions.Store = (*ActionStore)(nil)

// InsertAction creates a new pending action row, generating an id if the
// caller left it empty.
func (a *ActionStore) InsertAction(ctx context.Context, action models.Action) (*models.Action, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.ActionPending
	}
	_, err := a.store.db.ExecContext(ctx, `
		INSERT INTO actions (id, insight_id, endpoint_id, container_id, container_name, action_type, rationale, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, action.ID, nullableString(action.InsightID), action.EndpointID, action.ContainerID,
		action.ContainerName, string(action.ActionType), action.Rationale, string(action.Status), time.Now())
	if err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}
	return a.GetAction(ctx, action.ID)
}

// GetAction reads a single action row by id.
func (a *ActionStore) GetAction(ctx context.Context, id string) (*models.Action, error) {
	row := a.store.db.QueryRowContext(ctx, `
		SELECT id, insight_id, endpoint_id, container_id, container_name, action_type, rationale, status,
		       approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
		       executed_at, completed_at, execution_result, execution_duration_ms
		FROM actions WHERE id = ?
	`, id)
	act, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, actions.ErrNotFound
	}
	return act, err
}

// UpdateAction applies mutate to the row iff its current status still
// equals expectedStatus, failing with a conflict otherwise.
func (a *ActionStore) UpdateAction(ctx context.Context, id string, expectedStatus models.ActionStatus, mutate func(*models.Action)) (*models.Action, error) {
	tx, err := a.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update action: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, insight_id, endpoint_id, container_id, container_name, action_type, rationale, status,
		       approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
		       executed_at, completed_at, execution_result, execution_duration_ms
		FROM actions WHERE id = ?
	`, id)
	current, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, actions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read action for update: %w", err)
	}
	if current.Status != expectedStatus {
		return nil, &actions.ConflictError{ActionID: id, CurrentStatus: current.Status}
	}

	mutate(current)

	res, err := tx.ExecContext(ctx, `
		UPDATE actions SET status = ?, approved_by = ?, approved_at = ?, rejected_by = ?, rejected_at = ?,
		       rejection_reason = ?, executed_at = ?, completed_at = ?, execution_result = ?, execution_duration_ms = ?
		WHERE id = ? AND status = ?
	`, string(current.Status), nullableString(current.ApprovedBy), current.ApprovedAt,
		nullableString(current.RejectedBy), current.RejectedAt, nullableString(current.RejectionReason),
		current.ExecutedAt, current.CompletedAt, nullableString(current.ExecutionResult),
		nullableDuration(current.ExecutionDurationMs), id, string(expectedStatus))
	if err != nil {
		return nil, fmt.Errorf("update action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update action rows affected: %w", err)
	}
	if n == 0 {
		// Raced with a concurrent writer between the read and the CAS write.
		return nil, &actions.ConflictError{ActionID: id, CurrentStatus: expectedStatus}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update action: %w", err)
	}
	return current, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*models.Action, error) {
	var a models.Action
	var insightID, approvedBy, rejectedBy, rejectionReason, executionResult sql.NullString
	var approvedAt, rejectedAt, executedAt, completedAt sql.NullTime
	var durationMs sql.NullInt64

	if err := row.Scan(&a.ID, &insightID, &a.EndpointID, &a.ContainerID, &a.ContainerName, &a.ActionType,
		&a.Rationale, &a.Status, &approvedBy, &approvedAt, &rejectedBy, &rejectedAt, &rejectionReason,
		&executedAt, &completedAt, &executionResult, &durationMs); err != nil {
		return nil, err
	}

	a.InsightID = insightID.String
	a.ApprovedBy = approvedBy.String
	a.RejectedBy = rejectedBy.String
	a.RejectionReason = rejectionReason.String
	a.ExecutionResult = executionResult.String
	if approvedAt.Valid {
		a.ApprovedAt = &approvedAt.Time
	}
	if rejectedAt.Valid {
		a.RejectedAt = &rejectedAt.Time
	}
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		a.ExecutionDurationMs = durationMs.Int64
	}
	return &a, nil
}

func nullableDuration(ms int64) interface{} {
	if ms == 0 {
		return nil
	}
	return ms
}
