package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-approval-api/internal/models"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
)

// ApprovalRepository is the durable record of each enrollment's current
// approval status together with its append-only transition history.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// GetCurrent returns the current approval row for an enrollment.
func (r *ApprovalRepository) GetCurrent(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	const query = `SELECT enrollment_id, status, updated_at FROM enrollment_approvals WHERE enrollment_id = $1`
	var approval models.EnrollmentApproval
	if err := r.db.GetContext(ctx, &approval, query, enrollmentID); err != nil {
		return nil, err
	}
	return &approval, nil
}

// Create inserts the initial REGISTERED row for an enrollment.
func (r *ApprovalRepository) Create(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO enrollment_approvals (enrollment_id, status, updated_at)
        VALUES ($1, $2, $3) ON CONFLICT (enrollment_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, enrollmentID, models.StatusRegistered, now)
	if err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, appErrors.ErrConflict
	}
	return &models.EnrollmentApproval{EnrollmentID: enrollmentID, Status: models.StatusRegistered, UpdatedAt: now}, nil
}

// AppendTransition commits a transition atomically: the current-status
// row and the audit row are written in one transaction, guarded by the
// expected status. A stale expectation returns ErrConflict so the
// caller can re-read and retry. occurred_at is assigned here, at commit
// time, so retried requests cannot reorder the history.
func (r *ApprovalRepository) AppendTransition(ctx context.Context, enrollmentID string, expected models.ApprovalStatus, record *models.TransitionRecord) (*models.EnrollmentApproval, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	const update = `UPDATE enrollment_approvals SET status = $3, updated_at = $4
        WHERE enrollment_id = $1 AND status = $2`
	res, err := tx.ExecContext(ctx, update, enrollmentID, expected, record.ToStatus, now)
	if err != nil {
		return nil, fmt.Errorf("update approval status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.GetContext(ctx, &exists, `SELECT 1 FROM enrollment_approvals WHERE enrollment_id = $1`, enrollmentID)
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		if err != nil {
			return nil, fmt.Errorf("check approval existence: %w", err)
		}
		return nil, appErrors.ErrConflict
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.EnrollmentID = enrollmentID
	record.FromStatus = expected
	record.OccurredAt = now

	const insert = `INSERT INTO approval_transitions (id, enrollment_id, from_status, to_status, actor_role, actor_id, reason, occurred_at)
        VALUES (:id, :enrollment_id, :from_status, :to_status, :actor_role, :actor_id, :reason, :occurred_at)`
	if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
		return nil, fmt.Errorf("append transition record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return &models.EnrollmentApproval{EnrollmentID: enrollmentID, Status: record.ToStatus, UpdatedAt: now}, nil
}

// History returns the ordered transition records for an enrollment with
// pagination metadata.
func (r *ApprovalRepository) History(ctx context.Context, enrollmentID string, page, pageSize int) ([]models.TransitionRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT id, enrollment_id, from_status, to_status, actor_role, actor_id, reason, occurred_at
        FROM approval_transitions WHERE enrollment_id = $1 ORDER BY occurred_at ASC LIMIT %d OFFSET %d`, pageSize, offset)
	var records []models.TransitionRecord
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID); err != nil {
		return nil, 0, fmt.Errorf("list transitions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM approval_transitions WHERE enrollment_id = $1`, enrollmentID); err != nil {
		return nil, 0, fmt.Errorf("count transitions: %w", err)
	}
	return records, total, nil
}
