package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-approval-api/internal/models"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
)

func newApprovalRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestApprovalRepositoryGetCurrent(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	rows := sqlmock.NewRows([]string{"enrollment_id", "status", "updated_at"}).
		AddRow("enr-100", models.StatusRegistered, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT enrollment_id, status, updated_at FROM enrollment_approvals WHERE enrollment_id = $1")).
		WithArgs("enr-100").
		WillReturnRows(rows)

	approval, err := repo.GetCurrent(context.Background(), "enr-100")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, approval.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryGetCurrentNotFound(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectQuery("SELECT enrollment_id, status, updated_at FROM enrollment_approvals").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCurrent(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApprovalRepositoryAppendTransition(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_approvals SET status =").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_transitions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record := &models.TransitionRecord{
		ToStatus:  models.StatusAdvisorApproved,
		ActorRole: models.RoleAdvisor,
		ActorID:   "adv-1",
	}
	approval, err := repo.AppendTransition(context.Background(), "enr-100", models.StatusRegistered, record)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAdvisorApproved, approval.Status)
	assert.Equal(t, "enr-100", record.EnrollmentID)
	assert.Equal(t, models.StatusRegistered, record.FromStatus)
	assert.False(t, record.OccurredAt.IsZero())
	assert.NotEmpty(t, record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryAppendTransitionConflict(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_approvals SET status =").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM enrollment_approvals").
		WithArgs("enr-100").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	record := &models.TransitionRecord{ToStatus: models.StatusCancelled, ActorRole: models.RoleAdmin, ActorID: "adm-1"}
	_, err := repo.AppendTransition(context.Background(), "enr-100", models.StatusRegistered, record)
	require.True(t, errors.Is(err, appErrors.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryAppendTransitionNotFound(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_approvals SET status =").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM enrollment_approvals").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	record := &models.TransitionRecord{ToStatus: models.StatusCancelled, ActorRole: models.RoleAdmin, ActorID: "adm-1"}
	_, err := repo.AppendTransition(context.Background(), "missing", models.StatusRegistered, record)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApprovalRepositoryAppendTransitionRollsBackOnInsertError(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enrollment_approvals SET status =").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_transitions").
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	record := &models.TransitionRecord{ToStatus: models.StatusAdvisorApproved, ActorRole: models.RoleAdvisor, ActorID: "adv-1"}
	_, err := repo.AppendTransition(context.Background(), "enr-100", models.StatusRegistered, record)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryCreateConflict(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	mock.ExpectExec("INSERT INTO enrollment_approvals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Create(context.Background(), "enr-100")
	require.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestApprovalRepositoryHistory(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()
	repo := NewApprovalRepository(db)

	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "from_status", "to_status", "actor_role", "actor_id", "reason", "occurred_at"}).
		AddRow("t-1", "enr-103", models.StatusRegistered, models.StatusAdvisorApproved, models.RoleAdvisor, "adv-1", nil, time.Now()).
		AddRow("t-2", "enr-103", models.StatusAdvisorApproved, models.StatusCancelled, models.RoleAdmin, "adm-1", nil, time.Now())
	mock.ExpectQuery("SELECT id, enrollment_id, from_status, to_status, actor_role, actor_id, reason, occurred_at").
		WithArgs("enr-103").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM approval_transitions")).
		WithArgs("enr-103").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	records, total, err := repo.History(context.Background(), "enr-103", 1, 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, total)
	assert.Equal(t, models.StatusCancelled, records[1].ToStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}
