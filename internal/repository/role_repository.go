package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

// RoleRepository answers the identity question for the approval
// workflow: in what role, if any, may this actor act on this
// enrollment. Admins and committee members act on every enrollment;
// advisors only on enrollments assigned to them; students are
// observers of their own enrollment.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository constructs the repository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// RoleOf resolves the actor's role with respect to one enrollment.
// sql.ErrNoRows means the actor has no standing at all.
func (r *RoleRepository) RoleOf(ctx context.Context, actorID, enrollmentID string) (models.UserRole, error) {
	const userQuery = `SELECT role FROM users WHERE id = $1 AND active = TRUE`
	var role models.UserRole
	if err := r.db.GetContext(ctx, &role, userQuery, actorID); err != nil {
		if err == sql.ErrNoRows {
			return "", err
		}
		return "", fmt.Errorf("resolve actor role: %w", err)
	}

	switch role {
	case models.RoleAdmin, models.RoleCommittee:
		return role, nil
	case models.RoleAdvisor:
		const assignedQuery = `SELECT 1 FROM advisor_assignments WHERE advisor_id = $1 AND enrollment_id = $2 LIMIT 1`
		var assigned int
		if err := r.db.GetContext(ctx, &assigned, assignedQuery, actorID, enrollmentID); err != nil {
			if err == sql.ErrNoRows {
				return "", err
			}
			return "", fmt.Errorf("check advisor assignment: %w", err)
		}
		return models.RoleAdvisor, nil
	case models.RoleStudent:
		const ownerQuery = `SELECT 1 FROM enrollments WHERE id = $1 AND student_id = $2 LIMIT 1`
		var owner int
		if err := r.db.GetContext(ctx, &owner, ownerQuery, enrollmentID, actorID); err != nil {
			if err == sql.ErrNoRows {
				return "", err
			}
			return "", fmt.Errorf("check enrollment ownership: %w", err)
		}
		return models.RoleStudent, nil
	}
	return "", sql.ErrNoRows
}
