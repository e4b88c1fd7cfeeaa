package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

// RecipientRepository resolves notification delivery targets for an
// enrollment: the student and assigned advisor emails plus any device
// tokens the student registered for push delivery.
type RecipientRepository struct {
	db *sqlx.DB
}

// NewRecipientRepository constructs the repository.
func NewRecipientRepository(db *sqlx.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// ForEnrollment returns the delivery targets for one enrollment.
func (r *RecipientRepository) ForEnrollment(ctx context.Context, enrollmentID string) (*models.NotificationRecipient, error) {
	const query = `SELECT s.email AS student_email, COALESCE(a.email, '') AS advisor_email
        FROM enrollments e
        JOIN users s ON s.id = e.student_id
        LEFT JOIN advisor_assignments aa ON aa.enrollment_id = e.id
        LEFT JOIN users a ON a.id = aa.advisor_id
        WHERE e.id = $1`
	var recipient models.NotificationRecipient
	if err := r.db.GetContext(ctx, &recipient, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	const tokenQuery = `SELECT dt.token FROM device_tokens dt
        JOIN enrollments e ON e.student_id = dt.user_id
        WHERE e.id = $1 AND dt.revoked = FALSE`
	if err := r.db.SelectContext(ctx, &recipient.DeviceTokens, tokenQuery, enrollmentID); err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	return &recipient, nil
}
