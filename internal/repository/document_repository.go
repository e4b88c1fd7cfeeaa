package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DocumentRepository is a thin view over the external document store:
// the workflow only asks whether the required paperwork for an
// enrollment has been uploaded and verified.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// HasRequiredDocuments reports whether every required document kind for
// the enrollment has at least one verified upload.
func (r *DocumentRepository) HasRequiredDocuments(ctx context.Context, enrollmentID string) (bool, error) {
	const query = `SELECT NOT EXISTS (
        SELECT 1 FROM required_documents rd
        WHERE NOT EXISTS (
            SELECT 1 FROM enrollment_documents ed
            WHERE ed.enrollment_id = $1 AND ed.kind = rd.kind AND ed.verified = TRUE
        )
    )`
	var complete bool
	if err := r.db.GetContext(ctx, &complete, query, enrollmentID); err != nil {
		return false, fmt.Errorf("check required documents: %w", err)
	}
	return complete, nil
}
