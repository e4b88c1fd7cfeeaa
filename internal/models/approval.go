package models

import "time"

// ApprovalStatus represents the lifecycle of an internship/co-op
// approval. The set is closed: REGISTERED is the initial state,
// COMMITTEE_APPROVED, REJECTED and CANCELLED are terminal.
type ApprovalStatus string

// Possible approval statuses.
const (
	StatusRegistered        ApprovalStatus = "REGISTERED"
	StatusAdvisorApproved   ApprovalStatus = "ADVISOR_APPROVED"
	StatusCommitteeApproved ApprovalStatus = "COMMITTEE_APPROVED"
	StatusRejected          ApprovalStatus = "REJECTED"
	StatusCancelled         ApprovalStatus = "CANCELLED"
)

// Valid reports whether the status is a member of the closed set.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusRegistered, StatusAdvisorApproved, StatusCommitteeApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no approve/reject
// transitions. An administrative cancel is still legal from
// COMMITTEE_APPROVED.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case StatusCommitteeApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ApprovalAction names a requested transition.
type ApprovalAction string

// Supported approval actions.
const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
	ActionCancel  ApprovalAction = "cancel"
)

// EnrollmentApproval is the current approval status of one enrollment.
type EnrollmentApproval struct {
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	Status       ApprovalStatus `db:"status" json:"status"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// TransitionRecord is an append-only audit entry for one committed
// transition. Records are never mutated or deleted.
type TransitionRecord struct {
	ID           string         `db:"id" json:"id"`
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	FromStatus   ApprovalStatus `db:"from_status" json:"from_status"`
	ToStatus     ApprovalStatus `db:"to_status" json:"to_status"`
	ActorRole    UserRole       `db:"actor_role" json:"actor_role"`
	ActorID      string         `db:"actor_id" json:"actor_id"`
	Reason       *string        `db:"reason" json:"reason,omitempty"`
	OccurredAt   time.Time      `db:"occurred_at" json:"occurred_at"`
}

// TransitionResult is returned to the caller after a committed
// transition.
type TransitionResult struct {
	EnrollmentID string         `json:"enrollment_id"`
	FromStatus   ApprovalStatus `json:"from_status"`
	Status       ApprovalStatus `json:"status"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
