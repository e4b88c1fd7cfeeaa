package workflow

import (
	"fmt"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

// RejectionReason classifies why a requested transition was refused.
type RejectionReason string

// Rejection reasons. These are permanent: retrying the same request
// against the same state always yields the same refusal.
const (
	ReasonInvalidRole      RejectionReason = "invalid_role"
	ReasonIllegalFromState RejectionReason = "illegal_from_state"
	ReasonTerminalState    RejectionReason = "terminal_state"
)

// Rejection is returned when a transition request is not legal.
type Rejection struct {
	Reason RejectionReason
	Detail string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return string(r.Reason)
}

// transition is one allowed edge in the approval state machine.
type transition struct {
	action models.ApprovalAction
	roles  []models.UserRole
	from   []models.ApprovalStatus
	to     models.ApprovalStatus
}

// The machine is monotone: approvals only move forward, and REJECTED /
// CANCELLED are always final. An administrative cancel remains legal
// from COMMITTEE_APPROVED; approve and reject do not.
var transitions = []transition{
	{
		action: models.ActionApprove,
		roles:  []models.UserRole{models.RoleAdvisor},
		from:   []models.ApprovalStatus{models.StatusRegistered},
		to:     models.StatusAdvisorApproved,
	},
	{
		action: models.ActionApprove,
		roles:  []models.UserRole{models.RoleCommittee},
		from:   []models.ApprovalStatus{models.StatusAdvisorApproved},
		to:     models.StatusCommitteeApproved,
	},
	{
		action: models.ActionReject,
		roles:  []models.UserRole{models.RoleAdvisor, models.RoleCommittee},
		from:   []models.ApprovalStatus{models.StatusRegistered, models.StatusAdvisorApproved},
		to:     models.StatusRejected,
	},
	{
		action: models.ActionCancel,
		roles:  []models.UserRole{models.RoleAdmin},
		from:   []models.ApprovalStatus{models.StatusRegistered, models.StatusAdvisorApproved, models.StatusCommitteeApproved},
		to:     models.StatusCancelled,
	},
}

// Compute decides whether the requested action is legal for the actor
// role from the current status and returns the resulting status. It is
// pure and deterministic: identical inputs always yield the identical
// result. Concurrency between competing requests is resolved by the
// caller via optimistic concurrency, never here.
func Compute(current models.ApprovalStatus, action models.ApprovalAction, role models.UserRole) (models.ApprovalStatus, error) {
	if current == models.StatusRejected || current == models.StatusCancelled {
		return "", &Rejection{Reason: ReasonTerminalState, Detail: fmt.Sprintf("status %s admits no further transitions", current)}
	}

	roleAllowed := false
	for _, t := range transitions {
		if t.action != action {
			continue
		}
		if !containsRole(t.roles, role) {
			continue
		}
		roleAllowed = true
		if containsStatus(t.from, current) {
			return t.to, nil
		}
	}

	if !roleAllowed {
		return "", &Rejection{Reason: ReasonInvalidRole, Detail: fmt.Sprintf("role %s may not %s", role, action)}
	}
	if current == models.StatusCommitteeApproved {
		return "", &Rejection{Reason: ReasonTerminalState, Detail: fmt.Sprintf("status %s admits no %s", current, action)}
	}
	return "", &Rejection{Reason: ReasonIllegalFromState, Detail: fmt.Sprintf("%s is not valid from status %s", action, current)}
}

func containsRole(roles []models.UserRole, role models.UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func containsStatus(statuses []models.ApprovalStatus, status models.ApprovalStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
