package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

var (
	allStatuses = []models.ApprovalStatus{
		models.StatusRegistered,
		models.StatusAdvisorApproved,
		models.StatusCommitteeApproved,
		models.StatusRejected,
		models.StatusCancelled,
	}
	allActions = []models.ApprovalAction{models.ActionApprove, models.ActionReject, models.ActionCancel}
	allRoles   = []models.UserRole{models.RoleAdvisor, models.RoleCommittee, models.RoleAdmin, models.RoleStudent}
)

type outcome struct {
	next   models.ApprovalStatus
	reason RejectionReason
}

// expected enumerates the full decision table. Every combination not
// listed here must be rejected.
var expected = map[models.ApprovalStatus]map[models.ApprovalAction]map[models.UserRole]outcome{
	models.StatusRegistered: {
		models.ActionApprove: {
			models.RoleAdvisor:   {next: models.StatusAdvisorApproved},
			models.RoleCommittee: {reason: ReasonIllegalFromState},
			models.RoleAdmin:     {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
		models.ActionReject: {
			models.RoleAdvisor:   {next: models.StatusRejected},
			models.RoleCommittee: {next: models.StatusRejected},
			models.RoleAdmin:     {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
		models.ActionCancel: {
			models.RoleAdmin:     {next: models.StatusCancelled},
			models.RoleAdvisor:   {reason: ReasonInvalidRole},
			models.RoleCommittee: {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
	},
	models.StatusAdvisorApproved: {
		models.ActionApprove: {
			models.RoleCommittee: {next: models.StatusCommitteeApproved},
			models.RoleAdvisor:   {reason: ReasonIllegalFromState},
			models.RoleAdmin:     {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
		models.ActionReject: {
			models.RoleAdvisor:   {next: models.StatusRejected},
			models.RoleCommittee: {next: models.StatusRejected},
			models.RoleAdmin:     {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
		models.ActionCancel: {
			models.RoleAdmin:     {next: models.StatusCancelled},
			models.RoleAdvisor:   {reason: ReasonInvalidRole},
			models.RoleCommittee: {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
	},
	models.StatusCommitteeApproved: {
		models.ActionApprove: {
			models.RoleAdvisor:   {reason: ReasonTerminalState},
			models.RoleCommittee: {reason: ReasonTerminalState},
			models.RoleAdmin:     {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
		models.ActionReject: {
			models.RoleAdvisor:   {reason: ReasonTerminalState},
			models.RoleCommittee: {reason: ReasonTerminalState},
			models.RoleAdmin:     {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
		models.ActionCancel: {
			models.RoleAdmin:     {next: models.StatusCancelled},
			models.RoleAdvisor:   {reason: ReasonInvalidRole},
			models.RoleCommittee: {reason: ReasonInvalidRole},
			models.RoleStudent:   {reason: ReasonInvalidRole},
		},
	},
}

func TestComputeFullDecisionTable(t *testing.T) {
	for _, status := range allStatuses {
		for _, action := range allActions {
			for _, role := range allRoles {
				name := string(status) + "/" + string(action) + "/" + string(role)
				t.Run(name, func(t *testing.T) {
					next, err := Compute(status, action, role)

					if status == models.StatusRejected || status == models.StatusCancelled {
						requireRejection(t, err, ReasonTerminalState)
						return
					}

					want := expected[status][action][role]
					if want.next != "" {
						require.NoError(t, err)
						assert.Equal(t, want.next, next)
						return
					}
					requireRejection(t, err, want.reason)
				})
			}
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		next, err := Compute(models.StatusRegistered, models.ActionApprove, models.RoleAdvisor)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAdvisorApproved, next)
	}
}

func TestComputeNeverCycles(t *testing.T) {
	// From every reachable next state, no transition leads back to a
	// previous one: the machine is monotone.
	order := map[models.ApprovalStatus]int{
		models.StatusRegistered:        0,
		models.StatusAdvisorApproved:   1,
		models.StatusCommitteeApproved: 2,
		models.StatusRejected:          3,
		models.StatusCancelled:         3,
	}
	for _, status := range allStatuses {
		for _, action := range allActions {
			for _, role := range allRoles {
				next, err := Compute(status, action, role)
				if err != nil {
					continue
				}
				assert.Greater(t, order[next], order[status],
					"transition %s -> %s must move forward", status, next)
			}
		}
	}
}

func requireRejection(t *testing.T, err error, reason RejectionReason) {
	t.Helper()
	require.Error(t, err)
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %T", err)
	assert.Equal(t, reason, rej.Reason)
}
