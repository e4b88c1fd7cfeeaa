package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-approval-api/internal/service"
	"github.com/noah-isme/coop-approval-api/pkg/response"
)

// EnrollmentHandler exposes the intake endpoint that registers a new
// enrollment into the approval workflow.
type EnrollmentHandler struct {
	approvals *service.ApprovalService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(approvals *service.ApprovalService) *EnrollmentHandler {
	return &EnrollmentHandler{approvals: approvals}
}

// Register godoc
// @Summary Register an enrollment for approval
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/approval [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	approval, err := h.approvals.Register(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, approval)
}
