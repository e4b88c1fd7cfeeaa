package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-approval-api/internal/models"
	"github.com/noah-isme/coop-approval-api/internal/service"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
	"github.com/noah-isme/coop-approval-api/pkg/response"
)

// TransitionRequest is the payload for requesting an approval action.
type TransitionRequest struct {
	Action models.ApprovalAction `json:"action" binding:"required"`
	Reason *string               `json:"reason,omitempty"`
}

// ApprovalHandler exposes the approval workflow endpoints.
type ApprovalHandler struct {
	approvals *service.ApprovalService
	exports   *service.ExportService
}

// NewApprovalHandler constructs ApprovalHandler.
func NewApprovalHandler(approvals *service.ApprovalService, exports *service.ExportService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, exports: exports}
}

// RequestTransition godoc
// @Summary Request an approval transition
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body TransitionRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/transitions [post]
func (h *ApprovalHandler) RequestTransition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.approvals.RequestTransition(c.Request.Context(), c.Param("id"), claims.UserID, req.Action, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// GetStatus godoc
// @Summary Get current approval status
// @Tags Approvals
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id} [get]
func (h *ApprovalHandler) GetStatus(c *gin.Context) {
	approval, err := h.approvals.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// History godoc
// @Summary List transition history
// @Tags Approvals
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/history [get]
func (h *ApprovalHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	records, total, err := h.approvals.History(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}

// ExportHistory godoc
// @Summary Export transition history as CSV or PDF
// @Tags Approvals
// @Produce octet-stream
// @Param id path string true "Enrollment ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /approvals/{id}/history/export [get]
func (h *ApprovalHandler) ExportHistory(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	result, err := h.exports.ExportHistory(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.ContentType, result.Filename, result.Content)
}
