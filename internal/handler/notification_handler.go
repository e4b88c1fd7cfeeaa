package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-approval-api/internal/service"
	"github.com/noah-isme/coop-approval-api/pkg/response"
)

// NotificationHandler exposes the recent dispatch log for operators.
type NotificationHandler struct {
	dispatch *service.DispatchService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(dispatch *service.DispatchService) *NotificationHandler {
	return &NotificationHandler{dispatch: dispatch}
}

// Recent godoc
// @Summary List recent notification dispatch outcomes
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/recent [get]
func (h *NotificationHandler) Recent(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.dispatch.Recent(), nil)
}
