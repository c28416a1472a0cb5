package handler

import (
	"solana-forensics/internal/adapter/http/dto"
	"solana-forensics/internal/adapter/http/middleware"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/internal/service"
	"solana-forensics/pkg/apperror"
	"solana-forensics/pkg/response"

	"github.com/gin-gonic/gin"
)

// AlertHandler serves alert triage.
type AlertHandler struct {
	alerts *service.AlertService
}

func NewAlertHandler(alerts *service.AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// List handles GET /api/v1/alerts.
func (h *AlertHandler) List(c *gin.Context) {
	var q dto.AlertListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	limit := pageLimit(q.Limit)
	items, total, err := h.alerts.List(c.Request.Context(), ports.AlertFilter{
		Status:        domain.AlertStatus(q.Status),
		Severity:      domain.Severity(q.Severity),
		WalletAddress: q.Wallet,
		Offset:        q.Offset,
		Limit:         limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, nonNil(items), response.Page{Total: total, Offset: q.Offset, Limit: limit})
}

// Get handles GET /api/v1/alerts/:id.
func (h *AlertHandler) Get(c *gin.Context) {
	a, err := h.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, a)
}

// UpdateStatus handles PATCH /api/v1/alerts/:id/status.
func (h *AlertHandler) UpdateStatus(c *gin.Context) {
	var req dto.AlertStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	a, err := h.alerts.UpdateStatus(c.Request.Context(), c.Param("id"), domain.AlertStatus(req.Status), middleware.Actor(c), req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, a)
}
