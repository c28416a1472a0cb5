package handler

import (
	"net/http"

	"solana-forensics/internal/adapter/http/dto"
	"solana-forensics/internal/adapter/http/middleware"
	"solana-forensics/internal/service"
	"solana-forensics/pkg/apperror"
	"solana-forensics/pkg/response"

	"github.com/gin-gonic/gin"
)

// RuleHandler manages detection rules at runtime.
type RuleHandler struct {
	rules *service.RuleService
}

func NewRuleHandler(rules *service.RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// List handles GET /api/v1/rules.
func (h *RuleHandler) List(c *gin.Context) {
	response.OK(c, nonNil(h.rules.List()))
}

// Get handles GET /api/v1/rules/:id.
func (h *RuleHandler) Get(c *gin.Context) {
	r, err := h.rules.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// Create handles POST /api/v1/rules.
func (h *RuleHandler) Create(c *gin.Context) {
	var req dto.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	r, err := h.rules.Create(c.Request.Context(), req.ToRule(), middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, r)
}

// Update handles PUT /api/v1/rules/:id.
func (h *RuleHandler) Update(c *gin.Context) {
	var req dto.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if req.ID != c.Param("id") {
		response.Error(c, apperror.Validation("rule id in body does not match path"))
		return
	}
	r, err := h.rules.Update(c.Request.Context(), req.ToRule(), middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// SetEnabled handles PATCH /api/v1/rules/:id/enabled.
func (h *RuleHandler) SetEnabled(c *gin.Context) {
	var req dto.RuleEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	r, err := h.rules.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled, middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, r)
}

// Delete handles DELETE /api/v1/rules/:id.
func (h *RuleHandler) Delete(c *gin.Context) {
	if err := h.rules.Delete(c.Request.Context(), c.Param("id"), middleware.Actor(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
