package handler

import (
	"encoding/json"

	"solana-forensics/internal/adapter/http/dto"
	"solana-forensics/internal/adapter/http/middleware"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/internal/service"
	"solana-forensics/pkg/apperror"
	"solana-forensics/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuditHandler serves the audit trail, compliance reports and exports.
type AuditHandler struct {
	trail   *service.AuditTrail
	exports *service.ExportService
}

func NewAuditHandler(trail *service.AuditTrail, exports *service.ExportService) *AuditHandler {
	return &AuditHandler{trail: trail, exports: exports}
}

func auditFilter(q dto.AuditQuery) ports.AuditFilter {
	return ports.AuditFilter{
		From:      q.From,
		To:        q.To,
		Actor:     q.Actor,
		Action:    domain.AuditAction(q.Action),
		Resource:  q.Resource,
		RiskLevel: domain.RiskLevel(q.RiskLevel),
		Offset:    q.Offset,
		Limit:     q.Limit,
	}
}

// Query handles GET /api/v1/audit.
func (h *AuditHandler) Query(c *gin.Context) {
	var q dto.AuditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	q.Limit = pageLimit(q.Limit)
	items, total, err := h.trail.Query(c.Request.Context(), auditFilter(q))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, nonNil(items), response.Page{Total: total, Offset: q.Offset, Limit: q.Limit})
}

// Get handles GET /api/v1/audit/:id.
func (h *AuditHandler) Get(c *gin.Context) {
	e, err := h.trail.Entry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, e)
}

// Verify handles GET /api/v1/audit/:id/verify.
func (h *AuditHandler) Verify(c *gin.Context) {
	id := c.Param("id")
	valid, err := h.trail.VerifyEntry(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "valid": valid})
}

// Report handles GET /api/v1/audit/report.
func (h *AuditHandler) Report(c *gin.Context) {
	var q dto.ReportQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.From.IsZero() || q.To.IsZero() {
		response.Error(c, apperror.Validation("from and to are required"))
		return
	}
	report, err := h.trail.GenerateReport(c.Request.Context(), q.From, q.To, middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// ExportEvidence handles POST /api/v1/exports/evidence.
func (h *AuditHandler) ExportEvidence(c *gin.Context) {
	var req dto.ExportEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	b, err := h.exports.ExportEvidence(c.Request.Context(), req.IDs, middleware.Actor(c), req.IncludeCustody)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, b)
}

// ExportAudit handles POST /api/v1/exports/audit.
func (h *AuditHandler) ExportAudit(c *gin.Context) {
	var q dto.AuditQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	b, err := h.exports.ExportAudit(c.Request.Context(), auditFilter(q), middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, b)
}

// VerifyExport handles POST /api/v1/exports/verify. Numbers are decoded
// verbatim so payload hashes survive the round trip.
func (h *AuditHandler) VerifyExport(c *gin.Context) {
	var b domain.ExportBundle
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&b); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	response.OK(c, gin.H{"id": b.ID, "valid": h.exports.VerifyBundle(&b)})
}
