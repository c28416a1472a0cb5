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

// EvidenceHandler exposes the evidence ledger. Every read of a single record
// is made on behalf of the caller, which appends an accessed custody entry.
type EvidenceHandler struct {
	ledger *service.EvidenceLedger
}

func NewEvidenceHandler(ledger *service.EvidenceLedger) *EvidenceHandler {
	return &EvidenceHandler{ledger: ledger}
}

// List handles GET /api/v1/evidence.
func (h *EvidenceHandler) List(c *gin.Context) {
	var q dto.EvidenceListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	limit := pageLimit(q.Limit)
	items, total, err := h.ledger.List(c.Request.Context(), ports.EvidenceFilter{
		TransactionID: q.TransactionID,
		CaseID:        q.CaseID,
		Type:          domain.EvidenceType(q.Type),
		From:          q.From,
		To:            q.To,
		Offset:        q.Offset,
		Limit:         limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, nonNil(items), response.Page{Total: total, Offset: q.Offset, Limit: limit})
}

// Get handles GET /api/v1/evidence/:id.
func (h *EvidenceHandler) Get(c *gin.Context) {
	ev, err := h.ledger.Get(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ev)
}

// Verify handles GET /api/v1/evidence/:id/verify.
func (h *EvidenceHandler) Verify(c *gin.Context) {
	report, err := h.ledger.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

type custodyResponse struct {
	EvidenceID string                       `json:"evidenceId"`
	Chain      []domain.ChainOfCustodyEntry `json:"chain"`
	Report     domain.CustodyReport         `json:"report"`
}

// Custody handles GET /api/v1/evidence/:id/custody.
func (h *EvidenceHandler) Custody(c *gin.Context) {
	ev, err := h.ledger.Get(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, custodyResponse{
		EvidenceID: ev.ID,
		Chain:      ev.ChainOfCustody,
		Report:     ev.VerifyCustody(),
	})
}

// UpdateMetadata handles PATCH /api/v1/evidence/:id/metadata.
func (h *EvidenceHandler) UpdateMetadata(c *gin.Context) {
	var req dto.MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	u := service.MetadataUpdate{CaseID: req.CaseID, Tags: req.Tags, Notes: req.Notes}
	if req.Priority != nil {
		p := domain.Priority(*req.Priority)
		u.Priority = &p
	}
	ev, err := h.ledger.UpdateMetadata(c.Request.Context(), c.Param("id"), middleware.Actor(c), u)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ev)
}
