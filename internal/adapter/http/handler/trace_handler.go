package handler

import (
	"solana-forensics/internal/adapter/http/dto"
	"solana-forensics/internal/adapter/http/middleware"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/service"
	"solana-forensics/pkg/apperror"
	"solana-forensics/pkg/response"

	"github.com/gin-gonic/gin"
)

// TraceHandler runs investigator-initiated traces and ad-hoc evaluations.
type TraceHandler struct {
	traces  *service.TraceService
	monitor *service.Monitor
}

func NewTraceHandler(traces *service.TraceService, monitor *service.Monitor) *TraceHandler {
	return &TraceHandler{traces: traces, monitor: monitor}
}

// Trace handles POST /api/v1/traces.
func (h *TraceHandler) Trace(c *gin.Context) {
	var req dto.TraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	res, err := h.traces.Trace(c.Request.Context(), service.TraceRequest{
		Signature: req.Signature,
		Mode:      domain.TraceMode(req.Mode),
		MaxDepth:  req.MaxDepth,
		Actor:     middleware.Actor(c),
		CaseID:    req.CaseID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Evaluate handles POST /api/v1/transactions/evaluate. By default the rules
// run as a dry run against the address's cached history; with ?record=true
// the transaction is ingested like a polled one.
func (h *TraceHandler) Evaluate(c *gin.Context) {
	var req dto.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if req.Transaction.Signature == "" {
		response.Error(c, apperror.Validation("transaction.signature is required"))
		return
	}

	if c.Query("record") != "true" {
		res, err := h.monitor.Evaluate(c.Request.Context(), req.Address, req.Transaction)
		if err != nil {
			response.Error(c, apperror.InternalError(err))
			return
		}
		response.OK(c, res)
		return
	}

	res, err := h.monitor.HandleTransaction(c.Request.Context(), req.Address, req.Transaction)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	if res == nil {
		response.OK(c, gin.H{"duplicate": true})
		return
	}
	response.Created(c, res)
}
