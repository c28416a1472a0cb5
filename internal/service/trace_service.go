package service

import (
	"context"
	"fmt"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/rs/zerolog"
)

const defaultTraceTimeout = 30 * time.Second

// TraceRequest asks for a flow trace starting at Signature.
type TraceRequest struct {
	Signature string           `json:"signature"`
	Mode      domain.TraceMode `json:"mode"`
	MaxDepth  int              `json:"maxDepth"`
	Actor     string           `json:"-"`
	CaseID    string           `json:"caseId"`
}

// TraceResult is a completed trace and the evidence record preserving it.
type TraceResult struct {
	Flow     *domain.TransactionFlow `json:"flow"`
	Evidence *domain.Evidence        `json:"evidence"`
}

// TraceService runs flow traces under a deadline, audits them, and keeps
// every completed flow as flow_analysis evidence.
type TraceService struct {
	tracer  *FlowTracer
	ledger  *EvidenceLedger
	audit   ports.AuditLogger
	timeout time.Duration
	log     zerolog.Logger
}

// NewTraceService creates a trace service. A non-positive timeout uses the default.
func NewTraceService(tracer *FlowTracer, ledger *EvidenceLedger, audit ports.AuditLogger, timeout time.Duration, log zerolog.Logger) *TraceService {
	if timeout <= 0 {
		timeout = defaultTraceTimeout
	}
	return &TraceService{tracer: tracer, ledger: ledger, audit: audit, timeout: timeout, log: log}
}

// Trace fetches the root transaction by signature and traces it.
func (s *TraceService) Trace(ctx context.Context, req TraceRequest) (*TraceResult, error) {
	s.mirror(ctx, domain.AuditTraceStarted, req.Signature, req.Actor, fmt.Sprintf("trace requested in %s mode", modeOrAuto(req.Mode)), domain.RiskLow)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	flow, err := s.tracer.TraceBySignature(ctx, req.Signature, req.Mode, req.MaxDepth)
	if err != nil {
		s.mirror(ctx, domain.AuditTraceFailed, req.Signature, req.Actor, err.Error(), domain.RiskMedium)
		return nil, err
	}
	return s.preserve(ctx, flow, req.Actor, req.CaseID)
}

// TraceTransaction traces an already fetched root transaction.
func (s *TraceService) TraceTransaction(ctx context.Context, root domain.Transaction, mode domain.TraceMode, maxDepth int, actor string) (*TraceResult, error) {
	s.mirror(ctx, domain.AuditTraceStarted, root.Signature, actor, fmt.Sprintf("trace triggered in %s mode", modeOrAuto(mode)), domain.RiskLow)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	flow, err := s.tracer.Trace(ctx, root, mode, maxDepth)
	if err != nil {
		s.mirror(ctx, domain.AuditTraceFailed, root.Signature, actor, err.Error(), domain.RiskMedium)
		return nil, err
	}
	return s.preserve(ctx, flow, actor, "")
}

func (s *TraceService) preserve(ctx context.Context, flow *domain.TransactionFlow, actor, caseID string) (*TraceResult, error) {
	ra := flow.Analysis.RiskAssessment
	ev, err := s.ledger.CreateEvidence(ctx, domain.NewEvidenceParams{
		TransactionID: flow.RootTransactionID,
		Type:          domain.EvidenceTypeFlow,
		Description: fmt.Sprintf("%s flow of %s: %d nodes, %d edges, risk %.2f",
			flow.Mode, flow.RootTransactionID, len(flow.Nodes), len(flow.Edges), ra.Overall),
		Payload:      flow,
		Investigator: actor,
		CaseID:       caseID,
		Priority:     priorityForRisk(ra.Overall),
		Tags:         flow.Analysis.SuspiciousPatterns,
	})
	if err != nil {
		s.mirror(ctx, domain.AuditTraceFailed, flow.RootTransactionID, actor, "preserving flow failed: "+err.Error(), domain.RiskMedium)
		return nil, err
	}

	risk := domain.RiskLow
	if ra.Overall >= 70 {
		risk = domain.RiskHigh
	} else if ra.Overall >= 40 {
		risk = domain.RiskMedium
	}
	desc := fmt.Sprintf("flow %s traced: %d hops, patterns %v", flow.ID, flow.Analysis.HopCount, flow.Analysis.SuspiciousPatterns)
	if len(flow.Warnings) > 0 {
		desc += fmt.Sprintf(", %d partial failures", len(flow.Warnings))
	}
	s.mirror(ctx, domain.AuditTraceCompleted, flow.RootTransactionID, actor, desc, risk)
	return &TraceResult{Flow: flow, Evidence: ev}, nil
}

func (s *TraceService) mirror(ctx context.Context, action domain.AuditAction, signature, actor, desc string, risk domain.RiskLevel) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.LogEvent(ctx, action, "transaction", signature, actor, domain.AuditDetails{Description: desc, RiskLevel: risk}); err != nil {
		s.log.Warn().Err(err).Str("signature", signature).Msg("failed to audit trace event")
	}
}

func modeOrAuto(m domain.TraceMode) domain.TraceMode {
	if m == "" {
		return domain.TraceModeAuto
	}
	return m
}

func priorityForRisk(overall float64) domain.Priority {
	switch {
	case overall >= 70:
		return domain.PriorityCritical
	case overall >= 40:
		return domain.PriorityHigh
	case overall >= 20:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
