package service

import (
	"context"
	"fmt"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/pkg/apperror"

	"github.com/rs/zerolog"
)

// ExportService packages evidence and audit records into sealed bundles.
type ExportService struct {
	ledger *EvidenceLedger
	trail  *AuditTrail
	log    zerolog.Logger
}

// NewExportService creates an export service.
func NewExportService(ledger *EvidenceLedger, trail *AuditTrail, log zerolog.Logger) *ExportService {
	return &ExportService{ledger: ledger, trail: trail, log: log}
}

// ExportEvidence records a transferred custody entry on every record and
// returns the sealed bundle. With includeCustody the chains are carried in
// the bundle's ChainOfCustody map; the records themselves never carry them.
func (s *ExportService) ExportEvidence(ctx context.Context, ids []string, exportedBy string, includeCustody bool) (*domain.ExportBundle, error) {
	if len(ids) == 0 {
		return nil, apperror.Validation("at least one evidence id is required")
	}
	if _, err := s.ledger.Snapshot(ctx, ids); err != nil {
		return nil, err
	}

	bundleID := domain.NewID("export")
	for _, id := range ids {
		if err := s.ledger.AppendCustody(ctx, id, domain.CustodyTransferred, exportedBy, "exported in bundle "+bundleID); err != nil {
			return nil, err
		}
	}
	records, err := s.ledger.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}

	b := &domain.ExportBundle{
		ID:              bundleID,
		Kind:            domain.ExportEvidence,
		ExportTimestamp: domain.Stamp(s.ledger.now()),
		ExportedBy:      exportedBy,
	}
	if includeCustody {
		b.ChainOfCustody = make(map[string][]domain.ChainOfCustodyEntry, len(records))
	}
	for _, ev := range records {
		if includeCustody {
			b.ChainOfCustody[ev.ID] = ev.ChainOfCustody
		}
		ev.ChainOfCustody = nil
		b.Evidence = append(b.Evidence, ev)
	}
	if err := b.Seal(); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("seal bundle: %w", err))
	}

	s.audited(ctx, b, fmt.Sprintf("exported %d evidence records", len(b.Evidence)))
	return b, nil
}

// ExportAudit bundles every audit entry matching f.
func (s *ExportService) ExportAudit(ctx context.Context, f ports.AuditFilter, exportedBy string) (*domain.ExportBundle, error) {
	f.Offset, f.Limit = 0, 0
	entries, _, err := s.trail.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	b := &domain.ExportBundle{
		ID:              domain.NewID("export"),
		Kind:            domain.ExportAudit,
		AuditLogs:       entries,
		ExportTimestamp: domain.Stamp(s.trail.now()),
		ExportedBy:      exportedBy,
	}
	if b.AuditLogs == nil {
		b.AuditLogs = []domain.AuditLogEntry{}
	}
	if err := b.Seal(); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("seal bundle: %w", err))
	}

	s.audited(ctx, b, fmt.Sprintf("exported %d audit entries", len(b.AuditLogs)))
	return b, nil
}

// VerifyBundle reports whether b still matches its hash.
func (s *ExportService) VerifyBundle(b *domain.ExportBundle) bool {
	return b.Verify()
}

func (s *ExportService) audited(ctx context.Context, b *domain.ExportBundle, desc string) {
	s.log.Info().Str("bundle_id", b.ID).Str("kind", string(b.Kind)).Str("exported_by", b.ExportedBy).Msg("bundle exported")
	if _, err := s.trail.LogEvent(ctx, domain.AuditDataExport, "export", b.ID, b.ExportedBy, domain.AuditDetails{
		Description: desc,
		After:       map[string]interface{}{"hash": b.Hash},
		RiskLevel:   domain.RiskMedium,
	}); err != nil {
		s.log.Warn().Err(err).Str("bundle_id", b.ID).Msg("failed to audit export")
	}
}
