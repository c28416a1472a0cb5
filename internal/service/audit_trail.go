package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/pkg/apperror"

	"github.com/rs/zerolog"
)

// AuditTrail is the append-only audit log. Entries are kept ordered by
// timestamp in memory and written through to the repository, if any.
type AuditTrail struct {
	mu      sync.RWMutex
	entries []domain.AuditLogEntry

	repo      ports.AuditRepository
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewAuditTrail creates an audit trail. If repo is nil, entries are only
// held in memory and written to the logger.
func NewAuditTrail(repo ports.AuditRepository, retention time.Duration, log zerolog.Logger) *AuditTrail {
	return &AuditTrail{
		repo:      repo,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// LogEvent hashes and appends an entry. Entries that warrant it are shadowed
// by a security_violation entry referencing them before LogEvent returns.
func (a *AuditTrail) LogEvent(ctx context.Context, action domain.AuditAction, resource, resourceID, actor string, details domain.AuditDetails) (*domain.AuditLogEntry, error) {
	entry, err := domain.NewAuditLogEntry(action, resource, resourceID, actor, details, a.now())
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}
	a.append(ctx, entry)

	if entry.NeedsViolationFollowUp() {
		follow, err := domain.NewAuditLogEntry(domain.AuditSecurityViolation, resource, resourceID, "system", domain.AuditDetails{
			Description:    violationReason(&entry),
			RiskLevel:      domain.RiskHigh,
			RelatedEntryID: entry.ID,
			IPAddress:      entry.Details.IPAddress,
		}, a.now())
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		a.append(ctx, follow)
	}
	return &entry, nil
}

func violationReason(e *domain.AuditLogEntry) string {
	switch {
	case e.Action == domain.AuditSecurityViolation:
		return "security violation recorded: " + e.Details.Description
	case e.Details.RiskLevel == domain.RiskCritical:
		return fmt.Sprintf("critical-risk %s event", e.Action)
	default:
		return fmt.Sprintf("unusual %s by %s", e.Action, e.Actor)
	}
}

func (a *AuditTrail) append(ctx context.Context, entry domain.AuditLogEntry) {
	a.mu.Lock()
	i := sort.Search(len(a.entries), func(i int) bool {
		return a.entries[i].Timestamp.After(entry.Timestamp)
	})
	a.entries = append(a.entries, domain.AuditLogEntry{})
	copy(a.entries[i+1:], a.entries[i:])
	a.entries[i] = entry
	a.mu.Unlock()

	a.log.Info().
		Str("audit_id", entry.ID).
		Str("action", string(entry.Action)).
		Str("resource", entry.Resource).
		Str("resource_id", entry.ResourceID).
		Str("actor", entry.Actor).
		Str("risk", string(entry.Details.RiskLevel)).
		Msg("audit")

	if a.repo != nil {
		if err := a.repo.Insert(ctx, &entry); err != nil {
			a.log.Warn().Err(err).Str("audit_id", entry.ID).Str("action", string(entry.Action)).Msg("failed to persist audit log")
		}
	}
}

// Query returns entries matching f, oldest first, and the total number of
// matches before pagination.
func (a *AuditTrail) Query(ctx context.Context, f ports.AuditFilter) ([]domain.AuditLogEntry, int, error) {
	if a.repo != nil {
		items, total, err := a.repo.Query(ctx, f)
		if err != nil {
			return nil, 0, apperror.ErrDatabaseError(err)
		}
		return items, total, nil
	}

	a.mu.RLock()
	var out []domain.AuditLogEntry
	for i := range a.entries {
		if f.Matches(&a.entries[i]) {
			out = append(out, a.entries[i])
		}
	}
	a.mu.RUnlock()
	return paginate(out, f.Offset, f.Limit), len(out), nil
}

// Entry returns one entry by id.
func (a *AuditTrail) Entry(ctx context.Context, id string) (*domain.AuditLogEntry, error) {
	a.mu.RLock()
	for i := range a.entries {
		if a.entries[i].ID == id {
			e := a.entries[i]
			a.mu.RUnlock()
			return &e, nil
		}
	}
	a.mu.RUnlock()

	if a.repo == nil {
		return nil, apperror.ErrAuditEntryNotFound(id)
	}
	e, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if e == nil {
		return nil, apperror.ErrAuditEntryNotFound(id)
	}
	return e, nil
}

// VerifyEntry reports whether the stored entry still matches its hash.
func (a *AuditTrail) VerifyEntry(ctx context.Context, id string) (bool, error) {
	e, err := a.Entry(ctx, id)
	if err != nil {
		return false, err
	}
	return e.VerifyIntegrity(), nil
}

// GenerateReport aggregates the entries in [from, to] and records that the
// report was generated.
func (a *AuditTrail) GenerateReport(ctx context.Context, from, to time.Time, generatedBy string) (*domain.AuditReport, error) {
	if to.Before(from) {
		return nil, apperror.ErrInvalidPeriod()
	}
	entries, _, err := a.Query(ctx, ports.AuditFilter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	r := &domain.AuditReport{
		ID:          domain.NewID("report"),
		PeriodStart: domain.Stamp(from),
		PeriodEnd:   domain.Stamp(to),
		GeneratedAt: domain.Stamp(a.now()),
		GeneratedBy: generatedBy,
		TotalEvents: len(entries),
		ByAction:    make(map[domain.AuditAction]int),
		ByActor:     make(map[string]int),
		ByRiskLevel: make(map[domain.RiskLevel]int),
		Issues:      []string{},
	}

	accessEvents, errorEvents, unusual := 0, 0, 0
	for i := range entries {
		e := &entries[i]
		r.ByAction[e.Action]++
		r.ByActor[e.Actor]++
		r.ByRiskLevel[e.Details.RiskLevel]++
		switch e.Details.RiskLevel {
		case domain.RiskCritical:
			r.CriticalEvents++
		case domain.RiskHigh:
			r.HighRiskEvents++
		}
		if e.Action == domain.AuditSecurityViolation {
			r.SecurityViolations++
		}
		if e.Action.IsAccessEvent() {
			accessEvents++
		}
		if e.Action == domain.AuditErrorOccurred {
			errorEvents++
		}
		if e.Details.Unusual {
			unusual++
		}
		if !e.VerifyIntegrity() {
			r.TamperedEntries++
		}
	}
	r.ComplianceScore = domain.ComplianceScore(r.CriticalEvents, r.SecurityViolations, r.HighRiskEvents)

	if accessEvents == 0 {
		r.Issues = append(r.Issues, "no access-logging events found in period")
	}
	if r.SecurityViolations > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d security violations recorded", r.SecurityViolations))
	}
	if r.CriticalEvents > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d critical-risk events require review", r.CriticalEvents))
	}
	if unusual > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d unusual access patterns detected", unusual))
	}
	if errorEvents > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d processing errors recorded", errorEvents))
	}
	if r.TamperedEntries > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d audit entries failed integrity verification", r.TamperedEntries))
	}

	if _, err := a.LogEvent(ctx, domain.AuditReportGenerated, "audit_report", r.ID, generatedBy, domain.AuditDetails{
		Description: fmt.Sprintf("compliance report for %s to %s", r.PeriodStart.Format(time.RFC3339), r.PeriodEnd.Format(time.RFC3339)),
		After:       map[string]interface{}{"complianceScore": r.ComplianceScore, "totalEvents": r.TotalEvents},
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Prune removes entries older than the retention period relative to now and
// returns how many were removed.
func (a *AuditTrail) Prune(ctx context.Context, now time.Time) (int64, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-a.retention)

	a.mu.Lock()
	keep := sort.Search(len(a.entries), func(i int) bool {
		return !a.entries[i].Timestamp.Before(cutoff)
	})
	removed := int64(keep)
	a.entries = append([]domain.AuditLogEntry(nil), a.entries[keep:]...)
	a.mu.Unlock()

	if a.repo != nil {
		n, err := a.repo.DeleteBefore(ctx, cutoff)
		if err != nil {
			return removed, apperror.ErrDatabaseError(err)
		}
		removed = n
	}

	if removed > 0 {
		a.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("audit retention applied")
	}
	_, err := a.LogEvent(ctx, domain.AuditRetentionPruned, "audit_log", "", "system", domain.AuditDetails{
		Description: fmt.Sprintf("removed %d entries older than %s", removed, cutoff.UTC().Format(time.RFC3339)),
		After:       map[string]interface{}{"removed": removed},
	})
	return removed, err
}

// Len returns the number of entries held in memory.
func (a *AuditTrail) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
