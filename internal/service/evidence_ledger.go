package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/pkg/apperror"

	"github.com/rs/zerolog"
)

// EvidenceLedger is the authoritative store of evidence records. Records
// are independent: creating one takes only the index lock, custody appends
// serialize on the record's own lock.
type EvidenceLedger struct {
	mu      sync.RWMutex
	records map[string]*evidenceRecord

	repo  ports.EvidenceRepository
	audit ports.AuditLogger
	log   zerolog.Logger
	now   func() time.Time
}

type evidenceRecord struct {
	mu sync.Mutex
	ev domain.Evidence
}

// IntegrityReport is the combined result of checking the evidence hash and
// walking its custody chain.
type IntegrityReport struct {
	EvidenceID   string               `json:"evidenceId"`
	Valid        bool                 `json:"valid"`
	HashValid    bool                 `json:"hashValid"`
	StoredHash   string               `json:"storedHash"`
	ComputedHash string               `json:"computedHash"`
	Custody      domain.CustodyReport `json:"custody"`
	CheckedAt    time.Time            `json:"checkedAt"`
}

// MetadataUpdate carries the optional metadata changes. Nil fields are left
// untouched.
type MetadataUpdate struct {
	CaseID   *string
	Priority *domain.Priority
	Tags     []string
	Notes    *string
}

// NewEvidenceLedger creates a ledger. repo and audit may be nil, in which
// case records live in memory only and nothing is mirrored to the audit log.
func NewEvidenceLedger(repo ports.EvidenceRepository, audit ports.AuditLogger, log zerolog.Logger) *EvidenceLedger {
	return &EvidenceLedger{
		records: make(map[string]*evidenceRecord),
		repo:    repo,
		audit:   audit,
		log:     log,
		now:     time.Now,
	}
}

// CreateEvidence hashes a new record and writes its created custody entry.
func (l *EvidenceLedger) CreateEvidence(ctx context.Context, p domain.NewEvidenceParams) (*domain.Evidence, error) {
	ev, err := domain.NewEvidence(p, l.now())
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("invalid evidence payload: %v", err))
	}
	if err := l.Store(ctx, ev); err != nil {
		return nil, err
	}
	out := ev.Clone()
	return &out, nil
}

// Store ingests a record built elsewhere, typically by the rule engine.
// Storing an id that is already present is a no-op.
func (l *EvidenceLedger) Store(ctx context.Context, ev domain.Evidence) error {
	if !ev.VerifyIntegrity() {
		return apperror.Validation("evidence hash does not match its contents")
	}
	if r := ev.VerifyCustody(); !r.Valid {
		return apperror.Validation("evidence custody chain is invalid: " + r.Reason)
	}

	l.mu.Lock()
	if _, exists := l.records[ev.ID]; exists {
		l.mu.Unlock()
		return nil
	}
	rec := &evidenceRecord{ev: ev.Clone()}
	// Hold the record lock until persisted so appends cannot overtake the insert.
	rec.mu.Lock()
	l.records[ev.ID] = rec
	l.mu.Unlock()
	defer rec.mu.Unlock()

	if l.repo != nil {
		if err := l.repo.Create(ctx, &rec.ev); err != nil {
			l.mu.Lock()
			delete(l.records, ev.ID)
			l.mu.Unlock()
			return apperror.ErrDatabaseError(err)
		}
	}

	l.log.Info().
		Str("evidence_id", ev.ID).
		Str("transaction_id", ev.TransactionID).
		Str("type", string(ev.Type)).
		Msg("evidence stored")

	l.mirror(ctx, domain.AuditEvidenceCreated, ev.ID, creatorOf(&ev), domain.AuditDetails{
		Description: ev.Description,
		After:       map[string]interface{}{"hash": ev.Hash, "transactionId": ev.TransactionID},
	})
	return nil
}

// AppendCustody adds an entry to the record's custody chain.
func (l *EvidenceLedger) AppendCustody(ctx context.Context, id string, action domain.CustodyAction, actor, description string) error {
	if !action.Valid() || action == domain.CustodyCreated {
		return apperror.ErrInvalidCustodyAction(string(action))
	}
	rec, err := l.record(ctx, id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	entry, err := l.appendLocked(ctx, rec, action, actor, description)
	rec.mu.Unlock()
	if err != nil {
		return err
	}

	l.mirror(ctx, custodyAuditAction(action), id, actor, domain.AuditDetails{
		Description: description,
		After:       map[string]interface{}{"custodyHash": entry.Hash},
	})
	return nil
}

// appendLocked must be called with rec.mu held.
func (l *EvidenceLedger) appendLocked(ctx context.Context, rec *evidenceRecord, action domain.CustodyAction, actor, description string) (domain.ChainOfCustodyEntry, error) {
	if actor == "" {
		actor = "system"
	}
	next := rec.ev.Clone()
	now := l.now()
	if n := len(next.ChainOfCustody); n > 0 && now.Before(next.ChainOfCustody[n-1].Timestamp) {
		now = next.ChainOfCustody[n-1].Timestamp
	}
	if err := next.AppendCustody(action, actor, description, now); err != nil {
		return domain.ChainOfCustodyEntry{}, apperror.InternalError(err)
	}
	entry := next.ChainOfCustody[len(next.ChainOfCustody)-1]

	if l.repo != nil {
		if err := l.repo.AppendCustody(ctx, rec.ev.ID, entry); err != nil {
			return domain.ChainOfCustodyEntry{}, apperror.ErrDatabaseError(err)
		}
	}
	rec.ev = next
	return entry, nil
}

// Get returns a copy of the record. A non-empty actor records an accessed
// custody entry before the copy is taken.
func (l *EvidenceLedger) Get(ctx context.Context, id, actor string) (*domain.Evidence, error) {
	rec, err := l.record(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if actor != "" {
		if _, err := l.appendLocked(ctx, rec, domain.CustodyAccessed, actor, "evidence viewed"); err != nil {
			rec.mu.Unlock()
			return nil, err
		}
	}
	out := rec.ev.Clone()
	rec.mu.Unlock()

	if actor != "" {
		l.mirror(ctx, domain.AuditEvidenceAccessed, id, actor, domain.AuditDetails{Description: "evidence viewed"})
	}
	return &out, nil
}

// UpdateMetadata applies u and records a modified custody entry listing the
// changed fields. An update that changes nothing records nothing.
func (l *EvidenceLedger) UpdateMetadata(ctx context.Context, id, actor string, u MetadataUpdate) (*domain.Evidence, error) {
	if u.Priority != nil && !u.Priority.Valid() {
		return nil, apperror.Validation("invalid priority: " + string(*u.Priority))
	}
	rec, err := l.record(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	before := rec.ev.Metadata
	after := before
	var changed []string
	if u.CaseID != nil && *u.CaseID != before.CaseID {
		after.CaseID = *u.CaseID
		changed = append(changed, "caseId")
	}
	if u.Priority != nil && *u.Priority != before.Priority {
		after.Priority = *u.Priority
		changed = append(changed, "priority")
	}
	if u.Tags != nil && !slices.Equal(u.Tags, before.Tags) {
		after.Tags = append([]string(nil), u.Tags...)
		changed = append(changed, "tags")
	}
	if u.Notes != nil && *u.Notes != before.Notes {
		after.Notes = *u.Notes
		changed = append(changed, "notes")
	}
	if len(changed) == 0 {
		out := rec.ev.Clone()
		return &out, nil
	}

	if l.repo != nil {
		if err := l.repo.UpdateMetadata(ctx, id, after); err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
	}
	desc := "metadata updated: " + strings.Join(changed, ", ")
	if _, err := l.appendLocked(ctx, rec, domain.CustodyModified, actor, desc); err != nil {
		return nil, err
	}
	rec.ev.Metadata = after
	out := rec.ev.Clone()

	beforeMap, _ := domain.NormalizePayload(before)
	afterMap, _ := domain.NormalizePayload(after)
	l.mirror(ctx, domain.AuditEvidenceModified, id, actor, domain.AuditDetails{
		Description: desc,
		Before:      beforeMap,
		After:       afterMap,
		RiskLevel:   domain.RiskMedium,
	})
	return &out, nil
}

// VerifyIntegrity recomputes the record hash and compares it with the stored one.
func (l *EvidenceLedger) VerifyIntegrity(ev *domain.Evidence) bool {
	return ev.VerifyIntegrity()
}

// Verify checks the stored record's hash and custody chain. Tampering is
// reported in the result, never as an error.
func (l *EvidenceLedger) Verify(ctx context.Context, id string) (*IntegrityReport, error) {
	rec, err := l.record(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	ev := rec.ev.Clone()
	rec.mu.Unlock()

	computed, _ := ev.ComputeHash()
	report := &IntegrityReport{
		EvidenceID:   id,
		StoredHash:   ev.Hash,
		ComputedHash: computed,
		HashValid:    computed != "" && computed == ev.Hash,
		Custody:      ev.VerifyCustody(),
		CheckedAt:    domain.Stamp(l.now()),
	}
	report.Valid = report.HashValid && report.Custody.Valid
	if !report.Valid {
		l.log.Warn().Str("evidence_id", id).Bool("hash_valid", report.HashValid).
			Str("custody", report.Custody.Reason).Msg("evidence integrity check failed")
		l.mirror(ctx, domain.AuditSecurityViolation, id, "system", domain.AuditDetails{
			Description: "evidence integrity check failed",
			RiskLevel:   domain.RiskCritical,
		})
	}
	return report, nil
}

// List returns records matching f ordered by timestamp, with the total
// match count. With a repository configured the repository is queried.
func (l *EvidenceLedger) List(ctx context.Context, f ports.EvidenceFilter) ([]domain.Evidence, int, error) {
	if l.repo != nil {
		items, total, err := l.repo.List(ctx, f)
		if err != nil {
			return nil, 0, apperror.ErrDatabaseError(err)
		}
		return items, total, nil
	}

	l.mu.RLock()
	recs := make([]*evidenceRecord, 0, len(l.records))
	for _, r := range l.records {
		recs = append(recs, r)
	}
	l.mu.RUnlock()

	var out []domain.Evidence
	for _, r := range recs {
		r.mu.Lock()
		ev := r.ev.Clone()
		r.mu.Unlock()
		if matchesEvidence(f, &ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

// Snapshot returns copies of the given records without recording access.
func (l *EvidenceLedger) Snapshot(ctx context.Context, ids []string) ([]domain.Evidence, error) {
	out := make([]domain.Evidence, 0, len(ids))
	for _, id := range ids {
		rec, err := l.record(ctx, id)
		if err != nil {
			return nil, err
		}
		rec.mu.Lock()
		out = append(out, rec.ev.Clone())
		rec.mu.Unlock()
	}
	return out, nil
}

// record finds the record in memory, falling back to the repository.
func (l *EvidenceLedger) record(ctx context.Context, id string) (*evidenceRecord, error) {
	l.mu.RLock()
	rec, ok := l.records[id]
	l.mu.RUnlock()
	if ok {
		return rec, nil
	}
	if l.repo == nil {
		return nil, apperror.ErrEvidenceNotFound(id)
	}

	ev, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if ev == nil {
		return nil, apperror.ErrEvidenceNotFound(id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.records[id]; ok {
		return existing, nil
	}
	rec = &evidenceRecord{ev: *ev}
	l.records[id] = rec
	return rec, nil
}

func (l *EvidenceLedger) mirror(ctx context.Context, action domain.AuditAction, id, actor string, details domain.AuditDetails) {
	if l.audit == nil {
		return
	}
	if _, err := l.audit.LogEvent(ctx, action, "evidence", id, actor, details); err != nil {
		l.log.Warn().Err(err).Str("evidence_id", id).Str("action", string(action)).Msg("failed to audit evidence event")
	}
}

func custodyAuditAction(a domain.CustodyAction) domain.AuditAction {
	switch a {
	case domain.CustodyAccessed:
		return domain.AuditEvidenceAccessed
	case domain.CustodyTransferred:
		return domain.AuditEvidenceTransferred
	default:
		return domain.AuditEvidenceModified
	}
}

func creatorOf(ev *domain.Evidence) string {
	if len(ev.ChainOfCustody) > 0 {
		return ev.ChainOfCustody[0].Actor
	}
	return "system"
}

func matchesEvidence(f ports.EvidenceFilter, ev *domain.Evidence) bool {
	if f.TransactionID != "" && ev.TransactionID != f.TransactionID {
		return false
	}
	if f.CaseID != "" && ev.Metadata.CaseID != f.CaseID {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.From != nil && ev.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.Timestamp.After(*f.To) {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
