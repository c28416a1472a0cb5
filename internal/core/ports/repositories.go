package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"solana-forensics/internal/core/domain"
)

// EvidenceRepository defines persistence operations for evidence records.
// Create stores the record together with its first custody entry atomically.
type EvidenceRepository interface {
	Create(ctx context.Context, evidence *domain.Evidence) error
	AppendCustody(ctx context.Context, evidenceID string, entry domain.ChainOfCustodyEntry) error
	UpdateMetadata(ctx context.Context, evidenceID string, meta domain.EvidenceMetadata) error
	GetByID(ctx context.Context, id string) (*domain.Evidence, error)
	List(ctx context.Context, filter EvidenceFilter) ([]domain.Evidence, int, error)
}

// EvidenceFilter holds filter + pagination for listing evidence.
type EvidenceFilter struct {
	TransactionID string
	CaseID        string
	Type          domain.EvidenceType
	From          *time.Time
	To            *time.Time
	Offset        int
	Limit         int
}

// AlertRepository defines persistence operations for alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *domain.Alert) error
	UpdateStatus(ctx context.Context, id string, status domain.AlertStatus, resolution *domain.Resolution) error
	AppendNotifications(ctx context.Context, id string, logs []domain.NotificationLog) error
	GetByID(ctx context.Context, id string) (*domain.Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]domain.Alert, int, error)
}

// AlertFilter holds filter + pagination for listing alerts.
type AlertFilter struct {
	Status        domain.AlertStatus
	Severity      domain.Severity
	WalletAddress string
	Offset        int
	Limit         int
}

// AuditRepository defines persistence for the append-only audit log.
type AuditRepository interface {
	Insert(ctx context.Context, entry *domain.AuditLogEntry) error
	GetByID(ctx context.Context, id string) (*domain.AuditLogEntry, error)
	Query(ctx context.Context, filter AuditFilter) ([]domain.AuditLogEntry, int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditFilter selects audit entries. Zero values mean "any".
type AuditFilter struct {
	From      *time.Time
	To        *time.Time
	Actor     string
	Action    domain.AuditAction
	Resource  string
	RiskLevel domain.RiskLevel
	Offset    int
	Limit     int
}

// Matches reports whether e satisfies every set criterion.
func (f AuditFilter) Matches(e *domain.AuditLogEntry) bool {
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.RiskLevel != "" && e.Details.RiskLevel != f.RiskLevel {
		return false
	}
	return true
}

// RecentTxCache is the bounded, per-address FIFO of recently observed
// transactions. Add reports false when the signature is already cached.
type RecentTxCache interface {
	Add(ctx context.Context, address string, tx domain.Transaction) (bool, error)
	Contains(ctx context.Context, address, signature string) (bool, error)
	Snapshot(ctx context.Context, address string) ([]domain.Transaction, error)
	Resize(size int)
}
