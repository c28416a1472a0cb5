package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"solana-forensics/internal/core/domain"
)

// LedgerClient is the ingestion collaborator used by flow tracing.
// GetTransaction returns nil, nil when the signature is unknown.
type LedgerClient interface {
	GetTransaction(ctx context.Context, signature string) (*domain.Transaction, error)
	GetRelatedTransactions(ctx context.Context, account string, sinceSlot uint64) ([]domain.Transaction, error)
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *domain.Alert) error
}

// HashService handles API key hashing (Argon2id).
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// AuthService authenticates investigators against the configured directory.
type AuthService interface {
	Login(ctx context.Context, investigatorID, apiKey, ip string) (string, time.Time, error)
	IsInvestigator(id string) bool
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(investigatorID, name string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	InvestigatorID string
	Name           string
}

// AuditLogger is the write side of the audit trail used by every other
// component.
type AuditLogger interface {
	LogEvent(ctx context.Context, action domain.AuditAction, resource, resourceID, actor string, details domain.AuditDetails) (*domain.AuditLogEntry, error)
}
