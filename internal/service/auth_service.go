package service

import (
	"context"
	"fmt"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/pkg/apperror"
)

// AuthServiceImpl authenticates investigators against the configured
// directory and issues session tokens.
type AuthServiceImpl struct {
	directory map[string]config.Investigator
	hashSvc   ports.HashService
	tokenSvc  ports.TokenService
	audit     ports.AuditLogger
}

// NewAuthService creates a new AuthServiceImpl. audit may be nil.
func NewAuthService(investigators []config.Investigator, hashSvc ports.HashService, tokenSvc ports.TokenService, audit ports.AuditLogger) *AuthServiceImpl {
	dir := make(map[string]config.Investigator, len(investigators))
	for _, inv := range investigators {
		dir[inv.ID] = inv
	}
	return &AuthServiceImpl{
		directory: dir,
		hashSvc:   hashSvc,
		tokenSvc:  tokenSvc,
		audit:     audit,
	}
}

// Login verifies the investigator's API key and returns a JWT.
func (s *AuthServiceImpl) Login(ctx context.Context, investigatorID, apiKey, ip string) (string, time.Time, error) {
	inv, ok := s.directory[investigatorID]
	if !ok {
		s.record(ctx, domain.AuditSecurityViolation, investigatorID, "login attempt for unknown investigator", ip)
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(apiKey, inv.KeyHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify api key: %w", err))
	}
	if !valid {
		s.record(ctx, domain.AuditSecurityViolation, investigatorID, "login with invalid api key", ip)
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	token, expiry, err := s.tokenSvc.Generate(inv.ID, inv.Name)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.record(ctx, domain.AuditUserLogin, investigatorID, "investigator signed in", ip)
	return token, expiry, nil
}

// IsInvestigator reports whether id belongs to the directory.
func (s *AuthServiceImpl) IsInvestigator(id string) bool {
	_, ok := s.directory[id]
	return ok
}

func (s *AuthServiceImpl) record(ctx context.Context, action domain.AuditAction, actor, desc, ip string) {
	if s.audit == nil {
		return
	}
	// Failures are already logged by the audit trail.
	_, _ = s.audit.LogEvent(ctx, action, "session", actor, actor, domain.AuditDetails{
		Description: desc,
		IPAddress:   ip,
	})
}
