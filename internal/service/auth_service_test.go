package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports/mocks"
	"solana-forensics/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testInvestigators = []config.Investigator{
	{ID: "inv-1", Name: "Alice Analyst", KeyHash: "$argon2id$stored"},
}

func setupAuthService(t *testing.T) (*AuthServiceImpl, *mocks.MockHashService, *mocks.MockTokenService, *mocks.MockAuditLogger) {
	ctrl := gomock.NewController(t)
	hashSvc := mocks.NewMockHashService(ctrl)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	audit := mocks.NewMockAuditLogger(ctrl)
	return NewAuthService(testInvestigators, hashSvc, tokenSvc, audit), hashSvc, tokenSvc, audit
}

func TestAuthService_Login_Success(t *testing.T) {
	svc, hashSvc, tokenSvc, audit := setupAuthService(t)
	expiry := time.Now().Add(time.Hour)

	hashSvc.EXPECT().Verify("key-1", "$argon2id$stored").Return(true, nil)
	tokenSvc.EXPECT().Generate("inv-1", "Alice Analyst").Return("jwt-token", expiry, nil)
	audit.EXPECT().LogEvent(gomock.Any(), domain.AuditUserLogin, "session", "inv-1", "inv-1", gomock.Any()).Return(&domain.AuditLogEntry{}, nil)

	token, exp, err := svc.Login(context.Background(), "inv-1", "key-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, expiry, exp)
}

func TestAuthService_Login_UnknownInvestigator(t *testing.T) {
	svc, _, _, audit := setupAuthService(t)

	audit.EXPECT().LogEvent(gomock.Any(), domain.AuditSecurityViolation, "session", "ghost", "ghost", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.AuditAction, _, _, _ string, d domain.AuditDetails) (*domain.AuditLogEntry, error) {
			assert.Equal(t, "10.0.0.9", d.IPAddress)
			return &domain.AuditLogEntry{}, nil
		})

	_, _, err := svc.Login(context.Background(), "ghost", "key", "10.0.0.9")
	assert.True(t, apperror.HasCode(err, "AUTH_001"))
}

func TestAuthService_Login_WrongKey(t *testing.T) {
	svc, hashSvc, _, audit := setupAuthService(t)

	hashSvc.EXPECT().Verify("bad", "$argon2id$stored").Return(false, nil)
	audit.EXPECT().LogEvent(gomock.Any(), domain.AuditSecurityViolation, gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

	_, _, err := svc.Login(context.Background(), "inv-1", "bad", "")
	assert.True(t, apperror.HasCode(err, "AUTH_001"))
}

func TestAuthService_Login_HashError(t *testing.T) {
	svc, hashSvc, _, _ := setupAuthService(t)
	hashSvc.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(false, errors.New("invalid hash format"))

	_, _, err := svc.Login(context.Background(), "inv-1", "k", "")
	assert.True(t, apperror.HasCode(err, "SYS_001"))
}

func TestAuthService_IsInvestigator(t *testing.T) {
	svc := NewAuthService(testInvestigators, NewArgon2HashService(), nil, nil)
	assert.True(t, svc.IsInvestigator("inv-1"))
	assert.False(t, svc.IsInvestigator("inv-2"))
}

func TestAuthService_Login_RealHash(t *testing.T) {
	hasher := NewArgon2HashService()
	digest, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	svc := NewAuthService([]config.Investigator{{ID: "inv-9", Name: "Bob", KeyHash: digest}},
		hasher, NewJWTTokenService(testJWTSecret, time.Hour, "solana-forensics"), nil)

	token, _, err := svc.Login(context.Background(), "inv-9", "s3cret", "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}
