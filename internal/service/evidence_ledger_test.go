package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"
	"solana-forensics/internal/core/ports/mocks"
	"solana-forensics/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestLedger() (*EvidenceLedger, *AuditTrail) {
	trail := NewAuditTrail(nil, 0, zerolog.Nop())
	return NewEvidenceLedger(nil, trail, zerolog.Nop()), trail
}

func sampleParams() domain.NewEvidenceParams {
	return domain.NewEvidenceParams{
		TransactionID: "5xSig",
		Type:          domain.EvidenceTypeTransaction,
		Description:   "large transfer out of hot wallet",
		Payload:       map[string]interface{}{"amount": 150, "from": "A", "to": "B"},
		Investigator:  "alice",
		CaseID:        "CASE-7",
	}
}

func TestEvidenceLedger_CreateEvidence(t *testing.T) {
	l, trail := newTestLedger()
	ctx := context.Background()

	ev, err := l.CreateEvidence(ctx, sampleParams())
	require.NoError(t, err)

	assert.True(t, l.VerifyIntegrity(ev))
	require.Len(t, ev.ChainOfCustody, 1)
	assert.Equal(t, domain.CustodyCreated, ev.ChainOfCustody[0].Action)
	assert.Equal(t, "alice", ev.ChainOfCustody[0].Actor)
	assert.Equal(t, domain.PriorityMedium, ev.Metadata.Priority)

	entries, _, _ := trail.Query(ctx, ports.AuditFilter{Action: domain.AuditEvidenceCreated})
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].ResourceID)
	assert.Equal(t, "alice", entries[0].Actor)
}

func TestEvidenceLedger_StoreRejectsTamperedRecord(t *testing.T) {
	l, _ := newTestLedger()
	ev, err := domain.NewEvidence(sampleParams(), time.Now())
	require.NoError(t, err)

	ev.Description = "edited"
	err = l.Store(context.Background(), ev)
	assert.True(t, apperror.HasCode(err, "REQ_001"))
}

func TestEvidenceLedger_StoreIsIdempotent(t *testing.T) {
	l, trail := newTestLedger()
	ctx := context.Background()
	ev, _ := domain.NewEvidence(sampleParams(), time.Now())

	require.NoError(t, l.Store(ctx, ev))
	require.NoError(t, l.Store(ctx, ev))

	_, total, _ := l.List(ctx, ports.EvidenceFilter{})
	assert.Equal(t, 1, total)
	_, audits, _ := trail.Query(ctx, ports.AuditFilter{Action: domain.AuditEvidenceCreated})
	assert.Equal(t, 1, audits)
}

func TestEvidenceLedger_AppendCustody(t *testing.T) {
	l, trail := newTestLedger()
	ctx := context.Background()
	ev, _ := l.CreateEvidence(ctx, sampleParams())

	require.NoError(t, l.AppendCustody(ctx, ev.ID, domain.CustodyTransferred, "bob", "handed to legal"))

	got, err := l.Get(ctx, ev.ID, "")
	require.NoError(t, err)
	require.Len(t, got.ChainOfCustody, 2)
	assert.Equal(t, domain.CustodyTransferred, got.ChainOfCustody[1].Action)
	assert.True(t, got.VerifyCustody().Valid)
	assert.True(t, got.VerifyIntegrity(), "custody never changes the record hash")

	_, n, _ := trail.Query(ctx, ports.AuditFilter{Action: domain.AuditEvidenceTransferred})
	assert.Equal(t, 1, n)
}

func TestEvidenceLedger_AppendCustody_Errors(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	err := l.AppendCustody(ctx, "evidence_missing", domain.CustodyAccessed, "bob", "look")
	assert.True(t, apperror.IsNotFound(err))
	assert.True(t, apperror.HasCode(err, "EVD_001"))

	ev, _ := l.CreateEvidence(ctx, sampleParams())
	err = l.AppendCustody(ctx, ev.ID, domain.CustodyCreated, "bob", "again")
	assert.True(t, apperror.HasCode(err, "EVD_003"))
	err = l.AppendCustody(ctx, ev.ID, "shredded", "bob", "gone")
	assert.True(t, apperror.HasCode(err, "EVD_003"))
}

func TestEvidenceLedger_GetRecordsAccess(t *testing.T) {
	l, trail := newTestLedger()
	ctx := context.Background()
	ev, _ := l.CreateEvidence(ctx, sampleParams())

	got, err := l.Get(ctx, ev.ID, "carol")
	require.NoError(t, err)
	require.Len(t, got.ChainOfCustody, 2)
	assert.Equal(t, domain.CustodyAccessed, got.ChainOfCustody[1].Action)
	assert.Equal(t, "carol", got.ChainOfCustody[1].Actor)

	_, n, _ := trail.Query(ctx, ports.AuditFilter{Action: domain.AuditEvidenceAccessed, Actor: "carol"})
	assert.Equal(t, 1, n)

	got.ChainOfCustody = nil
	again, _ := l.Get(ctx, ev.ID, "")
	assert.Len(t, again.ChainOfCustody, 2, "callers receive copies")
}

func TestEvidenceLedger_UpdateMetadata(t *testing.T) {
	l, trail := newTestLedger()
	ctx := context.Background()
	ev, _ := l.CreateEvidence(ctx, sampleParams())

	high := domain.PriorityHigh
	notes := "linked to exchange deposit"
	got, err := l.UpdateMetadata(ctx, ev.ID, "dave", MetadataUpdate{Priority: &high, Notes: &notes, Tags: []string{"exchange"}})
	require.NoError(t, err)

	assert.Equal(t, domain.PriorityHigh, got.Metadata.Priority)
	assert.Equal(t, []string{"exchange"}, got.Metadata.Tags)
	assert.Equal(t, ev.Hash, got.Hash)
	assert.True(t, got.VerifyIntegrity())
	require.Len(t, got.ChainOfCustody, 2)
	assert.Equal(t, domain.CustodyModified, got.ChainOfCustody[1].Action)
	assert.Equal(t, "metadata updated: priority, tags, notes", got.ChainOfCustody[1].Description)

	entries, _, _ := trail.Query(ctx, ports.AuditFilter{Action: domain.AuditEvidenceModified})
	require.Len(t, entries, 1)
	assert.Equal(t, "medium", entries[0].Details.Before["priority"])
	assert.Equal(t, "high", entries[0].Details.After["priority"])

	same, err := l.UpdateMetadata(ctx, ev.ID, "dave", MetadataUpdate{Priority: &high})
	require.NoError(t, err)
	assert.Len(t, same.ChainOfCustody, 2, "no-op update records nothing")

	bad := domain.Priority("urgent")
	_, err = l.UpdateMetadata(ctx, ev.ID, "dave", MetadataUpdate{Priority: &bad})
	assert.True(t, apperror.HasCode(err, "REQ_001"))
}

func TestEvidenceLedger_Verify(t *testing.T) {
	l, trail := newTestLedger()
	ctx := context.Background()
	ev, _ := l.CreateEvidence(ctx, sampleParams())

	r, err := l.Verify(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.Equal(t, -1, r.Custody.BrokenIndex)

	l.records[ev.ID].ev.Payload["amount"] = 1

	r, err = l.Verify(ctx, ev.ID)
	require.NoError(t, err, "tampering is a result, not an error")
	assert.False(t, r.Valid)
	assert.False(t, r.HashValid)
	assert.NotEqual(t, r.StoredHash, r.ComputedHash)

	_, n, _ := trail.Query(ctx, ports.AuditFilter{Action: domain.AuditSecurityViolation})
	assert.GreaterOrEqual(t, n, 1)
}

func TestEvidenceLedger_List(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p := sampleParams()
		p.TransactionID = fmt.Sprintf("sig%d", i)
		if i%2 == 0 {
			p.CaseID = "CASE-9"
		}
		l.now = func() time.Time { return *at(int64(i)) }
		_, err := l.CreateEvidence(ctx, p)
		require.NoError(t, err)
	}

	all, total, err := l.List(ctx, ports.EvidenceFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, "sig0", all[0].TransactionID)
	assert.Equal(t, "sig4", all[4].TransactionID)

	page, total, _ := l.List(ctx, ports.EvidenceFilter{CaseID: "CASE-9", Offset: 1, Limit: 1})
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "sig2", page[0].TransactionID)

	_, total, _ = l.List(ctx, ports.EvidenceFilter{TransactionID: "sig3"})
	assert.Equal(t, 1, total)
}

func TestEvidenceLedger_ConcurrentCustodyAppends(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	ev, _ := l.CreateEvidence(ctx, sampleParams())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.AppendCustody(ctx, ev.ID, domain.CustodyAccessed, fmt.Sprintf("reader-%d", i), "read"))
		}(i)
	}
	wg.Wait()

	got, _ := l.Get(ctx, ev.ID, "")
	assert.Len(t, got.ChainOfCustody, 21)
	assert.True(t, got.VerifyCustody().Valid)
}

func TestEvidenceLedger_Repository(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockEvidenceRepository(ctrl)
	l := NewEvidenceLedger(repo, nil, zerolog.Nop())
	ctx := context.Background()

	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("unique violation"))
	_, err := l.CreateEvidence(ctx, sampleParams())
	assert.True(t, apperror.HasCode(err, "SYS_001"))

	stored, _ := domain.NewEvidence(sampleParams(), time.Now())
	repo.EXPECT().GetByID(gomock.Any(), stored.ID).Return(&stored, nil)
	repo.EXPECT().AppendCustody(gomock.Any(), stored.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, e domain.ChainOfCustodyEntry) error {
			assert.Equal(t, domain.CustodyAccessed, e.Action)
			assert.NotEqual(t, stored.ChainOfCustody[0].Hash, e.Hash)
			return nil
		})
	got, err := l.Get(ctx, stored.ID, "erin")
	require.NoError(t, err)
	assert.Len(t, got.ChainOfCustody, 2)

	repo.EXPECT().GetByID(gomock.Any(), "evidence_none").Return(nil, nil)
	_, err = l.Get(ctx, "evidence_none", "")
	assert.True(t, apperror.IsNotFound(err))

	repo.EXPECT().AppendCustody(gomock.Any(), stored.ID, gomock.Any()).Return(errors.New("timeout"))
	err = l.AppendCustody(ctx, stored.ID, domain.CustodyTransferred, "erin", "to court")
	assert.Error(t, err)
	again, _ := l.Get(ctx, stored.ID, "")
	assert.Len(t, again.ChainOfCustody, 2, "failed write leaves the chain untouched")

	filter := ports.EvidenceFilter{CaseID: "CASE-7"}
	repo.EXPECT().List(gomock.Any(), filter).Return([]domain.Evidence{stored}, 1, nil)
	items, total, err := l.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)
}
