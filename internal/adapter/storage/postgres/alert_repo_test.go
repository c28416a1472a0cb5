package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alertCols() []string {
	return []string{"id", "created_at", "severity", "alert_type", "rule_id", "title", "description",
		"transaction_id", "wallet_address", "evidence", "status", "resolution", "notifications"}
}

func newTestAlert(t *testing.T) *domain.Alert {
	t.Helper()
	return &domain.Alert{
		ID:            "alert_1",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Severity:      domain.SeverityCritical,
		Type:          "large_transfer",
		RuleID:        "large-transfer",
		Title:         "Large transfer",
		Description:   "2.5 SOL moved",
		TransactionID: "5sig",
		WalletAddress: "A",
		Evidence:      newTestEvidence(t),
		Status:        domain.AlertStatusNew,
	}
}

func alertRow(t *testing.T, a *domain.Alert) *pgxmock.Rows {
	t.Helper()
	ev, err := json.Marshal(a.Evidence)
	require.NoError(t, err)
	logs, err := json.Marshal(a.Notifications)
	require.NoError(t, err)
	var res []byte
	if a.Resolution != nil {
		res, err = json.Marshal(a.Resolution)
		require.NoError(t, err)
	}
	return pgxmock.NewRows(alertCols()).AddRow(
		a.ID, a.Timestamp, a.Severity, a.Type, a.RuleID, a.Title, a.Description,
		a.TransactionID, a.WalletAddress, ev, a.Status, res, logs,
	)
}

func TestAlertRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	a := newTestAlert(t)

	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(
			a.ID, a.Timestamp, a.Severity, a.Type, a.RuleID, a.Title, a.Description,
			a.TransactionID, a.WalletAddress, pgxmock.AnyArg(), a.Status, []byte(nil), []byte("[]"),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	res := &domain.Resolution{By: "alice", At: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Note: "benign"}

	mock.ExpectExec("UPDATE alerts SET status").
		WithArgs(domain.AlertStatusResolved, pgxmock.AnyArg(), "alert_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "alert_1", domain.AlertStatusResolved, res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_UpdateStatus_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)

	mock.ExpectExec("UPDATE alerts SET status").
		WithArgs(domain.AlertStatusAcknowledged, []byte(nil), "alert_x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdateStatus(context.Background(), "alert_x", domain.AlertStatusAcknowledged, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_AppendNotifications(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)

	t.Run("empty is a no-op", func(t *testing.T) {
		require.NoError(t, repo.AppendNotifications(context.Background(), "alert_1", nil))
	})

	t.Run("concatenates", func(t *testing.T) {
		mock.ExpectExec("UPDATE alerts SET notifications = notifications \\|\\|").
			WithArgs(pgxmock.AnyArg(), "alert_1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.AppendNotifications(context.Background(), "alert_1", []domain.NotificationLog{
			{Channel: "log", Status: domain.DeliverySent},
		})
		require.NoError(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_GetByID_DecodesNestedFields(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	a := newTestAlert(t)
	a.Status = domain.AlertStatusResolved
	a.Resolution = &domain.Resolution{By: "alice", At: a.Timestamp.Add(time.Hour)}
	a.Notifications = []domain.NotificationLog{{Channel: "webhook", Status: domain.DeliveryFailed, Error: "timeout"}}

	mock.ExpectQuery("SELECT .+ FROM alerts WHERE id").
		WithArgs(a.ID).
		WillReturnRows(alertRow(t, a))

	got, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Evidence)
	assert.True(t, got.Evidence.VerifyIntegrity())
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "alice", got.Resolution.By)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "timeout", got.Notifications[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM alerts WHERE id").
		WithArgs("alert_missing").
		WillReturnRows(pgxmock.NewRows(alertCols()))

	got, err := repo.GetByID(context.Background(), "alert_missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestAlertRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAlertRepo(mock)
	a := newTestAlert(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM alerts WHERE status = \\$1 AND wallet_address = \\$2").
		WithArgs(domain.AlertStatusNew, "A").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT .+ FROM alerts WHERE .+ ORDER BY created_at DESC").
		WithArgs(domain.AlertStatusNew, "A", 20, 0).
		WillReturnRows(alertRow(t, a))

	items, total, err := repo.List(context.Background(), ports.AlertFilter{
		Status:        domain.AlertStatusNew,
		WalletAddress: "A",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
