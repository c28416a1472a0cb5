package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const alertColumns = `id, created_at, severity, alert_type, rule_id, title, description,
	transaction_id, wallet_address, evidence, status, resolution, notifications`

type alertRepo struct {
	pool Pool
}

// NewAlertRepo creates a new PostgreSQL-backed AlertRepository.
func NewAlertRepo(pool Pool) ports.AlertRepository {
	return &alertRepo{pool: pool}
}

func (r *alertRepo) Create(ctx context.Context, a *domain.Alert) error {
	evidence, err := jsonOrNil(a.Evidence)
	if err != nil {
		return fmt.Errorf("alertRepo.Create: encode evidence: %w", err)
	}
	resolution, err := jsonOrNil(a.Resolution)
	if err != nil {
		return fmt.Errorf("alertRepo.Create: encode resolution: %w", err)
	}
	notifications, err := json.Marshal(nonNilLogs(a.Notifications))
	if err != nil {
		return fmt.Errorf("alertRepo.Create: encode notifications: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO alerts (`+alertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.Timestamp, a.Severity, a.Type, a.RuleID, a.Title, a.Description,
		a.TransactionID, a.WalletAddress, evidence, a.Status, resolution, notifications,
	)
	if err != nil {
		return fmt.Errorf("alertRepo.Create: %w", err)
	}
	return nil
}

func (r *alertRepo) UpdateStatus(ctx context.Context, id string, status domain.AlertStatus, res *domain.Resolution) error {
	resolution, err := jsonOrNil(res)
	if err != nil {
		return fmt.Errorf("alertRepo.UpdateStatus: encode resolution: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE alerts SET status = $1, resolution = COALESCE($2, resolution) WHERE id = $3`,
		status, resolution, id,
	)
	if err != nil {
		return fmt.Errorf("alertRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alertRepo.UpdateStatus: alert %s not found", id)
	}
	return nil
}

// AppendNotifications concatenates logs onto the stored JSONB array.
func (r *alertRepo) AppendNotifications(ctx context.Context, id string, logs []domain.NotificationLog) error {
	if len(logs) == 0 {
		return nil
	}
	raw, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("alertRepo.AppendNotifications: encode: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE alerts SET notifications = notifications || $1::jsonb WHERE id = $2`,
		raw, id,
	)
	if err != nil {
		return fmt.Errorf("alertRepo.AppendNotifications: %w", err)
	}
	return nil
}

func (r *alertRepo) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (r *alertRepo) List(ctx context.Context, f ports.AlertFilter) ([]domain.Alert, int, error) {
	var conds []string
	var args []any
	argIdx := 1

	if f.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
		argIdx++
	}
	if f.Severity != "" {
		conds = append(conds, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, f.Severity)
		argIdx++
	}
	if f.WalletAddress != "" {
		conds = append(conds, fmt.Sprintf("wallet_address = $%d", argIdx))
		args = append(args, f.WalletAddress)
		argIdx++
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("alertRepo.List count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM alerts%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		alertColumns, where, argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("alertRepo.List: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a                                  domain.Alert
		evidence, resolution, notification []byte
	)
	err := row.Scan(
		&a.ID, &a.Timestamp, &a.Severity, &a.Type, &a.RuleID, &a.Title, &a.Description,
		&a.TransactionID, &a.WalletAddress, &evidence, &a.Status, &resolution, &notification,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanAlert: %w", err)
	}
	a.Timestamp = a.Timestamp.UTC()

	if len(evidence) > 0 {
		// UseNumber keeps the embedded payload hash-stable.
		dec := json.NewDecoder(bytes.NewReader(evidence))
		dec.UseNumber()
		a.Evidence = &domain.Evidence{}
		if err := dec.Decode(a.Evidence); err != nil {
			return nil, fmt.Errorf("scanAlert: evidence: %w", err)
		}
	}
	if len(resolution) > 0 {
		a.Resolution = &domain.Resolution{}
		if err := json.Unmarshal(resolution, a.Resolution); err != nil {
			return nil, fmt.Errorf("scanAlert: resolution: %w", err)
		}
	}
	if len(notification) > 0 {
		if err := json.Unmarshal(notification, &a.Notifications); err != nil {
			return nil, fmt.Errorf("scanAlert: notifications: %w", err)
		}
	}
	return &a, nil
}

func jsonOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case *domain.Evidence:
		if t == nil {
			return nil, nil
		}
	case *domain.Resolution:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nonNilLogs(logs []domain.NotificationLog) []domain.NotificationLog {
	if logs == nil {
		return []domain.NotificationLog{}
	}
	return logs
}
