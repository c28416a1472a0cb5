package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const auditColumns = `id, action, resource, resource_id, actor, created_at, details, hash`

type auditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed AuditRepository. The table is
// append-only apart from retention pruning.
func NewAuditRepo(pool Pool) ports.AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Insert(ctx context.Context, e *domain.AuditLogEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("auditRepo.Insert: encode details: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Action, e.Resource, e.ResourceID, e.Actor, e.Timestamp, details, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("auditRepo.Insert: %w", err)
	}
	return nil
}

func (r *auditRepo) GetByID(ctx context.Context, id string) (*domain.AuditLogEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
	return scanAuditEntry(row)
}

func (r *auditRepo) Query(ctx context.Context, f ports.AuditFilter) ([]domain.AuditLogEntry, int, error) {
	var conds []string
	var args []any
	argIdx := 1

	if f.From != nil {
		conds = append(conds, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		conds = append(conds, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *f.To)
		argIdx++
	}
	if f.Actor != "" {
		conds = append(conds, fmt.Sprintf("actor = $%d", argIdx))
		args = append(args, f.Actor)
		argIdx++
	}
	if f.Action != "" {
		conds = append(conds, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, f.Action)
		argIdx++
	}
	if f.Resource != "" {
		conds = append(conds, fmt.Sprintf("resource = $%d", argIdx))
		args = append(args, f.Resource)
		argIdx++
	}
	if f.RiskLevel != "" {
		conds = append(conds, fmt.Sprintf("details->>'riskLevel' = $%d", argIdx))
		args = append(args, f.RiskLevel)
		argIdx++
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("auditRepo.Query count: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("auditRepo.Query: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (r *auditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.DeleteBefore: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAuditEntry(row pgx.Row) (*domain.AuditLogEntry, error) {
	var (
		e       domain.AuditLogEntry
		details []byte
	)
	err := row.Scan(&e.ID, &e.Action, &e.Resource, &e.ResourceID, &e.Actor, &e.Timestamp, &details, &e.Hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanAuditEntry: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()

	dec := json.NewDecoder(bytes.NewReader(details))
	dec.UseNumber()
	if err := dec.Decode(&e.Details); err != nil {
		return nil, fmt.Errorf("scanAuditEntry: details: %w", err)
	}
	return &e, nil
}
