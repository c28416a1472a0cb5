package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"solana-forensics/internal/core/domain"
	"solana-forensics/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const evidenceColumns = `id, transaction_id, evidence_type, description, payload, hash, metadata, created_at`

const custodyColumns = `evidence_id, seq, action, actor, description, hash, created_at`

type evidenceRepo struct {
	pool Pool
}

// NewEvidenceRepo creates a new PostgreSQL-backed EvidenceRepository.
func NewEvidenceRepo(pool Pool) ports.EvidenceRepository {
	return &evidenceRepo{pool: pool}
}

// Create inserts the record and its custody chain in one transaction.
func (r *evidenceRepo) Create(ctx context.Context, ev *domain.Evidence) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("evidenceRepo.Create: encode payload: %w", err)
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("evidenceRepo.Create: encode metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("evidenceRepo.Create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO evidence (`+evidenceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.TransactionID, ev.Type, ev.Description, payload, ev.Hash, meta, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("evidenceRepo.Create: %w", err)
	}

	for i, c := range ev.ChainOfCustody {
		_, err = tx.Exec(ctx,
			`INSERT INTO evidence_custody (`+custodyColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.ID, i, c.Action, c.Actor, c.Description, c.Hash, c.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("evidenceRepo.Create: custody %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("evidenceRepo.Create: commit: %w", err)
	}
	return nil
}

func (r *evidenceRepo) AppendCustody(ctx context.Context, evidenceID string, c domain.ChainOfCustodyEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO evidence_custody (`+custodyColumns+`)
		 SELECT $1, COALESCE(MAX(seq), -1) + 1, $2, $3, $4, $5, $6
		 FROM evidence_custody WHERE evidence_id = $1`,
		evidenceID, c.Action, c.Actor, c.Description, c.Hash, c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("evidenceRepo.AppendCustody: %w", err)
	}
	return nil
}

func (r *evidenceRepo) UpdateMetadata(ctx context.Context, evidenceID string, meta domain.EvidenceMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("evidenceRepo.UpdateMetadata: encode: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE evidence SET metadata = $1 WHERE id = $2`, raw, evidenceID)
	if err != nil {
		return fmt.Errorf("evidenceRepo.UpdateMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("evidenceRepo.UpdateMetadata: evidence %s not found", evidenceID)
	}
	return nil
}

func (r *evidenceRepo) GetByID(ctx context.Context, id string) (*domain.Evidence, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id)
	ev, err := scanEvidence(row)
	if err != nil || ev == nil {
		return ev, err
	}

	chains, err := r.custodyFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	ev.ChainOfCustody = chains[id]
	return ev, nil
}

func (r *evidenceRepo) List(ctx context.Context, f ports.EvidenceFilter) ([]domain.Evidence, int, error) {
	where, args := evidenceWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM evidence`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("evidenceRepo.List count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	argIdx := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM evidence%s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d`,
		evidenceColumns, where, argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("evidenceRepo.List: %w", err)
	}
	defer rows.Close()

	var out []domain.Evidence
	var ids []string
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("evidenceRepo.List rows: %w", err)
	}
	if len(ids) == 0 {
		return out, total, nil
	}

	chains, err := r.custodyFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].ChainOfCustody = chains[out[i].ID]
	}
	return out, total, nil
}

func (r *evidenceRepo) custodyFor(ctx context.Context, ids []string) (map[string][]domain.ChainOfCustodyEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+custodyColumns+` FROM evidence_custody WHERE evidence_id = ANY($1) ORDER BY evidence_id, seq`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("evidenceRepo.custody: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.ChainOfCustodyEntry, len(ids))
	for rows.Next() {
		var (
			evidenceID string
			seq        int
			c          domain.ChainOfCustodyEntry
		)
		if err := rows.Scan(&evidenceID, &seq, &c.Action, &c.Actor, &c.Description, &c.Hash, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("evidenceRepo.custody scan: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		out[evidenceID] = append(out[evidenceID], c)
	}
	return out, rows.Err()
}

func evidenceWhere(f ports.EvidenceFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.TransactionID != "" {
		add("transaction_id = $%d", f.TransactionID)
	}
	if f.CaseID != "" {
		add("metadata->>'caseId' = $%d", f.CaseID)
	}
	if f.Type != "" {
		add("evidence_type = $%d", f.Type)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvidence(row pgx.Row) (*domain.Evidence, error) {
	var (
		ev      domain.Evidence
		payload []byte
		meta    []byte
	)
	err := row.Scan(&ev.ID, &ev.TransactionID, &ev.Type, &ev.Description, &payload, &ev.Hash, &meta, &ev.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanEvidence: %w", err)
	}

	if ev.Payload, err = domain.DecodePayload(payload); err != nil {
		return nil, fmt.Errorf("scanEvidence: payload: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("scanEvidence: metadata: %w", err)
		}
	}
	ev.Timestamp = ev.Timestamp.UTC()
	return &ev, nil
}
