package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwhitfield/bastion/internal/database"
	"github.com/mwhitfield/bastion/internal/models"
)

// BlockedIPRepository is the durable ledger of blocked IP addresses.
// The cache layer's blocked flag is only a cache over these rows.
type BlockedIPRepository struct {
	pool *pgxpool.Pool
}

// NewBlockedIPRepository creates a new BlockedIPRepository
func NewBlockedIPRepository(db *database.DB) *BlockedIPRepository {
	return &BlockedIPRepository{pool: db.Pool}
}

const blockedIPColumns = `id, ip_address, reason, blocked_until, failed_attempt_count, is_manual, unblocked_at, created_at, updated_at`

func scanBlockedIPRow(scanner interface{ Scan(dest ...interface{}) error }) (*models.BlockedIP, error) {
	var b models.BlockedIP
	err := scanner.Scan(
		&b.ID, &b.IPAddress, &b.Reason, &b.BlockedUntil,
		&b.FailedAttemptCount, &b.IsManual, &b.UnblockedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &b, nil
}

func scanBlockedIPRows(rows pgx.Rows) ([]*models.BlockedIP, error) {
	defer rows.Close()

	blocks := make([]*models.BlockedIP, 0)
	for rows.Next() {
		b, err := scanBlockedIPRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return blocks, nil
}

// GetByIP returns the ledger record for an IP, or models.ErrNotFound.
func (r *BlockedIPRepository) GetByIP(ctx context.Context, ipAddress string) (*models.BlockedIP, error) {
	query := `
		SELECT ` + blockedIPColumns + `
		FROM blocked_ips WHERE ip_address = $1
	`

	return scanBlockedIPRow(r.pool.QueryRow(ctx, query, ipAddress))
}

// Upsert inserts the record or, when a row for the IP already exists,
// replaces its duration, reason and counters. The unique index on
// ip_address guarantees at most one row per IP.
func (r *BlockedIPRepository) Upsert(ctx context.Context, block *models.BlockedIP) (*models.BlockedIP, error) {
	if block.ID == "" {
		block.ID = uuid.New().String()
	}
	now := time.Now()

	query := `
		INSERT INTO blocked_ips (id, ip_address, reason, blocked_until, failed_attempt_count, is_manual, unblocked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (ip_address) DO UPDATE SET
			reason = EXCLUDED.reason,
			blocked_until = EXCLUDED.blocked_until,
			failed_attempt_count = EXCLUDED.failed_attempt_count,
			is_manual = EXCLUDED.is_manual,
			unblocked_at = EXCLUDED.unblocked_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + blockedIPColumns + `
	`

	return scanBlockedIPRow(r.pool.QueryRow(ctx, query,
		block.ID, block.IPAddress, block.Reason, block.BlockedUntil,
		block.FailedAttemptCount, block.IsManual, block.UnblockedAt, now,
	))
}

// Delete hard-removes the ledger row for an IP.
func (r *BlockedIPRepository) Delete(ctx context.Context, ipAddress string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM blocked_ips WHERE ip_address = $1`, ipAddress)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListAll returns every ledger row, most recent first. Callers compute
// activeness from blocked_until.
func (r *BlockedIPRepository) ListAll(ctx context.Context) ([]*models.BlockedIP, error) {
	query := `
		SELECT ` + blockedIPColumns + `
		FROM blocked_ips ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked ips: %w", err)
	}
	return scanBlockedIPRows(rows)
}

// ListActive returns only rows whose block is still in effect.
func (r *BlockedIPRepository) ListActive(ctx context.Context) ([]*models.BlockedIP, error) {
	query := `
		SELECT ` + blockedIPColumns + `
		FROM blocked_ips
		WHERE blocked_until IS NULL OR blocked_until > CURRENT_TIMESTAMP
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active blocked ips: %w", err)
	}
	return scanBlockedIPRows(rows)
}

// RemoveExpired purges rows whose block has lapsed. Storage hygiene only:
// activeness is always computed from blocked_until at read time, so
// correctness never depends on this sweep running.
func (r *BlockedIPRepository) RemoveExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM blocked_ips WHERE blocked_until IS NOT NULL AND blocked_until <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
