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

// LoginAttemptRepository persists the append-only login attempt audit trail.
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: db.Pool}
}

const loginAttemptColumns = `id, email, ip_address, user_id, success, user_agent, failure_reason, created_at`

func scanLoginAttemptRow(scanner interface{ Scan(dest ...interface{}) error }) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	err := scanner.Scan(
		&a.ID, &a.Email, &a.IPAddress, &a.UserID,
		&a.Success, &a.UserAgent, &a.FailureReason, &a.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

func scanLoginAttemptRows(rows pgx.Rows) ([]*models.LoginAttempt, error) {
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		a, err := scanLoginAttemptRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return attempts, nil
}

// Record inserts one attempt row. Rows are never updated afterward.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) (*models.LoginAttempt, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	query := `
		INSERT INTO login_attempts (id, email, ip_address, user_id, success, user_agent, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + loginAttemptColumns + `
	`

	return scanLoginAttemptRow(r.pool.QueryRow(ctx, query,
		attempt.ID, attempt.Email, attempt.IPAddress, attempt.UserID,
		attempt.Success, attempt.UserAgent, attempt.FailureReason, time.Now(),
	))
}

// RecentByIP returns the newest attempts from an IP, newest first.
func (r *LoginAttemptRepository) RecentByIP(ctx context.Context, ipAddress string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE ip_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, ipAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts by ip: %w", err)
	}
	return scanLoginAttemptRows(rows)
}

// RecentByEmail returns the newest attempts against an account, newest first.
func (r *LoginAttemptRepository) RecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts by email: %w", err)
	}
	return scanLoginAttemptRows(rows)
}

// CountFailedByIPSince counts failures from an IP inside a window. This is
// the audit-trail view of the counter the cache keeps; operators use it to
// cross-check cache state.
func (r *LoginAttemptRepository) CountFailedByIPSince(ctx context.Context, ipAddress string, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE ip_address = $1 AND success = FALSE AND created_at >= $2`,
		ipAddress, since,
	).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Stats aggregates attempt activity over the trailing window.
func (r *LoginAttemptRepository) Stats(ctx context.Context, window time.Duration) (*models.LoginAttemptStats, error) {
	since := time.Now().Add(-window)
	stats := &models.LoginAttemptStats{
		WindowHours:    int(window.Hours()),
		TopFailedIPs:   make(map[string]int),
		FailureReasons: make(map[string]int),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE success),
		       COUNT(*) FILTER (WHERE NOT success)
		FROM login_attempts
		WHERE created_at >= $1
	`, since).Scan(&stats.TotalAttempts, &stats.SuccessfulCount, &stats.FailedCount)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	ipRows, err := r.pool.Query(ctx, `
		SELECT ip_address, COUNT(*) AS failures
		FROM login_attempts
		WHERE created_at >= $1 AND success = FALSE
		GROUP BY ip_address
		ORDER BY failures DESC
		LIMIT 10
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query top failed ips: %w", err)
	}
	defer ipRows.Close()
	for ipRows.Next() {
		var ip string
		var n int
		if err := ipRows.Scan(&ip, &n); err != nil {
			return nil, fmt.Errorf("failed to scan top failed ip: %w", err)
		}
		stats.TopFailedIPs[ip] = n
	}
	if err := ipRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	reasonRows, err := r.pool.Query(ctx, `
		SELECT failure_reason, COUNT(*) AS n
		FROM login_attempts
		WHERE created_at >= $1 AND success = FALSE AND failure_reason IS NOT NULL
		GROUP BY failure_reason
		ORDER BY n DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure reasons: %w", err)
	}
	defer reasonRows.Close()
	for reasonRows.Next() {
		var reason string
		var n int
		if err := reasonRows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure reason: %w", err)
		}
		stats.FailureReasons[reason] = n
	}
	if err := reasonRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan prunes attempts past the retention horizon.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
