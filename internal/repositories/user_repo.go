package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwhitfield/bastion/internal/database"
	"github.com/mwhitfield/bastion/internal/models"
)

// UserRepository handles user account persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, password_hash, password_salt, name, role, is_active, failed_login_attempts, lockout_end, last_login_at, created_at, updated_at`

func scanUserRow(scanner interface{ Scan(dest ...interface{}) error }) (*models.User, error) {
	var u models.User
	err := scanner.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.PasswordSalt,
		&u.Name, &u.Role, &u.IsActive,
		&u.FailedLoginAttempts, &u.LockoutEnd, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &u, nil
}

// GetByEmail looks up a user by email. Matching is case-insensitive;
// emails are stored lowercased.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE email = $1
	`

	return scanUserRow(r.pool.QueryRow(ctx, query, strings.ToLower(email)))
}

// GetByID looks up a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = $1
	`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// Create inserts a new user. A duplicate email surfaces as models.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now()

	query := `
		INSERT INTO users (id, email, password_hash, password_salt, name, role, is_active, failed_login_attempts, lockout_end, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NULL, NULL, $8, $8)
		RETURNING ` + userColumns + `
	`

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, strings.ToLower(user.Email), user.PasswordHash, user.PasswordSalt,
		user.Name, user.Role, user.IsActive, now,
	))
}

// UpdateLockout writes the account-level failure counter and lockout
// expiration in one statement.
func (r *UserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockoutEnd *time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = $2, lockout_end = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, userID, failedAttempts, lockoutEnd)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordLoginSuccess clears the failure counter and lockout and stamps
// the last login time.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, lockout_end = NULL, last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
