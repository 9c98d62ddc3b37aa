package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/allo-oral/clinicaflow-api/internal/models"
)

const userColumns = `id, email, password_hash, full_name, clinic_name, avatar_url, tenant_id, refresh_token_hash, reset_token_hash, reset_token_expiry, created_at, updated_at`

// UserRepository provides database access for account and session state.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.TenantID == "" {
		user.TenantID = user.ID
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, password_hash, full_name, clinic_name, avatar_url, tenant_id, created_at, updated_at) VALUES (:id, :email, :password_hash, :full_name, :clinic_name, :avatar_url, :tenant_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetRefreshTokenHash overwrites the stored refresh-token hash, replacing
// whatever session was active before.
func (r *UserRepository) SetRefreshTokenHash(ctx context.Context, userID, hash string) error {
	const query = `UPDATE users SET refresh_token_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("set refresh token hash: %w", err)
	}
	return nil
}

// RotateRefreshTokenHash swaps the stored hash only if it still matches the
// presented one. A false return means another request rotated it first (or
// the token was revoked), which callers treat as reuse.
func (r *UserRepository) RotateRefreshTokenHash(ctx context.Context, userID, oldHash, newHash string) (bool, error) {
	const query = `UPDATE users SET refresh_token_hash = $3, updated_at = $4 WHERE id = $1 AND refresh_token_hash = $2`
	res, err := r.db.ExecContext(ctx, query, userID, oldHash, newHash, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("rotate refresh token hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rotate refresh token hash: %w", err)
	}
	return affected == 1, nil
}

// ClearRefreshTokenHash nulls out the stored hash. Idempotent.
func (r *UserRepository) ClearRefreshTokenHash(ctx context.Context, userID string) error {
	const query = `UPDATE users SET refresh_token_hash = NULL, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear refresh token hash: %w", err)
	}
	return nil
}

// SetResetToken stores the hash and expiry of a freshly issued reset code,
// superseding any earlier one.
func (r *UserRepository) SetResetToken(ctx context.Context, userID, hash string, expiry time.Time) error {
	const query = `UPDATE users SET reset_token_hash = $2, reset_token_expiry = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, hash, expiry, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// CompletePasswordReset stores the new password hash and clears the reset
// fields together with the refresh-token hash, so a password change always
// ends every outstanding session.
func (r *UserRepository) CompletePasswordReset(ctx context.Context, userID, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_token_expiry = NULL, refresh_token_hash = NULL, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, passwordHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete password reset: %w", err)
	}
	return nil
}

// CreateAuditLog stores a session audit entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, detail, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :detail, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
