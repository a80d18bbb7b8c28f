package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, active, created_at, updated_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &user.Active, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}

	return user, nil
}

// UpsertAdmin creates the admin account or resets its name, password and
// active flag when the email already exists.
func (r *Repository) UpsertAdmin(ctx context.Context, email, name, passwordHash string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'admin', TRUE, $5, $5)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			password_hash = EXCLUDED.password_hash,
			role = 'admin',
			active = TRUE,
			updated_at = EXCLUDED.updated_at
	`, id.String(), name, strings.ToLower(strings.TrimSpace(email)), passwordHash, now)
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}

	return nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, sessionRetention, loginAttemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if sessionRetention <= 0 {
		sessionRetention = 14 * 24 * time.Hour
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	now := time.Now().UTC()

	deletedSessions, err := r.deleteBatch(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_sessions
			WHERE expires_at < NOW() OR created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_sessions s
		USING stale
		WHERE s.id = stale.id
	`, now.Add(-sessionRetention), batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale sessions: %w", err)
	}

	deletedAttempts, err := r.deleteBatch(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_login_attempts
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts a
		USING stale
		WHERE a.id = stale.id
	`, now.Add(-loginAttemptRetention), batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale login attempts: %w", err)
	}

	return CleanupResult{
		DeletedSessions:      deletedSessions,
		DeletedLoginAttempts: deletedAttempts,
	}, nil
}

func (r *Repository) deleteBatch(ctx context.Context, query string, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
