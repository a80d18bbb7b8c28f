// Package audit persists security events: login attempts and the session
// rows created at login and removed at logout. Passwords never reach this
// package.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	ReasonRateLimited     = "rate_limited"
	ReasonAccountLocked   = "account_locked"
	ReasonUnknownUser     = "unknown_user"
	ReasonInvalidPassword = "invalid_password"
	ReasonUserInactive    = "user_inactive"
	ReasonInternal        = "internal_error"
)

type LoginAttempt struct {
	Email         string
	UserID        string
	IP            string
	UserAgent     string
	Success       bool
	FailureReason string
	At            time.Time
}

type Session struct {
	ID          string
	UserID      string
	RefreshHash string
	IP          string
	UserAgent   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type Recorder interface {
	RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error
	CreateSession(ctx context.Context, session Session) error
	CleanupSessions(ctx context.Context, refreshHash string) error
}

// PostgresRecorder writes through the auth_* stored functions installed by
// the migrations.
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

const maxUserAgentLength = 512

// truncateUserAgent caps ua at maxUserAgentLength bytes without splitting a
// rune; Postgres rejects invalid UTF-8 in TEXT columns.
func truncateUserAgent(ua string) string {
	ua = strings.ToValidUTF8(strings.TrimSpace(ua), "")
	if len(ua) <= maxUserAgentLength {
		return ua
	}
	n := maxUserAgentLength
	for n > 0 && !utf8.RuneStart(ua[n]) {
		n--
	}
	return ua[:n]
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (r *PostgresRecorder) RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error {
	if attempt.At.IsZero() {
		attempt.At = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `SELECT auth_record_login_attempt($1, $2, $3, $4, $5, $6, $7)`,
		strings.ToLower(strings.TrimSpace(attempt.Email)),
		nullable(attempt.UserID),
		attempt.IP,
		truncateUserAgent(attempt.UserAgent),
		attempt.Success,
		nullable(attempt.FailureReason),
		attempt.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) CreateSession(ctx context.Context, session Session) error {
	if session.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate session id: %w", err)
		}
		session.ID = id.String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `SELECT auth_create_session($1, $2, $3, $4, $5, $6, $7)`,
		session.ID,
		session.UserID,
		session.RefreshHash,
		session.IP,
		truncateUserAgent(session.UserAgent),
		session.CreatedAt.UTC(),
		session.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) CleanupSessions(ctx context.Context, refreshHash string) error {
	if refreshHash == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `SELECT auth_cleanup_sessions($1)`, refreshHash); err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	return nil
}
