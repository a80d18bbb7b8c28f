package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice-serverless/internal/audit"
	"backoffice-serverless/internal/observability"
	"backoffice-serverless/internal/password"
	"backoffice-serverless/internal/token"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxEmailLength    = 254
	maxPasswordLength = 200
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (User, error)
}

type AdminStore interface {
	UpsertAdmin(ctx context.Context, email, name, passwordHash string) error
}

type ServiceDeps struct {
	Users     UserStore
	Admins    AdminStore
	Passwords *password.Policy
	Tokens    *token.Service
	Limiter   *LoginRateLimiter
	Lockout   *Lockout
	Audit     audit.Recorder
	Jobs      *audit.Dispatcher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

type Service struct {
	users     UserStore
	admins    AdminStore
	passwords *password.Policy
	tokens    *token.Service
	limiter   *LoginRateLimiter
	lockout   *Lockout
	audit     audit.Recorder
	jobs      *audit.Dispatcher
	metrics   *observability.Metrics
	logger    *zap.Logger
	// dummyHash is compared against when the email is unknown so both
	// failure paths spend one bcrypt verification.
	dummyHash string
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Users == nil || deps.Passwords == nil || deps.Tokens == nil || deps.Limiter == nil || deps.Lockout == nil || deps.Audit == nil {
		return nil, errors.New("auth service: missing dependency")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	dummy, err := deps.Passwords.Hash("timing-equalizer-not-a-password")
	if err != nil {
		return nil, fmt.Errorf("auth service: dummy hash: %w", err)
	}

	return &Service{
		users:     deps.Users,
		admins:    deps.Admins,
		passwords: deps.Passwords,
		tokens:    deps.Tokens,
		limiter:   deps.Limiter,
		lockout:   deps.Lockout,
		audit:     deps.Audit,
		jobs:      deps.Jobs,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		dummyHash: dummy,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, plain string) error {
	if email == "" {
		return validationError("email is required")
	}
	if len(email) > maxEmailLength || !emailRegex.MatchString(email) {
		return validationError("email format is invalid")
	}
	if plain == "" {
		return validationError("password is required")
	}
	if len(plain) > maxPasswordLength {
		return validationError("password format is invalid")
	}
	return nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	if err := validateCredentials(email, in.Password); err != nil {
		return nil, err
	}

	ip := strings.TrimSpace(in.IP)
	if ip == "" {
		ip = "unknown"
	}
	attempt := audit.LoginAttempt{Email: email, IP: ip, UserAgent: in.UserAgent}

	allowed, retryAfter, err := s.limiter.Allow(ctx, ip)
	if err != nil {
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonInternal, internalError(err))
	}
	if !allowed {
		s.metrics.Login(observability.ResultLimited)
		s.logger.Warn("login_rate_limited", zap.String("ip", ip))
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonRateLimited, errRateLimited(retryAfter))
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.logger.Error("login_user_lookup_failed", zap.Error(err))
			observability.CaptureError(nil, err)
		}
		s.passwords.Verify(in.Password, s.dummyHash)
		s.metrics.Login(observability.ResultFailure)
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonUnknownUser, errInvalidCredentials())
	}
	attempt.UserID = user.ID

	locked, retryAfter, err := s.lockout.Locked(ctx, email)
	if err != nil {
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonInternal, internalError(err))
	}
	if locked {
		s.metrics.Login(observability.ResultLocked)
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonAccountLocked, errAccountLocked(retryAfter))
	}

	if !s.passwords.Verify(in.Password, user.PasswordHash) {
		tripped, err := s.lockout.RegisterFailure(ctx, email)
		if err != nil {
			return nil, s.rejectLogin(ctx, attempt, audit.ReasonInternal, internalError(err))
		}
		if tripped {
			s.metrics.Lockout()
			s.logger.Warn("account_locked", zap.String("user_id", user.ID), zap.String("ip", ip))
		}
		s.metrics.Login(observability.ResultFailure)
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonInvalidPassword, errInvalidCredentials())
	}

	if !user.Active {
		s.metrics.Login(observability.ResultFailure)
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonUserInactive, errUserInactive())
	}

	if err := s.lockout.Reset(ctx, email); err != nil {
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonInternal, internalError(err))
	}

	pair, err := s.tokens.IssuePair(user.Identity(), in.RememberMe)
	if err != nil {
		return nil, s.rejectLogin(ctx, attempt, audit.ReasonInternal, internalError(err))
	}

	attempt.Success = true
	s.recordAttempt(ctx, attempt)

	session := audit.Session{
		UserID:      user.ID,
		RefreshHash: token.Hash(pair.Refresh),
		IP:          ip,
		UserAgent:   in.UserAgent,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   pair.RefreshExpiresAt,
	}
	if err := s.audit.CreateSession(ctx, session); err != nil {
		s.logger.Error("session_create_failed", zap.String("user_id", user.ID), zap.Error(err))
		observability.CaptureError(nil, err)
	}

	s.metrics.Login(observability.ResultSuccess)
	s.logger.Info("login_succeeded", zap.String("user_id", user.ID), zap.String("ip", ip))

	return &LoginResult{
		User:       viewOf(user.Identity()),
		Tokens:     pair,
		RememberMe: in.RememberMe,
	}, nil
}

// rejectLogin records the failed attempt before handing back the error.
func (s *Service) rejectLogin(ctx context.Context, attempt audit.LoginAttempt, reason string, err *Error) error {
	attempt.Success = false
	attempt.FailureReason = reason
	s.recordAttempt(ctx, attempt)
	if err.Code == CodeInternal {
		s.metrics.Login(observability.ResultError)
	}
	return err
}

func (s *Service) recordAttempt(ctx context.Context, attempt audit.LoginAttempt) {
	if attempt.At.IsZero() {
		attempt.At = time.Now().UTC()
	}
	if err := s.audit.RecordLoginAttempt(ctx, attempt); err != nil {
		s.logger.Error("login_audit_failed", zap.String("reason", attempt.FailureReason), zap.Error(err))
		observability.CaptureError(nil, err)
	}
}

// Refresh mints a new access token from a valid refresh token. The refresh
// token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshRaw string) (*LoginResult, error) {
	refreshRaw = strings.TrimSpace(refreshRaw)
	if refreshRaw == "" {
		s.metrics.Refresh(observability.ResultMissing)
		return nil, errRefreshTokenRequired()
	}

	claims, err := s.tokens.VerifyType(ctx, refreshRaw, token.TypeRefresh)
	if err != nil {
		s.metrics.Refresh(observability.ResultFailure)
		return nil, errInvalidRefreshToken(err)
	}

	access, expiresAt, err := s.tokens.Issue(claims.Identity, token.TypeAccess, s.tokens.AccessTTL())
	if err != nil {
		s.metrics.Refresh(observability.ResultError)
		return nil, internalError(err)
	}

	s.metrics.Refresh(observability.ResultSuccess)
	return &LoginResult{
		User: viewOf(claims.Identity),
		Tokens: token.Pair{
			Access:          access,
			AccessExpiresAt: expiresAt,
		},
	}, nil
}

// Logout revokes whichever tokens are present and schedules session cleanup.
// It never fails: collaborator errors are logged only.
func (s *Service) Logout(ctx context.Context, accessRaw, refreshRaw string) {
	for _, raw := range []string{accessRaw, refreshRaw} {
		if raw == "" {
			continue
		}
		if err := s.tokens.Revoke(ctx, raw); err != nil {
			s.logger.Warn("logout_revoke_failed", zap.Error(err))
			observability.CaptureError(nil, err)
		}
	}

	if refreshRaw != "" {
		refreshHash := token.Hash(refreshRaw)
		task := audit.Task{
			Name: "session_cleanup",
			Run: func(ctx context.Context) error {
				return s.audit.CleanupSessions(ctx, refreshHash)
			},
		}
		if s.jobs != nil {
			s.jobs.Submit(ctx, task)
		} else if err := task.Run(ctx); err != nil {
			s.logger.Warn("session_cleanup_failed", zap.Error(err))
		}
	}

	s.metrics.Logout()
}

// Authenticate verifies an access token.
func (s *Service) Authenticate(ctx context.Context, accessRaw string) (*token.Claims, error) {
	if strings.TrimSpace(accessRaw) == "" {
		return nil, errUnauthorized()
	}
	claims, err := s.tokens.VerifyType(ctx, accessRaw, token.TypeAccess)
	if err != nil {
		e := errUnauthorized()
		e.Err = err
		return nil, e
	}
	return claims, nil
}

// CurrentUser resolves the identity behind an access token, or nil.
func (s *Service) CurrentUser(ctx context.Context, accessRaw string) *UserView {
	claims, err := s.Authenticate(ctx, accessRaw)
	if err != nil {
		return nil
	}
	return viewOf(claims.Identity)
}

// BootstrapAdmin upserts the configured admin account. Both email and
// password empty means there is nothing to do.
func (s *Service) BootstrapAdmin(ctx context.Context, email, name, plain string) error {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" && plain == "" {
		return nil
	}
	if email == "" || plain == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("ADMIN_EMAIL %q is not a valid email", email)
	}
	if s.admins == nil {
		return errors.New("admin store is not configured")
	}

	strength := password.ScoreStrength(plain)
	if !strength.Valid {
		return fmt.Errorf("ADMIN_PASSWORD is too weak (%s): %s", strength.Tier, strings.Join(strength.Suggestions, "; "))
	}
	if name == "" {
		name = "Administrator"
	}

	hash, err := s.passwords.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := s.admins.UpsertAdmin(ctx, email, name, hash); err != nil {
		return err
	}

	s.logger.Info("admin_bootstrapped", zap.String("email", email))
	return nil
}
