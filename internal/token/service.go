// Package token issues and verifies the signed access and refresh tokens that
// back a session.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

const (
	DefaultIssuer             = "backoffice-auth"
	DefaultAccessTTL          = 15 * time.Minute
	DefaultRefreshTTL         = 7 * 24 * time.Hour
	DefaultRefreshRememberTTL = 30 * 24 * time.Hour
	MinSecretLength           = 32
)

var (
	ErrTokenInvalid     = errors.New("invalid token")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrInvalidTokenType = errors.New("unsupported token type")
	ErrWeakSecret       = errors.New("jwt secret is too short")
)

// Identity is the subset of a user record carried inside a token.
type Identity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

type Claims struct {
	Identity
	Type Type `json:"typ"`
	jwt.RegisteredClaims
}

type Pair struct {
	Access           string
	Refresh          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Config struct {
	Secret             string
	Issuer             string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RefreshRememberTTL time.Duration
}

type Service struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rememberTTL time.Duration
	revocations *RevocationStore
	now         func() time.Time
}

func NewService(cfg Config, revocations *RevocationStore) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}

	s := &Service{
		secret:      []byte(cfg.Secret),
		issuer:      strings.TrimSpace(cfg.Issuer),
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		rememberTTL: cfg.RefreshRememberTTL,
		revocations: revocations,
		now:         time.Now,
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.rememberTTL <= 0 {
		s.rememberTTL = DefaultRefreshRememberTTL
	}
	return s, nil
}

func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh lifetime for the given remember-me choice.
func (s *Service) RefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.rememberTTL
	}
	return s.refreshTTL
}

func (s *Service) Issue(identity Identity, typ Type, ttl time.Duration) (string, time.Time, error) {
	if typ != TypeAccess && typ != TypeRefresh {
		return "", time.Time{}, ErrInvalidTokenType
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("issue %s token: non-positive ttl", typ)
	}

	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Identity: identity,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.ID,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	// NumericDate truncates to seconds.
	return signed, expiresAt.Truncate(time.Second), nil
}

func (s *Service) IssuePair(identity Identity, rememberMe bool) (Pair, error) {
	access, accessExp, err := s.Issue(identity, TypeAccess, s.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := s.Issue(identity, TypeRefresh, s.RefreshTTL(rememberMe))
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks signature, algorithm, issuer, expiry and revocation. Any
// failure returns nil claims; a revocation backend failure is treated as
// revoked.
func (s *Service) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: unknown typ %q", ErrTokenInvalid, claims.Type)
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

func (s *Service) VerifyType(ctx context.Context, raw string, typ Type) (*Claims, error) {
	claims, err := s.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Revoke blacklists raw until its own expiry. Unparseable tokens carry no
// expiry and are ignored; they are rejected by Verify regardless.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || s.revocations == nil {
		return nil
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	return s.revocations.Revoke(ctx, raw, claims.ExpiresAt.Time)
}
