package auth

import (
	"time"

	"backoffice-serverless/internal/token"
)

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) Identity() token.Identity {
	return token.Identity{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.Role,
		Active: u.Active,
	}
}

// UserView is the identity payload returned to clients.
type UserView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

func viewOf(identity token.Identity) *UserView {
	return &UserView{
		ID:     identity.ID,
		Name:   identity.Name,
		Email:  identity.Email,
		Role:   identity.Role,
		Active: identity.Active,
	}
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	IP         string
	UserAgent  string
}

type LoginResult struct {
	User       *UserView
	Tokens     token.Pair
	RememberMe bool
}

type Response struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Code    string    `json:"code"`
	User    *UserView `json:"user,omitempty"`
}

type CleanupResult struct {
	DeletedSessions      int64 `json:"deleted_sessions"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}
