package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeValidation           Code = "ValidationError"
	CodeInvalidCredentials   Code = "InvalidCredentials"
	CodeUserInactive         Code = "UserInactive"
	CodeRateLimited          Code = "RateLimited"
	CodeAccountLocked        Code = "AccountLocked"
	CodeInvalidRefreshToken  Code = "InvalidRefreshToken"
	CodeRefreshTokenRequired Code = "RefreshTokenRequired"
	CodeUnauthorized         Code = "Unauthorized"
	CodeInternal             Code = "InternalError"
)

var statusByCode = map[Code]int{
	CodeValidation:           http.StatusBadRequest,
	CodeInvalidCredentials:   http.StatusUnauthorized,
	CodeUserInactive:         http.StatusUnauthorized,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeAccountLocked:        http.StatusLocked,
	CodeInvalidRefreshToken:  http.StatusUnauthorized,
	CodeRefreshTokenRequired: http.StatusUnauthorized,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeInternal:             http.StatusInternalServerError,
}

// Error is the client-facing failure of an auth operation. Err carries the
// underlying cause for logs and is never written to the response.
type Error struct {
	Code       Code
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, message string) *Error {
	return &Error{Code: code, Status: statusByCode[code], Message: message}
}

func validationError(message string) *Error {
	return newError(CodeValidation, message)
}

func errInvalidCredentials() *Error {
	return newError(CodeInvalidCredentials, "invalid email or password")
}

func errUserInactive() *Error {
	return newError(CodeUserInactive, "user account is inactive")
}

func errRateLimited(retryAfter time.Duration) *Error {
	e := newError(CodeRateLimited, "too many login attempts, try again later")
	e.RetryAfter = retryAfter
	return e
}

func errAccountLocked(retryAfter time.Duration) *Error {
	e := newError(CodeAccountLocked, "account temporarily locked after repeated failed logins")
	e.RetryAfter = retryAfter
	return e
}

func errInvalidRefreshToken(cause error) *Error {
	e := newError(CodeInvalidRefreshToken, "invalid or expired refresh token")
	e.Err = cause
	return e
}

func errRefreshTokenRequired() *Error {
	return newError(CodeRefreshTokenRequired, "refresh token is required")
}

func errUnauthorized() *Error {
	return newError(CodeUnauthorized, "not authenticated")
}

func internalError(cause error) *Error {
	e := newError(CodeInternal, "internal server error")
	e.Err = cause
	return e
}

// AsError maps any error to an *Error; unknown errors become InternalError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return internalError(err)
}
