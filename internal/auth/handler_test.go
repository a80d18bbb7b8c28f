package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice-serverless/internal/audit"
	"backoffice-serverless/internal/observability"
	"backoffice-serverless/internal/token"
)

func TestLogin_SuccessSetsCookiesAndAudits(t *testing.T) {
	h := newHarness(t)

	rec := h.login(loginCall{Email: " Ana@Example.com ", Password: goodPassword, IP: "203.0.113.7, 10.0.0.1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "LoginSuccess", resp.Code)
	require.NotNil(t, resp.User)
	assert.Equal(t, UserView{ID: "user-ana", Name: "Ana", Email: "ana@example.com", Role: "admin", Active: true}, *resp.User)

	access := responseCookie(rec, AccessCookieName)
	refresh := responseCookie(rec, RefreshCookieName)
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	for _, c := range []*http.Cookie{access, refresh} {
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
	}
	assert.Equal(t, 900, access.MaxAge)
	assert.Equal(t, 604800, refresh.MaxAge)

	attempt := h.recorder.lastAttempt(t)
	assert.True(t, attempt.Success)
	assert.Equal(t, "ana@example.com", attempt.Email)
	assert.Equal(t, "203.0.113.7", attempt.IP)
	assert.Equal(t, "auth-test", attempt.UserAgent)
	assert.Empty(t, attempt.FailureReason)

	require.Len(t, h.recorder.sessions, 1)
	assert.Equal(t, token.Hash(refresh.Value), h.recorder.sessions[0].RefreshHash)
	assert.Equal(t, "user-ana", h.recorder.sessions[0].UserID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LoginTotal.WithLabelValues(observability.ResultSuccess)))
}

func TestLogin_RememberMeExtendsRefreshCookie(t *testing.T) {
	h := newHarness(t)

	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, RememberMe: true, IP: ip(1)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2592000, responseCookie(rec, RefreshCookieName).MaxAge)
	assert.Equal(t, 900, responseCookie(rec, AccessCookieName).MaxAge)
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	h := newHarness(t)

	unknown := h.login(loginCall{Email: "ghost@example.com", Password: goodPassword, IP: ip(1)})
	wrong := h.login(loginCall{Email: "ana@example.com", Password: "nope", IP: ip(2)})

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, decodeResponse(t, unknown), decodeResponse(t, wrong))
	assert.Equal(t, string(CodeInvalidCredentials), decodeResponse(t, wrong).Code)
	assert.Nil(t, responseCookie(wrong, AccessCookieName))

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.attempts, 2)
	assert.Equal(t, audit.ReasonUnknownUser, h.recorder.attempts[0].FailureReason)
	assert.Equal(t, audit.ReasonInvalidPassword, h.recorder.attempts[1].FailureReason)
}

func TestLogin_LookupFailureLooksLikeInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.users.err = errBackend

	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(1)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(CodeInvalidCredentials), decodeResponse(t, rec).Code)
}

func TestLogin_Validation(t *testing.T) {
	h := newHarness(t)

	for name, call := range map[string]loginCall{
		"missing email":  {Password: goodPassword},
		"bad email":      {Email: "not-an-email", Password: goodPassword},
		"empty password": {Email: "ana@example.com"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := h.login(call)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, string(CodeValidation), resp.Code)
		})
	}
}

func TestLogin_MalformedJSONIsInternalError(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte(`{"email": "ana@`)), ip(1))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, string(CodeInternal), resp.Code)
}

func TestLogin_IPRateLimitOnSixthAttempt(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 5; i++ {
		rec := h.login(loginCall{Email: "ghost@example.com", Password: "whatever", IP: "198.51.100.9"})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: "198.51.100.9"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, string(CodeRateLimited), decodeResponse(t, rec).Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Equal(t, audit.ReasonRateLimited, h.recorder.lastAttempt(t).FailureReason)

	other := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: "198.51.100.10"})
	assert.Equal(t, http.StatusOK, other.Code, "other addresses keep their own budget")

	h.mr.FastForward(15 * time.Minute)
	rec = h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: "198.51.100.9"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_SuccessfulAttemptsCountTowardIPWindow(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(1)}).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(1)}).Code)
}

func TestLogin_LockoutAcrossRotatingIPs(t *testing.T) {
	h := newHarness(t)

	for i := 1; i <= 5; i++ {
		rec := h.login(loginCall{Email: "ana@example.com", Password: "wrong-password", IP: ip(i)})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
		assert.Equal(t, string(CodeInvalidCredentials), decodeResponse(t, rec).Code)
	}

	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(6)})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, string(CodeAccountLocked), decodeResponse(t, rec).Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Nil(t, responseCookie(rec, AccessCookieName))
	assert.Equal(t, audit.ReasonAccountLocked, h.recorder.lastAttempt(t).FailureReason)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LockoutsTotal))

	// Locked attempts are not counted as new failures.
	assert.False(t, h.mr.Exists("test:lo:fail:ana@example.com"))

	h.mr.FastForward(15 * time.Minute)
	rec = h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(7)})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_SuccessResetsFailureCounter(t *testing.T) {
	h := newHarness(t)

	for i := 1; i <= 4; i++ {
		require.Equal(t, http.StatusUnauthorized, h.login(loginCall{Email: "ana@example.com", Password: "bad", IP: ip(i)}).Code)
	}
	require.Equal(t, http.StatusOK, h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(5)}).Code)
	assert.False(t, h.mr.Exists("test:lo:fail:ana@example.com"))

	for i := 1; i <= 4; i++ {
		require.Equal(t, http.StatusUnauthorized, h.login(loginCall{Email: "ana@example.com", Password: "bad", IP: ip(10 + i)}).Code)
	}
	assert.Equal(t, http.StatusOK, h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(20)}).Code)
}

func TestLogin_UnknownEmailDoesNotLock(t *testing.T) {
	h := newHarness(t)

	for i := 1; i <= 6; i++ {
		rec := h.login(loginCall{Email: "ghost@example.com", Password: "bad", IP: ip(i)})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.False(t, h.mr.Exists("test:lo:lock:ghost@example.com"))
}

func TestLogin_InactiveUser(t *testing.T) {
	h := newHarness(t)

	rec := h.login(loginCall{Email: "old@example.com", Password: goodPassword, IP: ip(1)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(CodeUserInactive), decodeResponse(t, rec).Code)
	assert.Equal(t, audit.ReasonUserInactive, h.recorder.lastAttempt(t).FailureReason)

	rec = h.login(loginCall{Email: "old@example.com", Password: "bad", IP: ip(2)})
	assert.Equal(t, string(CodeInvalidCredentials), decodeResponse(t, rec).Code)
}

func TestLogin_AuditFailuresDoNotChangeResponse(t *testing.T) {
	h := newHarness(t)
	h.recorder.attemptErr = errBackend
	h.recorder.sessionErr = errBackend

	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(1)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)
}

func TestLogin_CounterStoreDownIsInternalError(t *testing.T) {
	h := newHarness(t)
	h.mr.Close()

	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(1)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(CodeInternal), resp.Code)
	assert.NotContains(t, resp.Message, "redis")
}

func loginCookies(t *testing.T, h *harness) (*http.Cookie, *http.Cookie) {
	t.Helper()
	rec := h.login(loginCall{Email: "ana@example.com", Password: goodPassword, IP: ip(1)})
	require.Equal(t, http.StatusOK, rec.Code)
	return responseCookie(rec, AccessCookieName), responseCookie(rec, RefreshCookieName)
}

func TestLogout_WithoutTokens(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/auth/logout", nil, ip(1))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)

	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c := responseCookie(rec, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, "/", c.Path)
	}
}

func TestLogout_RevokesTokensAndCleansUpSession(t *testing.T) {
	h := newHarness(t)
	access, refresh := loginCookies(t, h)

	rec := h.do(http.MethodPost, "/api/auth/logout", nil, ip(1), access, refresh)
	require.Equal(t, http.StatusOK, rec.Code)

	me := h.do(http.MethodGet, "/api/auth/me", nil, ip(1), access)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
	assert.Equal(t, string(CodeUnauthorized), decodeResponse(t, me).Code)

	again := h.do(http.MethodPost, "/api/auth/refresh", nil, ip(1), refresh)
	assert.Equal(t, http.StatusUnauthorized, again.Code)
	assert.Equal(t, string(CodeInvalidRefreshToken), decodeResponse(t, again).Code)

	waitFor(t, func() bool {
		h.recorder.mu.Lock()
		defer h.recorder.mu.Unlock()
		return len(h.recorder.cleanups) == 1
	})
	assert.Equal(t, token.Hash(refresh.Value), h.recorder.cleanups[0])
}

func TestLogout_CleanupFailureStillSucceeds(t *testing.T) {
	h := newHarness(t)
	h.recorder.cleanupErr = errBackend
	access, refresh := loginCookies(t, h)

	rec := h.do(http.MethodPost, "/api/auth/logout", nil, ip(1), access, refresh)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_MissingCookie(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/auth/refresh", nil, ip(1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(CodeRefreshTokenRequired), decodeResponse(t, rec).Code)
}

func TestRefresh_RejectsInvalidTokens(t *testing.T) {
	h := newHarness(t)
	access, _ := loginCookies(t, h)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, token.Claims{
		Identity: token.Identity{ID: "user-ana", Email: "ana@example.com"},
		Type:     token.TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    token.DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, value := range map[string]string{
		"garbage":        "definitely-not-a-token",
		"expired":        expired,
		"access in slot": access.Value,
	} {
		t.Run(name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/api/auth/refresh", nil, ip(1), &http.Cookie{Name: RefreshCookieName, Value: value})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, string(CodeInvalidRefreshToken), decodeResponse(t, rec).Code)
		})
	}
}

func TestRefresh_IssuesAccessCookieOnly(t *testing.T) {
	h := newHarness(t)
	_, refresh := loginCookies(t, h)

	rec := h.do(http.MethodPost, "/api/auth/refresh", nil, ip(1), refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeResponse(t, rec).Success)

	access := responseCookie(rec, AccessCookieName)
	require.NotNil(t, access)
	assert.Nil(t, responseCookie(rec, RefreshCookieName), "refresh token is not rotated")

	claims, err := h.tokens.VerifyType(t.Context(), access.Value, token.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-ana", claims.Identity.ID)
	assert.Equal(t, "admin", claims.Role)
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	access, refresh := loginCookies(t, h)

	rec := h.do(http.MethodGet, "/api/auth/me", nil, ip(1), access)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.User)
	assert.Equal(t, "ana@example.com", resp.User.Email)

	rec = h.do(http.MethodGet, "/api/auth/me", nil, ip(1), &http.Cookie{Name: AccessCookieName, Value: refresh.Value})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh token cannot authenticate")

	rec = h.do(http.MethodGet, "/api/auth/me", nil, ip(1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSession_BearerFallbackThroughRequireAccess(t *testing.T) {
	h := newHarness(t)
	access, _ := loginCookies(t, h)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "user-ana", body.User.ID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), body.ExpiresAt, 5*time.Second)

	rec = h.do(http.MethodGet, "/api/auth/session", nil, ip(1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
