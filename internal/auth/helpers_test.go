package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"backoffice-serverless/internal/audit"
	"backoffice-serverless/internal/cache"
	"backoffice-serverless/internal/observability"
	"backoffice-serverless/internal/password"
	"backoffice-serverless/internal/token"
)

const (
	testSecret   = "test-secret-test-secret-test-secret!"
	goodPassword = "Str0ng!Pass"
)

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]User
	err     error
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	user, ok := f.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUsers) UpsertAdmin(_ context.Context, email, name, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.byEmail[email] = User{ID: "admin-id", Name: name, Email: email, PasswordHash: passwordHash, Role: "admin", Active: true}
	return nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	attempts   []audit.LoginAttempt
	sessions   []audit.Session
	cleanups   []string
	attemptErr error
	sessionErr error
	cleanupErr error
}

func (f *fakeRecorder) RecordLoginAttempt(_ context.Context, attempt audit.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return f.attemptErr
}

func (f *fakeRecorder) CreateSession(_ context.Context, session audit.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
	return f.sessionErr
}

func (f *fakeRecorder) CleanupSessions(_ context.Context, refreshHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, refreshHash)
	return f.cleanupErr
}

func (f *fakeRecorder) lastAttempt(t *testing.T) audit.LoginAttempt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.attempts)
	return f.attempts[len(f.attempts)-1]
}

type harness struct {
	t        *testing.T
	mr       *miniredis.Miniredis
	users    *fakeUsers
	recorder *fakeRecorder
	jobs     *audit.Dispatcher
	tokens   *token.Service
	service  *Service
	metrics  *observability.Metrics
	router   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = store.Close() })

	policy, err := password.NewPolicy(password.Config{Cost: bcrypt.MinCost})
	require.NoError(t, err)

	hash, err := policy.Hash(goodPassword)
	require.NoError(t, err)

	users := &fakeUsers{byEmail: map[string]User{
		"ana@example.com": {
			ID: "user-ana", Name: "Ana", Email: "ana@example.com",
			PasswordHash: hash, Role: "admin", Active: true,
		},
		"old@example.com": {
			ID: "user-old", Name: "Old", Email: "old@example.com",
			PasswordHash: hash, Role: "operator", Active: false,
		},
	}}

	tokens, err := token.NewService(token.Config{Secret: testSecret}, token.NewRevocationStore(store))
	require.NoError(t, err)

	metrics, err := observability.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	recorder := &fakeRecorder{}
	jobs := audit.NewDispatcher(audit.DispatcherConfig{BufferSize: 8, DropIfFull: true}, logger)
	t.Cleanup(jobs.Close)

	service, err := NewService(ServiceDeps{
		Users:     users,
		Admins:    users,
		Passwords: policy,
		Tokens:    tokens,
		Limiter:   NewLoginRateLimiter(store, 5, 15*time.Minute),
		Lockout:   NewLockout(store, 5, 15*time.Minute),
		Audit:     recorder,
		Jobs:      jobs,
		Metrics:   metrics,
		Logger:    logger,
	})
	require.NoError(t, err)

	handler := NewHandler(service, NewCookieCodec(true, tokens.AccessTTL(), tokens.RefreshTTL(false), tokens.RefreshTTL(true)), logger)
	router := chi.NewRouter()
	router.Route("/api/auth", handler.Mount)

	return &harness{
		t:        t,
		mr:       mr,
		users:    users,
		recorder: recorder,
		jobs:     jobs,
		tokens:   tokens,
		service:  service,
		metrics:  metrics,
		router:   router,
	}
}

type loginCall struct {
	Email      string
	Password   string
	RememberMe bool
	IP         string
}

func (h *harness) login(call loginCall) *httptest.ResponseRecorder {
	h.t.Helper()
	body, err := json.Marshal(map[string]any{
		"email":      call.Email,
		"password":   call.Password,
		"rememberMe": call.RememberMe,
	})
	require.NoError(h.t, err)
	return h.do(http.MethodPost, "/api/auth/login", bytes.NewReader(body), call.IP)
}

func (h *harness) do(method, path string, body *bytes.Reader, ip string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "auth-test")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

var errBackend = errors.New("backend down")

func ip(n int) string {
	return fmt.Sprintf("10.0.0.%d", n)
}
