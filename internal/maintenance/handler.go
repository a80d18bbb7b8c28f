// Package maintenance exposes the cron-triggered purge of stale auth data.
package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice-serverless/internal/auth"
	"backoffice-serverless/internal/observability"
)

type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, sessionRetention, loginAttemptRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	cleaner               Cleaner
	logger                *zap.Logger
	cronSecret            string
	sessionRetention      time.Duration
	loginAttemptRetention time.Duration
	batchSize             int
}

func NewCleanupHandler(
	cleaner Cleaner,
	logger *zap.Logger,
	cronSecret string,
	sessionRetention time.Duration,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupHandler{
		cleaner:               cleaner,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		sessionRetention:      sessionRetention,
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
	}
}

// Run performs one cleanup pass outside of HTTP, e.g. from the CLI.
func (h *CleanupHandler) Run(ctx context.Context) (auth.CleanupResult, error) {
	result, err := h.cleaner.CleanupStaleAuthData(ctx, h.sessionRetention, h.loginAttemptRetention, h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", zap.Error(err))
		return auth.CleanupResult{}, err
	}
	h.logger.Info("auth_cleanup_completed",
		zap.Int64("deleted_sessions", result.DeletedSessions),
		zap.Int64("deleted_login_attempts", result.DeletedLoginAttempts),
	)
	return result, nil
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// Without a configured secret the endpoint does not exist.
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		h.logger.Warn("auth_cleanup_unauthorized", zap.String("ip", auth.ClientIP(r)))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		observability.CaptureError(r, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	presented := strings.TrimSpace(parts[1])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
