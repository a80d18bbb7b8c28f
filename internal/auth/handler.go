package auth

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"backoffice-serverless/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	cookies CookieCodec
	logger  *zap.Logger
}

func NewHandler(service *Service, cookies CookieCodec, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, cookies: cookies, logger: logger}
}

// Mount registers the auth endpoints relative to r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Post("/refresh", h.Refresh)
	r.Get("/me", h.Me)
	r.With(RequireAccess(h.service, h.logger)).Get("/session", h.Session)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("login_body_decode_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Message: "request body could not be processed",
			Code:    string(CodeInternal),
		})
		return
	}

	result, err := h.service.Login(r.Context(), LoginInput{
		Email:      body.Email,
		Password:   body.Password,
		RememberMe: body.RememberMe,
		IP:         ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookies.EncodeAccess(result.Tokens.Access))
	http.SetCookie(w, h.cookies.EncodeRefresh(result.Tokens.Refresh, result.RememberMe))
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "login successful",
		Code:    "LoginSuccess",
		User:    result.User,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	access, _ := Decode(r, AccessCookieName)
	refresh, _ := Decode(r, RefreshCookieName)

	h.service.Logout(r.Context(), access, refresh)

	http.SetCookie(w, h.cookies.Clear(AccessCookieName))
	http.SetCookie(w, h.cookies.Clear(RefreshCookieName))
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "logout successful",
		Code:    "LogoutSuccess",
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh, _ := Decode(r, RefreshCookieName)

	result, err := h.service.Refresh(r.Context(), refresh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookies.EncodeAccess(result.Tokens.Access))
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "access token refreshed",
		Code:    "TokenRefreshed",
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := h.service.CurrentUser(r.Context(), AccessToken(r))
	if user == nil {
		h.writeError(w, r, errUnauthorized())
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "authenticated",
		Code:    "Authenticated",
		User:    user,
	})
}

type sessionResponse struct {
	Response
	ExpiresAt time.Time `json:"expiresAt"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Session describes the access token attached by RequireAccess so the client
// can schedule its next refresh.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, r, errUnauthorized())
		return
	}

	body := sessionResponse{
		Response: Response{
			Success: true,
			Message: "session active",
			Code:    "Authenticated",
			User:    viewOf(claims.Identity),
		},
	}
	if claims.ExpiresAt != nil {
		body.ExpiresAt = claims.ExpiresAt.UTC()
	}
	if claims.IssuedAt != nil {
		body.IssuedAt = claims.IssuedAt.UTC()
	}
	writeJSON(w, http.StatusOK, body)
}

// AccessToken reads the access token from its cookie, falling back to an
// Authorization: Bearer header for non-browser clients.
func AccessToken(r *http.Request) string {
	if value, ok := Decode(r, AccessCookieName); ok {
		return value
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeAuthError(w, r, h.logger, err)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	authErr := AsError(err)
	if authErr.Code == CodeInternal {
		logger.Error("auth_internal_error", zap.String("path", r.URL.Path), zap.Error(authErr.Err))
		observability.CaptureError(r, authErr.Err)
	}

	if authErr.RetryAfter > 0 {
		seconds := int(math.Ceil(authErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	status := authErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, Response{
		Success: false,
		Message: authErr.Message,
		Code:    string(authErr.Code),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
