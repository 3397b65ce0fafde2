package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/middleware"
	"github.com/DanFrunza/Public-Data-Explorer/internal/token"
	"github.com/DanFrunza/Public-Data-Explorer/internal/usecase"
)

type Handler struct {
	authUsecase *usecase.AuthUsecase
	userUsecase *usecase.UserUsecase
	cookies     token.CookieOptions
	logger      *zap.Logger
}

func NewHandler(auth *usecase.AuthUsecase, users *usecase.UserUsecase, cookies token.CookieOptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		authUsecase: auth,
		userUsecase: users,
		cookies:     cookies,
		logger:      logger.Named("http"),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type validationResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

// writeError maps usecase errors to responses. Anything unrecognised is a
// 500 and gets logged in full.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := domain.AsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, validationResponse{Message: ve.Message, Errors: ve.Fields})
		return
	}
	if ae, ok := domain.AsAuthError(err); ok {
		h.logger.Info("authentication failed",
			zap.String("kind", ae.Kind),
			zap.String("path", r.URL.Path),
			zap.String("client_ip", middleware.ClientIP(r)),
		)
		writeMessage(w, http.StatusUnauthorized, ae.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrEmailExists):
		writeMessage(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, domain.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, domain.ErrUserNotFound):
		writeMessage(w, http.StatusNotFound, "User not found")
	case errors.Is(err, usecase.ErrNoAvatar):
		writeMessage(w, http.StatusNotFound, "No avatar")
	case errors.Is(err, usecase.ErrStorageUnavailable):
		writeMessage(w, http.StatusServiceUnavailable, "Avatar storage unavailable")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeMessage(w, http.StatusInternalServerError, "Server error")
	}
}

func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

// Auth handlers

type authResponse struct {
	Message     string            `json:"message,omitempty"`
	User        *usecase.UserView `json:"user"`
	AccessToken string            `json:"accessToken"`
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, result *usecase.AuthResult) {
	http.SetCookie(w, h.cookies.Build(result.Refresh.CookieValue, result.Refresh.ExpiresAt))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req usecase.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.authUsecase.Register(r.Context(), req, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setRefreshCookie(w, result)
	writeJSON(w, http.StatusCreated, authResponse{Message: "Account created", User: result.User, AccessToken: result.AccessToken})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req usecase.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.authUsecase.Login(r.Context(), req, requestMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setRefreshCookie(w, result)
	writeJSON(w, http.StatusOK, authResponse{Message: "Login successful", User: result.User, AccessToken: result.AccessToken})
}

// Refresh rotates the refresh cookie. A rejected cookie is cleared.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var value string
	if c, err := r.Cookie(token.RefreshCookieName); err == nil {
		value = c.Value
	}

	result, err := h.authUsecase.Refresh(r.Context(), value, requestMeta(r))
	if err != nil {
		if _, ok := domain.AsAuthError(err); ok && value != "" {
			http.SetCookie(w, h.cookies.Clear())
		}
		h.writeError(w, r, err)
		return
	}

	h.setRefreshCookie(w, result)
	writeJSON(w, http.StatusOK, authResponse{User: result.User, AccessToken: result.AccessToken})
}

// Logout always succeeds from the client's point of view.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(token.RefreshCookieName); err == nil {
		if err := h.authUsecase.Logout(r.Context(), c.Value, requestMeta(r)); err != nil {
			h.logger.Error("logout revoke failed", zap.Error(err))
		}
	}
	http.SetCookie(w, h.cookies.Clear())
	writeMessage(w, http.StatusOK, "Logged out")
}

type userResponse struct {
	User *usecase.UserView `json:"user"`
}

func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, domain.ErrInvalidAccessToken.Message)
		return
	}

	user, err := h.authUsecase.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Sub           string `json:"sub,omitempty"`
	Role          string `json:"role,omitempty"`
	Plan          string `json:"plan,omitempty"`
}

// Session reports who the bearer token belongs to without rejecting
// anonymous callers.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch id := middleware.IdentityFrom(r.Context()).(type) {
	case middleware.Authenticated:
		writeJSON(w, http.StatusOK, sessionResponse{
			Authenticated: true,
			Sub:           id.Claims.Subject,
			Role:          id.Claims.Role,
			Plan:          id.Claims.Plan,
		})
	default:
		writeJSON(w, http.StatusOK, sessionResponse{})
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
