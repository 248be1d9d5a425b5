package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mwhitfield/bastion/internal/auth"
	"github.com/mwhitfield/bastion/internal/models"
	"github.com/mwhitfield/bastion/internal/services"
	pkghttp "github.com/mwhitfield/bastion/pkg/http"
	"github.com/mwhitfield/bastion/pkg/logger"
)

// IPGuardReader is the guard surface the public endpoints need: the block
// verdict plus the read-only probe data.
type IPGuardReader interface {
	services.IPGuard
	FailedAttempts(ctx context.Context, ip string) (int, error)
	GetBlockInfo(ctx context.Context, ip string) (*models.IPBlockInfo, error)
}

// AuthHandler serves the public authentication endpoints.
type AuthHandler struct {
	authService *services.AuthService
	ipGuard     IPGuardReader
	ipConfig    *pkghttp.IPConfig
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService *services.AuthService, ipGuard IPGuardReader, ipConfig *pkghttp.IPConfig, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		ipGuard:     ipGuard,
		ipConfig:    ipConfig,
		logger:      log,
	}
}

type loginRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Password     string `json:"password" validate:"required,max=128"`
	CaptchaToken string `json:"captcha_token"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		pkghttp.WriteBadRequest(w, formatValidationError(err))
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	result, err := h.authService.Login(r.Context(), services.LoginInput{
		Email:        req.Email,
		Password:     req.Password,
		IPAddress:    ip,
		UserAgent:    r.UserAgent(),
		CaptchaToken: req.CaptchaToken,
	})
	if err != nil {
		h.writeLoginError(w, err, ip)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      toUserResponse(result.User),
	})
}

// writeLoginError maps pipeline rejections to responses. Credential and
// account-existence failures share one generic message so the endpoint
// cannot be used to enumerate accounts.
func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error, ip string) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrCaptchaInvalid):
		pkghttp.WriteUnauthorized(w, "Invalid CAPTCHA")
	case errors.Is(err, models.ErrIPBlocked):
		pkghttp.WriteForbidden(w, "Access temporarily restricted")
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteError(w, http.StatusLocked, "account_locked", "Account temporarily locked due to repeated failures")
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteForbidden(w, "Account is not active")
	default:
		h.logger.Error("login failed", "ip", ip, "error", err)
		pkghttp.WriteInternalError(w, "An unexpected error occurred")
	}
}

type registerRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Password     string `json:"password" validate:"required,min=8,max=128"`
	Name         string `json:"name" validate:"required,min=1,max=100"`
	CaptchaToken string `json:"captcha_token"`
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		pkghttp.WriteBadRequest(w, formatValidationError(err))
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	user, err := h.authService.Register(r.Context(), services.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		Name:         req.Name,
		IPAddress:    ip,
		CaptchaToken: req.CaptchaToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCaptchaInvalid):
			pkghttp.WriteUnauthorized(w, "Invalid CAPTCHA")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Unable to register with the provided details")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		default:
			h.logger.Error("registration failed", "email", logger.SanitizedEmail(req.Email), "error", err)
			pkghttp.WriteInternalError(w, "An unexpected error occurred")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toUserResponse(user))
}

// Me handles GET /auth/me for an authenticated caller.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	user, err := h.authService.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Token outlived the account.
			pkghttp.WriteUnauthorized(w, "Account no longer exists")
			return
		}
		h.logger.Error("failed to load current user", "user_id", claims.UserID, "error", err)
		pkghttp.WriteInternalError(w, "An unexpected error occurred")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

type ipStatusResponse struct {
	IPAddress      string `json:"ip_address"`
	Blocked        bool   `json:"blocked"`
	RemainingSecs  int64  `json:"remaining_seconds,omitempty"`
	FailedAttempts int    `json:"failed_attempts"`
}

// IPStatus handles GET /auth/ip-status. It reports the caller's own IP only;
// arbitrary IPs can be inspected on the admin surface.
func (h *AuthHandler) IPStatus(w http.ResponseWriter, r *http.Request) {
	ip := pkghttp.ExtractClientIP(r, h.ipConfig)

	blocked, err := h.ipGuard.IsBlocked(r.Context(), ip)
	if err != nil {
		// Fail-closed verdict still answers the probe.
		blocked = true
	}

	resp := ipStatusResponse{IPAddress: ip, Blocked: blocked}

	if blocked {
		if info, err := h.ipGuard.GetBlockInfo(r.Context(), ip); err == nil {
			resp.RemainingSecs = info.RemainingSecs
		}
	}
	if count, err := h.ipGuard.FailedAttempts(r.Context(), ip); err == nil {
		resp.FailedAttempts = count
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
