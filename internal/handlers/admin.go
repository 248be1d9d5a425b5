package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwhitfield/bastion/internal/models"
	"github.com/mwhitfield/bastion/internal/services"
	pkghttp "github.com/mwhitfield/bastion/pkg/http"
)

// AdminHandler serves the operator endpoints for ledger management and
// attempt statistics.
type AdminHandler struct {
	adminService *services.AdminService
	logger       *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(adminService *services.AdminService, log *slog.Logger) *AdminHandler {
	return &AdminHandler{adminService: adminService, logger: log}
}

type blockedIPResponse struct {
	IPAddress      string     `json:"ip_address"`
	Reason         string     `json:"reason"`
	BlockedUntil   *time.Time `json:"blocked_until"` // null means permanent
	FailedAttempts int        `json:"failed_attempts"`
	IsManual       bool       `json:"is_manual"`
	IsActive       bool       `json:"is_active"`
	UnblockedAt    *time.Time `json:"unblocked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toBlockedIPResponse(b *models.BlockedIP, now time.Time) blockedIPResponse {
	return blockedIPResponse{
		IPAddress:      b.IPAddress,
		Reason:         b.Reason,
		BlockedUntil:   b.BlockedUntil,
		FailedAttempts: b.FailedAttemptCount,
		IsManual:       b.IsManual,
		IsActive:       b.IsActive(now),
		UnblockedAt:    b.UnblockedAt,
		CreatedAt:      b.CreatedAt,
	}
}

// ListBlockedIPs handles GET /admin/blocked-ips. The active=true query
// parameter filters out lapsed blocks.
func (h *AdminHandler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	blocks, err := h.adminService.ListBlockedIPs(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("failed to list blocked ips", "error", err)
		pkghttp.WriteInternalError(w, "Failed to list blocked IPs")
		return
	}

	now := time.Now()
	resp := make([]blockedIPResponse, 0, len(blocks))
	for _, b := range blocks {
		resp = append(resp, toBlockedIPResponse(b, now))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

type blockIPRequest struct {
	IPAddress     string `json:"ip_address" validate:"required,ip"`
	Reason        string `json:"reason" validate:"max=500"`
	DurationHours *int   `json:"duration_hours" validate:"omitempty,min=1,max=8760"` // omitted means permanent
}

// BlockIP handles POST /admin/blocked-ips
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req blockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		pkghttp.WriteBadRequest(w, formatValidationError(err))
		return
	}

	var duration *time.Duration
	if req.DurationHours != nil {
		d := time.Duration(*req.DurationHours) * time.Hour
		duration = &d
	}

	if err := h.adminService.BlockIP(r.Context(), req.IPAddress, req.Reason, duration); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid IP address")
			return
		}
		h.logger.Error("failed to block ip", "ip", req.IPAddress, "error", err)
		pkghttp.WriteInternalError(w, "Failed to block IP")
		return
	}

	info, err := h.adminService.GetBlockInfo(r.Context(), req.IPAddress)
	if err != nil {
		h.logger.Error("failed to read back block", "ip", req.IPAddress, "error", err)
		pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{"ip_address": req.IPAddress})
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, info)
}

// GetBlockedIP handles GET /admin/blocked-ips/{ip}
func (h *AdminHandler) GetBlockedIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	info, err := h.adminService.GetBlockInfo(r.Context(), ip)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "IP is not blocked")
			return
		}
		h.logger.Error("failed to read block", "ip", ip, "error", err)
		pkghttp.WriteInternalError(w, "Failed to read block")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, info)
}

// UnblockIP handles DELETE /admin/blocked-ips/{ip}
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	if err := h.adminService.UnblockIP(r.Context(), ip); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid IP address")
			return
		}
		h.logger.Error("failed to unblock ip", "ip", ip, "error", err)
		pkghttp.WriteInternalError(w, "Failed to unblock IP")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AttemptStats handles GET /admin/stats. The hours query parameter sets the
// trailing window, defaulting to 24.
func (h *AdminHandler) AttemptStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 24*30 {
			pkghttp.WriteBadRequest(w, "hours must be between 1 and 720")
			return
		}
		hours = parsed
	}

	stats, err := h.adminService.AttemptStats(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		h.logger.Error("failed to aggregate attempt stats", "error", err)
		pkghttp.WriteInternalError(w, "Failed to aggregate statistics")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

type attemptResponse struct {
	Email         string    `json:"email"`
	IPAddress     string    `json:"ip_address"`
	Success       bool      `json:"success"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	UserAgent     string    `json:"user_agent"`
	CreatedAt     time.Time `json:"created_at"`
}

type recentAttemptsResponse struct {
	IPAddress      string            `json:"ip_address,omitempty"`
	Email          string            `json:"email,omitempty"`
	FailedAttempts int               `json:"current_failed_attempts,omitempty"`
	Attempts       []attemptResponse `json:"attempts"`
}

// RecentAttempts handles GET /admin/attempts, filtered by ?ip= or ?email=.
// The by-IP form pairs the audit rows with the live counter value so
// operators can cross-check the two.
func (h *AdminHandler) RecentAttempts(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	email := r.URL.Query().Get("email")
	if ip == "" && email == "" {
		pkghttp.WriteBadRequest(w, "ip or email query parameter is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "limit must be a number")
			return
		}
		limit = parsed
	}

	resp := recentAttemptsResponse{IPAddress: ip, Email: email}

	var attempts []*models.LoginAttempt
	var err error
	if ip != "" {
		attempts, err = h.adminService.RecentAttemptsByIP(r.Context(), ip, limit)
		if err == nil {
			count, countErr := h.adminService.FailedAttempts(r.Context(), ip)
			if countErr != nil {
				h.logger.Error("failed to read counter", "ip", ip, "error", countErr)
				count = 0
			}
			resp.FailedAttempts = count
		}
	} else {
		attempts, err = h.adminService.RecentAttemptsByEmail(r.Context(), email, limit)
	}
	if err != nil {
		h.logger.Error("failed to list attempts", "ip", ip, "email", email, "error", err)
		pkghttp.WriteInternalError(w, "Failed to list attempts")
		return
	}

	resp.Attempts = make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			Email:         a.Email,
			IPAddress:     a.IPAddress,
			Success:       a.Success,
			FailureReason: a.FailureReason,
			UserAgent:     a.UserAgent,
			CreatedAt:     a.CreatedAt,
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
