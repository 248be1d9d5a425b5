package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwhitfield/bastion/internal/config"
)

// CaptchaService verifies CAPTCHA tokens against the provider's siteverify
// endpoint. When disabled, every token passes.
type CaptchaService struct {
	config *config.CaptchaConfig
	client *http.Client
	logger *slog.Logger
}

// NewCaptchaService creates a new CaptchaService
func NewCaptchaService(cfg *config.CaptchaConfig, log *slog.Logger) *CaptchaService {
	return &CaptchaService{
		config: cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: log,
	}
}

type captchaVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks a CAPTCHA token. Provider outages and malformed responses
// count as failures: a CAPTCHA that cannot be verified has not been solved.
func (s *CaptchaService) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if !s.config.Enabled {
		return true, nil
	}

	if token == "" {
		return false, nil
	}

	form := url.Values{
		"secret":   {s.config.SecretKey},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("captcha verification request failed", "error", err)
		return false, fmt.Errorf("captcha verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("captcha provider returned non-200", "status", resp.StatusCode)
		return false, fmt.Errorf("captcha provider returned status %d", resp.StatusCode)
	}

	var result captchaVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode captcha response: %w", err)
	}

	if !result.Success {
		s.logger.Warn("captcha verification rejected", "error_codes", result.ErrorCodes)
		return false, nil
	}

	// v2 responses carry no score field; the zero value must not fail them.
	if result.Score > 0 && result.Score < s.config.MinScore {
		s.logger.Warn("captcha score below minimum", "score", result.Score, "min_score", s.config.MinScore)
		return false, nil
	}

	return true, nil
}
