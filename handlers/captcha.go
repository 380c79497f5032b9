package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HCaptchaVerifyURL = "https://hcaptcha.com/siteverify"
	HCaptchaHeader    = "h-captcha-response"
)

var errCaptchaMissing = errors.New("hCaptcha token is required")

// CaptchaVerifier checks a bot-challenge token before any charge is created.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type HCaptchaResponse struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
}

type HCaptcha struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewHCaptcha(secret string) *HCaptcha {
	return &HCaptcha{
		secret:    secret,
		verifyURL: HCaptchaVerifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HCaptcha) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return errCaptchaMissing
	}

	data := url.Values{}
	data.Set("secret", h.secret)
	data.Set("response", token)
	if remoteIP != "" {
		data.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.verifyURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build hCaptcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to contact hCaptcha server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read hCaptcha response: %w", err)
	}

	var result HCaptchaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse hCaptcha response: %w", err)
	}

	if !result.Success {
		if len(result.ErrorCodes) > 0 {
			return fmt.Errorf("hCaptcha validation failed: %s", strings.Join(result.ErrorCodes, ", "))
		}
		return errors.New("hCaptcha validation failed")
	}
	return nil
}
