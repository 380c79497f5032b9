package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pix-checkout-api/models"
	"pix-checkout-api/services/pricing"
	"pix-checkout-api/utils"
)

// APIError is a non-success envelope returned by the proxy.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("proxy returned %d: %s", e.StatusCode, e.Message)
}

// HTTPChecker talks to the payment proxy's public endpoints.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
}

func NewHTTPChecker(baseURL string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPChecker{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// CheckPayment calls GET /api/check-payment.
func (c *HTTPChecker) CheckPayment(ctx context.Context, id string) (*models.Charge, error) {
	endpoint := c.baseURL + "/api/check-payment?id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build check request: %w", err)
	}

	var data models.CheckPaymentData
	if err := c.do(req, &data); err != nil {
		return nil, err
	}

	charge := &models.Charge{ID: data.ID, Status: models.NormalizeChargeStatus(data.Status)}
	if t, ok := utils.ParseProviderTime(data.ExpiresAt); ok {
		charge.ExpiresAt = t
	}
	if t, ok := utils.ParseProviderTime(data.PaidAt); ok {
		charge.PaidAt = &t
	}
	return charge, nil
}

// CreatePayment calls POST /api/create-payment.
func (c *HTTPChecker) CreatePayment(ctx context.Context, charge models.ChargeRequest) (*models.CreatePaymentData, error) {
	body, err := json.Marshal(charge)
	if err != nil {
		return nil, fmt.Errorf("encode charge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/create-payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var data models.CreatePaymentData
	if err := c.do(req, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Catalog calls GET /api/catalog.
func (c *HTTPChecker) Catalog(ctx context.Context) (*pricing.View, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/catalog", nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	var view pricing.View
	if err := c.do(req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *HTTPChecker) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "invalid response body"}
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", req.URL.Path, err)
	}
	return nil
}
