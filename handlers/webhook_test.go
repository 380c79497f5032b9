package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pix-checkout-api/config"
	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/services/pricing"
)

type recordingApplier struct {
	mu     sync.Mutex
	events []models.WebhookEvent
	err    error
}

func (a *recordingApplier) ApplyNotification(ctx context.Context, ev models.WebhookEvent) (*payment.StatusChange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	if a.err != nil {
		return nil, a.err
	}
	return &payment.StatusChange{Changed: true}, nil
}

type recordingQueue struct {
	jobs []map[string]interface{}
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobType queue.JobType, data map[string]interface{}) error {
	if q.err != nil {
		return q.err
	}
	data["type"] = string(jobType)
	q.jobs = append(q.jobs, data)
	return nil
}

var testRouting = config.RoutingConfig{UpsellPath: "/upsell", ThankYouPath: "/obrigado", SuccessPath: "/sucesso"}

func newWebhook(applier NotificationApplier, jobs Enqueuer, token string) *WebhookHandler {
	return NewWebhookHandler(applier, jobs, pricing.New(1000, 690, 2700, nil),
		"https://checkout.example.com/", testRouting, token, nil)
}

func postWebhook(h *WebhookHandler, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/pushinpay", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.HandlePushinPay(rec, req)
	return rec
}

func TestWebhookRouting(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
		wantTarget  string
		wantID      string
	}{
		{
			name:        "paid main price point redirects to upsell",
			contentType: "application/json",
			body:        `{"id":"tx-1","status":"paid","value":1690}`,
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/upsell",
		},
		{
			name:        "numeric string value",
			contentType: "application/json; charset=utf-8",
			body:        `{"id":"tx-1","status":"paid","value":"5140"}`,
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/upsell",
		},
		{
			name:        "paid upsell value redirects to thank you",
			contentType: "application/json",
			body:        `{"id":"tx-2","status":"paid","value":2700}`,
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/obrigado",
		},
		{
			name:        "paid without value redirects to thank you",
			contentType: "application/json",
			body:        `{"id":"tx-2","status":"paid"}`,
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/obrigado",
		},
		{
			name:        "form encoded",
			contentType: "application/x-www-form-urlencoded",
			body:        url.Values{"id": {"tx-3"}, "status": {"paid"}, "value": {"1000"}}.Encode(),
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/upsell",
		},
		{
			name:        "numeric id",
			contentType: "application/json",
			body:        `{"id":12345,"status":"paid","value":1000}`,
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/upsell",
			wantID:      "12345",
		},
		{
			name:        "payment_id synonym",
			contentType: "application/json",
			body:        `{"payment_id":"tx-9","status":"paid","value":2700}`,
			wantCode:    http.StatusFound,
			wantTarget:  "https://checkout.example.com/obrigado",
			wantID:      "tx-9",
		},
		{
			name:        "approved is not paid",
			contentType: "application/json",
			body:        `{"id":"tx-5","status":"approved","value":1000}`,
			wantCode:    http.StatusOK,
		},
		{
			name:        "canceled is acknowledged",
			contentType: "application/json",
			body:        `{"id":"tx-6","status":"canceled","value":1000}`,
			wantCode:    http.StatusOK,
		},
		{
			name:        "not paid is acknowledged",
			contentType: "application/json",
			body:        `{"id":"tx-4","status":"created","value":1000}`,
			wantCode:    http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &recordingQueue{}
			rec := postWebhook(newWebhook(&recordingApplier{}, jobs, ""), tt.contentType, tt.body, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantTarget != "" {
				assert.Equal(t, tt.wantTarget, rec.Header().Get("Location"))
			} else {
				body := decodeEnvelope(t, rec)
				assert.Equal(t, true, body["success"])
				assert.Equal(t, "notification acknowledged", body["message"])
			}
			require.Len(t, jobs.jobs, 1)
			assert.Equal(t, string(queue.JobTypeApplyNotification), jobs.jobs[0]["type"])
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, jobs.jobs[0]["charge_id"])
			}
		})
	}
}

func TestWebhookRejectsMalformed(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantCode    int
	}{
		{"missing status", "application/json", `{"id":"tx-1","value":1000}`, http.StatusBadRequest},
		{"missing id", "application/x-www-form-urlencoded", "status=paid", http.StatusBadRequest},
		{"invalid json", "application/json", `{"id":`, http.StatusBadRequest},
		{"non numeric value", "application/x-www-form-urlencoded", "id=tx-1&status=paid&value=dez", http.StatusBadRequest},
		{"unsupported media", "text/plain", "id=tx-1&status=paid", http.StatusUnsupportedMediaType},
		{"no content type", "", `{"id":"tx-1","status":"paid"}`, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &recordingApplier{}
			jobs := &recordingQueue{}
			rec := postWebhook(newWebhook(applier, jobs, ""), tt.contentType, tt.body, nil)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, false, decodeEnvelope(t, rec)["success"])
			assert.Empty(t, jobs.jobs)
			assert.Empty(t, applier.events)
		})
	}
}

func TestWebhookAppliesInlineWhenQueueFails(t *testing.T) {
	applier := &recordingApplier{}
	jobs := &recordingQueue{err: errors.New("redis: connection refused")}

	rec := postWebhook(newWebhook(applier, jobs, ""), "application/json", `{"id":"tx-1","status":"paid","value":1000}`, nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	require.Len(t, applier.events, 1)
	assert.Equal(t, "tx-1", applier.events[0].ID)
	assert.Equal(t, 1000, applier.events[0].Value)
}

func TestWebhookSideEffectFailureKeepsResponse(t *testing.T) {
	applier := &recordingApplier{err: payment.ErrOrderNotFound}

	rec := postWebhook(newWebhook(applier, nil, ""), "application/json", `{"id":"tx-9","status":"expired"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, applier.events, 1)
}

func TestWebhookToken(t *testing.T) {
	applier := &recordingApplier{}
	h := newWebhook(applier, nil, "s3cret")
	body := `{"id":"tx-1","status":"paid","value":1000}`

	rec := postWebhook(h, "application/json", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(h, "application/json", body, map[string]string{WebhookTokenHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, applier.events)

	rec = postWebhook(h, "application/json", body, map[string]string{WebhookTokenHeader: "s3cret"})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Len(t, applier.events, 1)
}

func TestWebhookWritesThroughToStore(t *testing.T) {
	env := newTestEnv(t, "test-token")
	require.Equal(t, http.StatusOK, postCreate(env.payments, chargeBody(1000, "pedido-1")).Code)

	h := NewWebhookHandler(env.service, nil, env.catalog, "https://checkout.example.com", testRouting, "", nil)
	rec := postWebhook(h, "application/json", `{"id":"tx-1","status":"paid","value":1000}`, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	_, getsBefore := env.provider.calls()
	check := getCheck(env.payments, "tx-1")
	require.Equal(t, http.StatusOK, check.Code)
	assert.Equal(t, "paid", decodeEnvelope(t, check)["data"].(map[string]interface{})["status"])

	_, getsAfter := env.provider.calls()
	assert.Equal(t, getsBefore, getsAfter)

	rec = postWebhook(h, "application/json", `{"id":"tx-1","status":"created"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	order, err := env.store.Get(context.Background(), "pedido-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeStatusPaid, order.Status)
}
