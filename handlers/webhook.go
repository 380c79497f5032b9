package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pix-checkout-api/config"
	"pix-checkout-api/logger"
	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/services/pricing"
	"pix-checkout-api/telemetry"
	"pix-checkout-api/utils"
)

// WebhookTokenHeader carries the optional shared secret.
const WebhookTokenHeader = "X-Webhook-Token"

var (
	errMalformedWebhook   = errors.New("malformed webhook payload")
	errUnsupportedContent = errors.New("unsupported content type")
)

// NotificationApplier is implemented by payment.Service.
type NotificationApplier interface {
	ApplyNotification(ctx context.Context, ev models.WebhookEvent) (*payment.StatusChange, error)
}

// Enqueuer is the subset of queue.Queue the webhook needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, data map[string]interface{}) error
}

type WebhookHandler struct {
	charges NotificationApplier
	jobs    Enqueuer
	catalog *pricing.Catalog
	baseURL string
	routing config.RoutingConfig
	token   string
	metrics *telemetry.Metrics
}

// NewWebhookHandler builds the provider callback handler. jobs may be nil,
// in which case notifications are applied inline.
func NewWebhookHandler(charges NotificationApplier, jobs Enqueuer, catalog *pricing.Catalog, baseURL string, routing config.RoutingConfig, token string, metrics *telemetry.Metrics) *WebhookHandler {
	return &WebhookHandler{
		charges: charges,
		jobs:    jobs,
		catalog: catalog,
		baseURL: strings.TrimRight(baseURL, "/"),
		routing: routing,
		token:   token,
		metrics: metrics,
	}
}

// webhookPayload accepts id and value as JSON numbers or strings.
type webhookPayload struct {
	ID        utils.FlexString `json:"id"`
	PaymentID utils.FlexString `json:"payment_id"`
	Status    string           `json:"status"`
	Value     *decimal.Decimal `json:"value"`
}

// HandlePushinPay handles POST /api/webhook/pushinpay.
func (h *WebhookHandler) HandlePushinPay(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context()).With(zap.String("endpoint", "webhook"))

	if h.token != "" && !utils.SecretsEqual(r.Header.Get(WebhookTokenHeader), h.token) {
		log.Warn("webhook rejected: bad token")
		h.metrics.WebhookEvent("", "unauthorized")
		utils.SendErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ev, err := parseWebhook(w, r)
	if err != nil {
		log.Info("webhook rejected", zap.Error(err))
		if errors.Is(err, errUnsupportedContent) {
			h.metrics.WebhookEvent("", "unsupported_media")
			utils.SendErrorResponse(w, http.StatusUnsupportedMediaType, "Unsupported content type")
			return
		}
		h.metrics.WebhookEvent("", "malformed")
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid webhook payload: id and status are required")
		return
	}

	status := models.NormalizeChargeStatus(ev.Status)
	log = log.With(zap.String("charge_id", ev.ID), zap.String("status", string(status)))
	log.Info("webhook received", zap.Int("value", ev.Value))

	outcome := h.dispatch(r.Context(), log, ev)
	h.metrics.WebhookEvent(string(status), outcome)

	if status == models.ChargeStatusPaid {
		path := h.routing.ThankYouPath
		if ev.HasValue && h.catalog != nil && h.catalog.IsMainProductPrice(ev.Value) {
			path = h.routing.UpsellPath
		}
		http.Redirect(w, r, h.baseURL+path, http.StatusFound)
		return
	}

	utils.SendSuccessResponse(w, http.StatusOK, "notification acknowledged", nil)
}

// dispatch hands the event to the worker, falling back to applying it
// inline. Failures are logged only.
func (h *WebhookHandler) dispatch(ctx context.Context, log *zap.Logger, ev models.WebhookEvent) string {
	if h.jobs != nil {
		err := h.jobs.Enqueue(ctx, queue.JobTypeApplyNotification, map[string]interface{}{
			"charge_id": ev.ID,
			"status":    ev.Status,
		})
		if err == nil {
			return "queued"
		}
		log.Warn("failed to enqueue notification, applying inline", zap.Error(err))
	}

	if _, err := h.charges.ApplyNotification(ctx, ev); err != nil {
		if errors.Is(err, payment.ErrOrderNotFound) {
			log.Info("notification for unknown charge")
			return "unknown"
		}
		log.Error("failed to apply notification", zap.Error(err))
		return "error"
	}
	return "applied"
}

func parseWebhook(w http.ResponseWriter, r *http.Request) (models.WebhookEvent, error) {
	var ev models.WebhookEvent

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ev, errUnsupportedContent
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	switch mediaType {
	case "application/json":
		var p webhookPayload
		if err := json.NewDecoder(body).Decode(&p); err != nil {
			return ev, fmt.Errorf("%w: %v", errMalformedWebhook, err)
		}
		ev.ID, ev.Status = firstNonEmpty(p.ID.String(), p.PaymentID.String()), p.Status
		if p.Value != nil {
			ev.Value, ev.HasValue = int(p.Value.IntPart()), true
		}
	case "application/x-www-form-urlencoded":
		r.Body = body
		if err := r.ParseForm(); err != nil {
			return ev, fmt.Errorf("%w: %v", errMalformedWebhook, err)
		}
		ev.ID = firstNonEmpty(r.PostForm.Get("id"), r.PostForm.Get("payment_id"))
		ev.Status = r.PostForm.Get("status")
		if raw := strings.TrimSpace(r.PostForm.Get("value")); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return ev, fmt.Errorf("%w: value %q", errMalformedWebhook, raw)
			}
			ev.Value, ev.HasValue = int(v.IntPart()), true
		}
	default:
		return ev, errUnsupportedContent
	}

	ev.ID = strings.TrimSpace(ev.ID)
	ev.Status = strings.TrimSpace(ev.Status)
	if ev.ID == "" || ev.Status == "" {
		return ev, errMalformedWebhook
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
