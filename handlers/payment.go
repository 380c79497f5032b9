package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pix-checkout-api/config"
	"pix-checkout-api/logger"
	"pix-checkout-api/middleware"
	"pix-checkout-api/models"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/services/payment/pushinpay"
	"pix-checkout-api/services/pricing"
	"pix-checkout-api/utils"
)

const maxBodyBytes = 64 << 10

// PaymentService is implemented by payment.Service.
type PaymentService interface {
	Ready() bool
	Validate(req models.ChargeRequest) error
	CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.Charge, error)
	CheckCharge(ctx context.Context, chargeID string) (*models.Charge, error)
}

type PaymentHandler struct {
	payments PaymentService
	catalog  *pricing.Catalog
	session  *OrderSession
	captcha  CaptchaVerifier
}

// NewPaymentHandler wires the create and check endpoints. captcha may be nil.
func NewPaymentHandler(payments PaymentService, catalog *pricing.Catalog, session *OrderSession, captcha CaptchaVerifier) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		catalog:  catalog,
		session:  session,
		captcha:  captcha,
	}
}

// CreatePayment handles POST /api/create-payment.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context()).With(zap.String("endpoint", "create-payment"))

	var req models.ChargeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Info("invalid create-payment body", zap.Error(err))
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Reference = strings.TrimSpace(req.Reference)
	log = log.With(zap.String("reference", req.Reference))

	if err := h.payments.Validate(req); err != nil {
		writeServiceError(w, log, err)
		return
	}

	if h.catalog != nil && models.KindForReference(req.Reference) == models.OrderKindMain {
		total, err := h.catalog.Total(req.OrderBumps)
		if err != nil {
			log.Info("unknown order bump", zap.Strings("order_bumps", req.OrderBumps))
			utils.SendErrorDetails(w, http.StatusBadRequest, "Unknown order bump",
				map[string]interface{}{"order_bumps": req.OrderBumps})
			return
		}
		if total != req.Value {
			log.Warn("value differs from catalog total", zap.Int("value", req.Value), zap.Int("catalog_total", total))
		}
	}

	if !h.payments.Ready() {
		writeServiceError(w, log, payment.ErrNotConfigured)
		return
	}

	if h.captcha != nil {
		if err := h.captcha.Verify(r.Context(), r.Header.Get(HCaptchaHeader), middleware.ClientIP(r)); err != nil {
			log.Info("captcha rejected", zap.Error(err))
			utils.SendErrorResponse(w, http.StatusBadRequest, "Captcha verification failed")
			return
		}
	}

	if req.Description == "" && h.catalog != nil {
		if models.KindForReference(req.Reference) == models.OrderKindUpsell {
			req.Description = h.catalog.UpsellDescription()
		} else {
			req.Description = h.catalog.Description(req.OrderBumps)
		}
	}

	charge, err := h.payments.CreateCharge(r.Context(), req)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	if h.session != nil {
		if err := h.session.Remember(w, r, req.Reference); err != nil {
			log.Warn("failed to store order session", zap.Error(err))
		}
	}

	utils.SendSuccessResponse(w, http.StatusOK, "", models.CreatePaymentData{
		ID:        charge.ID,
		QRCode:    charge.QRCode,
		QRCodeURL: charge.QRCodeURL,
		PixCode:   charge.PixCode,
		ExpiresAt: utils.FormatTimestamp(charge.ExpiresAt),
		Status:    string(charge.Status),
	})
}

// CheckPayment handles GET /api/check-payment?id=.
func (h *PaymentHandler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	log := logger.FromContext(r.Context()).With(
		zap.String("endpoint", "check-payment"),
		zap.String("charge_id", id),
	)

	if id == "" {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Payment id is required")
		return
	}

	charge, err := h.payments.CheckCharge(r.Context(), id)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	data := models.CheckPaymentData{
		ID:        charge.ID,
		Status:    string(charge.Status),
		ExpiresAt: utils.FormatTimestamp(charge.ExpiresAt),
	}
	if charge.PaidAt != nil {
		data.PaidAt = utils.FormatTimestamp(*charge.PaidAt)
	}
	utils.SendSuccessResponse(w, http.StatusOK, "", data)
}

// writeServiceError maps the error taxonomy onto HTTP responses.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		vErr   *payment.ValidationError
		cfgErr *config.ConfigurationError
		gwErr  *pushinpay.GatewayError
	)

	switch {
	case errors.As(err, &vErr):
		var details interface{}
		if len(vErr.Fields) > 0 {
			details = map[string]interface{}{"missing": vErr.Fields}
		}
		utils.SendErrorDetails(w, http.StatusBadRequest, vErr.Error(), details)
	case errors.Is(err, pushinpay.ErrEmptyChargeID):
		utils.SendErrorResponse(w, http.StatusBadRequest, "Payment id is required")
	case errors.As(err, &cfgErr):
		log.Error("payment gateway not configured", zap.Strings("missing", cfgErr.Missing))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Payment gateway is not configured")
	case errors.As(err, &gwErr):
		status := gwErr.HTTPStatus()
		log.Warn("gateway error",
			zap.String("kind", string(gwErr.Kind)),
			zap.Int("provider_status", gwErr.ProviderStatus),
			zap.Error(err))
		message := gwErr.Message
		if message == "" {
			message = "Payment provider error"
		}
		utils.SendErrorDetails(w, status, message, gwErr.Details())
	case errors.Is(err, payment.ErrOrderNotFound):
		utils.SendErrorResponse(w, http.StatusNotFound, "Order not found")
	default:
		log.Error("unexpected payment error", zap.Error(err))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "internal server error")
	}
}
