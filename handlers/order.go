package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pix-checkout-api/logger"
	"pix-checkout-api/models"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/services/pricing"
	"pix-checkout-api/utils"
)

// OrderReader is implemented by payment.Service.
type OrderReader interface {
	Order(ctx context.Context, reference string) (*models.OrderRecord, error)
}

// OrderHandler serves the server-side view of the buyer's current order.
type OrderHandler struct {
	orders  OrderReader
	session *OrderSession
	catalog *pricing.Catalog
}

func NewOrderHandler(orders OrderReader, session *OrderSession, catalog *pricing.Catalog) *OrderHandler {
	return &OrderHandler{orders: orders, session: session, catalog: catalog}
}

// GetOrder handles GET /api/order.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	ref := h.session.Reference(r)
	if ref == "" {
		utils.SendErrorResponse(w, http.StatusNotFound, "No order in progress")
		return
	}

	order, err := h.orders.Order(r.Context(), ref)
	if errors.Is(err, payment.ErrOrderNotFound) {
		utils.SendErrorResponse(w, http.StatusNotFound, "No order in progress")
		return
	}
	if err != nil {
		log.Error("failed to load order", zap.String("reference", ref), zap.Error(err))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	utils.SendSuccessResponse(w, http.StatusOK, "", order)
}

// ClearOrder handles DELETE /api/order ("start a new payment").
func (h *OrderHandler) ClearOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Clear(w, r); err != nil {
		logger.FromContext(r.Context()).Warn("failed to clear order session", zap.Error(err))
	}
	utils.SendSuccessResponse(w, http.StatusOK, "order cleared", nil)
}

// GetCatalog handles GET /api/catalog.
func (h *OrderHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	utils.SendSuccessResponse(w, http.StatusOK, "", h.catalog.View())
}
