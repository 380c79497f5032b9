package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pix-checkout-api/logger"
	"pix-checkout-api/middleware"
	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/utils"
)

// InternalSecretHeader authenticates token requests from trusted systems.
const InternalSecretHeader = "X-Internal-Secret"

// TokenIssuer is implemented by auth.JWTService.
type TokenIssuer interface {
	IssueToken(op models.Operator) (*models.TokenResponse, error)
}

// FailedJobs is the subset of queue.Queue the operator API inspects.
type FailedJobs interface {
	FailedJobs(ctx context.Context) ([]queue.Job, error)
	RetryJob(ctx context.Context, jobID string) error
}

type InternalHandler struct {
	tokens         TokenIssuer
	orders         OrderReader
	jobs           FailedJobs
	internalSecret string
}

func NewInternalHandler(tokens TokenIssuer, orders OrderReader, jobs FailedJobs, internalSecret string) *InternalHandler {
	return &InternalHandler{
		tokens:         tokens,
		orders:         orders,
		jobs:           jobs,
		internalSecret: internalSecret,
	}
}

// RequireInternalSecret rejects requests without the shared secret. An
// unset secret rejects everything.
func (h *InternalHandler) RequireInternalSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(InternalSecretHeader)
		if h.internalSecret == "" || secret == "" || !utils.SecretsEqual(secret, h.internalSecret) {
			logger.FromContext(r.Context()).Warn("invalid or missing internal secret",
				zap.String("remote", middleware.ClientIP(r)))
			utils.SendErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// IssueToken handles POST /api/internal/token.
func (h *InternalHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context()).With(zap.String("endpoint", "internal-token"))

	var req struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "internal"
	}

	token, err := h.tokens.IssueToken(models.Operator{Subject: subject, Role: models.RoleOperator})
	if err != nil {
		log.Error("failed to issue operator token", zap.Error(err))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	log.Info("issued operator token", zap.String("subject", subject))
	utils.SendSuccessResponse(w, http.StatusOK, "", token)
}

// GetOrder handles GET /api/internal/orders/{reference}.
func (h *InternalHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	log := logger.FromContext(r.Context()).With(zap.String("reference", reference))

	order, err := h.orders.Order(r.Context(), reference)
	if errors.Is(err, payment.ErrOrderNotFound) {
		utils.SendErrorResponse(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		log.Error("failed to load order", zap.Error(err))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	utils.SendSuccessResponse(w, http.StatusOK, "", order)
}

// ListFailedJobs handles GET /api/internal/jobs/failed.
func (h *InternalHandler) ListFailedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.FailedJobs(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list failed jobs", zap.Error(err))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}
	utils.SendSuccessResponse(w, http.StatusOK, "", jobs)
}

// RetryJob handles POST /api/internal/jobs/{id}/retry.
func (h *InternalHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log := logger.FromContext(r.Context()).With(zap.String("job_id", id))

	if err := h.jobs.RetryJob(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			utils.SendErrorResponse(w, http.StatusNotFound, "Job not found")
			return
		}
		log.Error("failed to retry job", zap.Error(err))
		utils.SendErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if op := middleware.OperatorFromContext(r.Context()); op != nil {
		log = log.With(zap.String("operator", op.Subject))
	}
	log.Info("job requeued by operator")
	utils.SendSuccessResponse(w, http.StatusOK, "job requeued", nil)
}
