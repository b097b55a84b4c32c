package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stylemint/server/internal/module/ledger"
	"github.com/stylemint/server/internal/shared/metrics"
	"github.com/stylemint/server/internal/shared/middleware"
	"github.com/stylemint/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles checkout and webhook HTTP requests.
type Handler struct {
	service *Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{service: service, metrics: m, logger: logger}
}

// RegisterRoutes registers payment routes. The webhook endpoint is
// unauthenticated; the signature is its authentication.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	rg.POST("/webhooks/stripe", h.HandleStripeWebhook)
	rg.POST("/billing/checkout", auth, h.CreateCheckout)
}

// CreateCheckoutRequest is the request body for starting a checkout.
type CreateCheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// CreateCheckout starts a subscription checkout and returns the redirect URL.
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "plan_id is required")
		return
	}

	accountID := middleware.AccountID(c)
	sess, err := h.service.CreateCheckoutSession(c.Request.Context(), accountID, req.PlanID)
	if err != nil {
		if errors.Is(err, ledger.ErrPlanNotFound) {
			response.NotFound(c, "plan not found")
			return
		}
		h.logger.Error("failed to create checkout session", zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, "checkout unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	})
}

// HandleStripeWebhook processes incoming Stripe webhook events.
// Bad signatures are rejected with 400 so Stripe does not retry forged
// deliveries; transient processing failures return 500 to request a retry.
func (h *Handler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		response.BadRequest(c, "failed to read body")
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	outcome, err := h.service.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			h.logger.Warn("invalid webhook signature", zap.Error(err))
			if h.metrics != nil {
				h.metrics.RecordWebhookEvent("unknown", "bad_signature")
			}
			response.BadRequest(c, "invalid signature")
			return
		}
		h.logger.Error("webhook processing failed", zap.Error(err))
		response.InternalError(c, "processing failed")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordWebhookEvent("stripe", string(outcome))
	}
	c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
}
