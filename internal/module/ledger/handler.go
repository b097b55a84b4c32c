package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stylemint/server/internal/shared/middleware"
	"github.com/stylemint/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles billing HTTP requests.
type Handler struct {
	service ServiceInterface
	logger  *zap.Logger
}

// NewHandler creates a new billing handler.
func NewHandler(service ServiceInterface, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers billing routes. The plans listing is public,
// everything else requires an authenticated account.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	billing := rg.Group("/billing")
	{
		billing.GET("/plans", h.ListPlans)

		authed := billing.Group("")
		authed.Use(auth)
		{
			authed.GET("/subscription", h.GetSubscription)
			authed.GET("/transactions", h.ListTransactions)
		}
	}
}

// ListPlans returns the active plans in display order.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list plans", zap.Error(err))
		response.InternalError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetSubscription returns the caller's subscription with its plan.
func (h *Handler) GetSubscription(c *gin.Context) {
	accountID := middleware.AccountID(c)

	sub, err := h.service.GetSubscription(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListTransactions returns the caller's credit transaction history,
// newest first.
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID := middleware.AccountID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.service.ListTransactions(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	handled := response.HandleError(c, err, []response.ErrorMapping{
		{Err: ErrSubscriptionNotFound, Status: http.StatusNotFound},
		{Err: ErrPlanNotFound, Status: http.StatusNotFound},
		{Err: ErrSubscriptionNotActive, Status: http.StatusForbidden},
		{Err: ErrInsufficientCredits, Status: http.StatusForbidden, Code: "insufficient_credits"},
		{Err: ErrPlanCapability, Status: http.StatusForbidden, Code: "plan_capability"},
	})
	if !handled {
		h.logger.Error("billing request failed", zap.Error(err))
		response.InternalError(c, "")
	}
}
