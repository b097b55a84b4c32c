package generation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stylemint/server/internal/module/generation/provider"
	"github.com/stylemint/server/internal/module/ledger"
	"github.com/stylemint/server/internal/shared/middleware"
	"github.com/stylemint/server/internal/shared/response"
	"go.uber.org/zap"
)

// Handler handles generation HTTP requests.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new generation handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers generation routes. Merchant endpoints require
// bearer auth; the storefront try-on takes the store header plus the IP
// quota middleware instead.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc, storefront ...gin.HandlerFunc) {
	gen := rg.Group("/generations")
	gen.Use(auth)
	{
		gen.POST("/text", h.GenerateText)
		gen.POST("/image", h.GenerateImage)
		gen.POST("/video", h.GenerateVideo)
		gen.GET("/video/:id", h.GetVideoJob)
	}

	store := rg.Group("/storefront")
	store.Use(storefront...)
	{
		store.POST("/try-on", h.StorefrontTryOn)
	}
}

// GenerateText produces styling advice text.
func (h *Handler) GenerateText(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "prompt is required")
		return
	}

	artifact, err := h.service.GenerateText(c.Request.Context(), middleware.AccountID(c), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": artifact})
}

// GenerateImage produces a composed look image.
func (h *Handler) GenerateImage(c *gin.Context) {
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	artifact, err := h.service.GenerateImage(c.Request.Context(), middleware.AccountID(c), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": artifact})
}

// GenerateVideo submits an async video job and returns its handle.
func (h *Handler) GenerateVideo(c *gin.Context) {
	var req VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "prompt is required")
		return
	}

	artifact, err := h.service.GenerateVideo(c.Request.Context(), middleware.AccountID(c), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": artifact})
}

// GetVideoJob returns the state of one of the caller's video jobs.
func (h *Handler) GetVideoJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid job id")
		return
	}

	job, err := h.service.GetVideoJob(c.Request.Context(), middleware.AccountID(c), jobID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}

// StorefrontTryOn runs a try-on for an unauthenticated shopper.
func (h *Handler) StorefrontTryOn(c *gin.Context) {
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	storeID := c.GetString(middleware.StoreIDKey)
	artifact, err := h.service.StorefrontTryOn(c.Request.Context(), storeID, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": artifact})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	handled := response.HandleError(c, err, []response.ErrorMapping{
		{Err: ErrValidation, Status: http.StatusBadRequest},
		{Err: ErrStoreNotFound, Status: http.StatusNotFound},
		{Err: ErrJobNotFound, Status: http.StatusNotFound},
		{Err: ledger.ErrSubscriptionNotFound, Status: http.StatusNotFound},
		{Err: ledger.ErrPlanNotFound, Status: http.StatusNotFound},
		{Err: ledger.ErrSubscriptionNotActive, Status: http.StatusForbidden},
		{Err: ledger.ErrInsufficientCredits, Status: http.StatusForbidden, Code: "insufficient_credits"},
		{Err: ledger.ErrPlanCapability, Status: http.StatusForbidden, Code: "plan_capability"},
		{Err: provider.ErrRateLimited, Status: http.StatusTooManyRequests},
		{Err: provider.ErrUnavailable, Status: http.StatusServiceUnavailable},
		{Err: provider.ErrTimeout, Status: http.StatusGatewayTimeout},
		{Err: provider.ErrRejected, Status: http.StatusBadGateway},
	})
	if !handled {
		h.logger.Error("generation request failed", zap.Error(err))
		response.InternalError(c, "")
	}
}
