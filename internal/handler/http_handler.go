package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/service"
	"go.uber.org/zap"
)

const serviceName = "payout-manager"

// PayoutManager is the state machine behind the REST surface
type PayoutManager interface {
	CreatePayout(ctx context.Context, req *service.CreatePayoutRequest) (*model.Payout, error)
	GetPayoutWithPostings(ctx context.Context, payoutID string) (*model.PayoutWithPostings, error)
	ConfirmPayout(ctx context.Context, payoutID string) error
	CancelPayout(ctx context.Context, payoutID, details string) error
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	payouts PayoutManager
	checks  map[string]ReadinessCheck
	logger  *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler
func NewHTTPHandler(payouts PayoutManager, checks map[string]ReadinessCheck, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		payouts: payouts,
		checks:  checks,
		logger:  logger,
	}
}

// SetupRoutes configures the HTTP routes
func (h *HTTPHandler) SetupRoutes(r *gin.Engine) {
	// Health check
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	api := r.Group("/api")
	{
		payouts := api.Group("/payouts")
		{
			payouts.POST("", h.CreatePayout)
			payouts.GET("/:payoutId", h.GetPayout)
			payouts.POST("/:payoutId/confirm", h.ConfirmPayout)
			payouts.POST("/:payoutId/cancel", h.CancelPayout)
		}
	}
}

// Health returns the health status
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Ready runs every readiness check
func (h *HTTPHandler) Ready(c *gin.Context) {
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"service": serviceName,
			"failed":  failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": serviceName,
	})
}

type createPayoutRequest struct {
	PayoutID     string     `json:"payoutId"`
	PartyID      string     `json:"partyId" binding:"required"`
	ShopID       string     `json:"shopId" binding:"required"`
	Cash         model.Cash `json:"cash"`
	PayoutToolID string     `json:"payoutToolId"`
}

type cancelPayoutRequest struct {
	Details string `json:"details"`
}

// CreatePayout creates a payout and returns it with its cash flow
func (h *HTTPHandler) CreatePayout(c *gin.Context) {
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Cash.CurrencyCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cash.currency is required"})
		return
	}

	payout, err := h.payouts.CreatePayout(c.Request.Context(), &service.CreatePayoutRequest{
		PartyID:      req.PartyID,
		ShopID:       req.ShopID,
		Cash:         req.Cash,
		PayoutID:     req.PayoutID,
		PayoutToolID: req.PayoutToolID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writePayout(c, http.StatusCreated, payout.PayoutID)
}

// GetPayout retrieves a payout with its cash flow
func (h *HTTPHandler) GetPayout(c *gin.Context) {
	h.writePayout(c, http.StatusOK, c.Param("payoutId"))
}

// ConfirmPayout confirms an unpaid payout
func (h *HTTPHandler) ConfirmPayout(c *gin.Context) {
	payoutID := c.Param("payoutId")
	if err := h.payouts.ConfirmPayout(c.Request.Context(), payoutID); err != nil {
		h.writeError(c, err)
		return
	}
	h.writePayout(c, http.StatusOK, payoutID)
}

// CancelPayout cancels an unpaid payout
func (h *HTTPHandler) CancelPayout(c *gin.Context) {
	var req cancelPayoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	payoutID := c.Param("payoutId")
	if err := h.payouts.CancelPayout(c.Request.Context(), payoutID, req.Details); err != nil {
		h.writeError(c, err)
		return
	}
	h.writePayout(c, http.StatusOK, payoutID)
}

func (h *HTTPHandler) writePayout(c *gin.Context, code int, payoutID string) {
	payout, err := h.payouts.GetPayoutWithPostings(c.Request.Context(), payoutID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(code, payout)
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Payout request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("payoutId", c.Param("payoutId")),
			zap.Error(err),
		)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes. RevertInconsistent is
// checked first because a RevertError also wraps its causes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrRevertInconsistent):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPayoutAlreadyExists), errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
