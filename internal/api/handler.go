package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxWebhookBodySize = 1 << 20

// Handler contains HTTP handlers
type Handler struct {
	registration *service.RegistrationService
	checkin      *service.CheckInGate
	reconciler   *service.WebhookReconciler
}

// NewHandler creates a new HTTP handler
func NewHandler(registration *service.RegistrationService, checkin *service.CheckInGate, reconciler *service.WebhookReconciler) *Handler {
	return &Handler{
		registration: registration,
		checkin:      checkin,
		reconciler:   reconciler,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/register", h.register)
		v1.POST("/checkin", h.checkIn)
		v1.GET("/checkin", h.checkInProbe)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// register handles registration requests
func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.registration.Register(c.Request.Context(), &req)
	if err != nil {
		h.writeRegistrationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) writeRegistrationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownTicketType):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ticket type"})
	case errors.Is(err, service.ErrSoldOut):
		c.JSON(http.StatusConflict, gin.H{"error": "sold out"})
	case errors.Is(err, service.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable, retry later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	}
}

// checkInRequest is the POST /checkin body
type checkInRequest struct {
	Token      string `json:"token" binding:"required"`
	GateID     string `json:"gate_id"`
	OperatorID string `json:"operator_id"`
	Notes      string `json:"notes"`
}

// checkIn handles check-in requests
func (h *Handler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	summary, err := h.checkin.Admit(c.Request.Context(), req.Token, models.CheckinMeta{
		GateID:     req.GateID,
		OperatorID: req.OperatorID,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeCheckInError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// checkInProbe handles read-only eligibility probes
func (h *Handler) checkInProbe(c *gin.Context) {
	tok := c.Query("token")
	if tok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter required"})
		return
	}

	summary, err := h.checkin.Probe(c.Request.Context(), tok)
	if err != nil {
		h.writeCheckInError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eligible": true,
		"summary":  summary,
	})
}

func (h *Handler) writeCheckInError(c *gin.Context, err error) {
	var rejection *service.CheckInError
	if !errors.As(err, &rejection) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
		return
	}

	body := gin.H{"error": rejection.Reason}
	if rejection.CheckedInAt != nil {
		body["checked_in_at"] = rejection.CheckedInAt
	}
	if rejection.AttendeeName != "" {
		body["attendee_name"] = rejection.AttendeeName
	}
	if rejection.EventStartsAt != nil {
		body["event_starts_at"] = rejection.EventStartsAt
	}
	if rejection.EventEndsAt != nil {
		body["event_ends_at"] = rejection.EventEndsAt
	}

	switch rejection.Reason {
	case service.CheckInMalformedToken:
		c.JSON(http.StatusBadRequest, body)
	case service.CheckInNotFound:
		c.JSON(http.StatusNotFound, body)
	default:
		c.JSON(http.StatusConflict, body)
	}
}

// handleWebhook receives provider webhook deliveries. The raw body is
// read before anything else because signature verification covers the
// exact bytes on the wire.
func (h *Handler) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	sig := c.GetHeader(gateway.SignatureHeader)
	if err := h.reconciler.ProcessDelivery(c.Request.Context(), body, sig); err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		case errors.Is(err, service.ErrMalformedEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		default:
			// Non-2xx tells the provider to retry.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
