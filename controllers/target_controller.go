package controllers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"crypto_alert_backend/middleware"
	"crypto_alert_backend/models"
	"crypto_alert_backend/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TargetController handles the targets saved on accounts
type TargetController struct {
	store  services.UserStore
	logger zerolog.Logger
}

// NewTargetController creates a new target controller
func NewTargetController(store services.UserStore, logger zerolog.Logger) *TargetController {
	return &TargetController{store: store, logger: logger}
}

// AddTarget saves a target on the authenticated account
// POST /addTarget
func (tc *TargetController) AddTarget(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var request models.AddTargetRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validateTarget(request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := &models.Target{
		CoinID:      strings.TrimSpace(request.CoinID),
		TargetPrice: request.TargetPrice,
		Currency:    request.Currency,
	}
	if err := tc.store.AddTarget(c.Request.Context(), userID, target); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		tc.logger.Error().Err(err).Str("user_id", userID).Msg("failed to add target")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Target added successfully",
		"data":    target,
	})
}

// GetTargets lists the targets saved on the authenticated account
// GET /getTargets
func (tc *TargetController) GetTargets(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	targets, err := tc.store.ListTargets(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		tc.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list targets")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, targets)
}

func validateTarget(request models.AddTargetRequest) error {
	if strings.TrimSpace(request.CoinID) == "" {
		return services.NewValidationError("coinId", request.CoinID, "coin id is required")
	}
	price := request.TargetPrice
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return services.NewValidationError("targetPrice", price, "target price must be a positive number")
	}
	currency := models.NormalizeCurrency(request.Currency)
	if currency != "" && !models.IsValidCurrency(currency) {
		return services.NewValidationError("currency", request.Currency, "unsupported currency code")
	}
	return nil
}
