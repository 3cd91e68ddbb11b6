package controllers

import (
	"net/http"
	"strconv"

	"crypto_alert_backend/models"
	"crypto_alert_backend/services"

	"github.com/gin-gonic/gin"
)

// PriceController serves the REST read side of the price cache
type PriceController struct {
	cache       *services.PriceCache
	registry    *services.SubscriberRegistry
	broadcaster *services.Broadcaster
	realtime    *services.RealtimePriceService
	dispatcher  *services.NotificationDispatcher
	feed        *services.AlertFeed
}

// NewPriceController creates a new price controller
func NewPriceController(
	cache *services.PriceCache,
	registry *services.SubscriberRegistry,
	broadcaster *services.Broadcaster,
	realtime *services.RealtimePriceService,
	dispatcher *services.NotificationDispatcher,
	feed *services.AlertFeed,
) *PriceController {
	return &PriceController{
		cache:       cache,
		registry:    registry,
		broadcaster: broadcaster,
		realtime:    realtime,
		dispatcher:  dispatcher,
		feed:        feed,
	}
}

// GetPrices returns the snapshot of one currency
// GET /api/v1/prices?currency=usd
func (pc *PriceController) GetPrices(c *gin.Context) {
	currency := models.NormalizeCurrency(c.DefaultQuery("currency", pc.registry.DefaultCurrency()))
	if !models.IsValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported currency code"})
		return
	}

	snapshot := pc.cache.Refresh(c.Request.Context(), currency)
	c.JSON(http.StatusOK, gin.H{
		"currency":   snapshot.Currency,
		"fetched_at": snapshot.FetchedAt,
		"count":      snapshot.Len(),
		"data":       snapshot.Quotes,
	})
}

// GetCoin returns one coin of a currency's snapshot
// GET /api/v1/prices/:coin?currency=usd
func (pc *PriceController) GetCoin(c *gin.Context) {
	currency := models.NormalizeCurrency(c.DefaultQuery("currency", pc.registry.DefaultCurrency()))
	if !models.IsValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported currency code"})
		return
	}

	snapshot := pc.cache.Refresh(c.Request.Context(), currency)
	quote, ok := snapshot.Find(c.Param("coin"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Coin not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": snapshot.Currency, "data": quote})
}

// GetStatus reports connections, cycles, cache ages and delivery counters
// GET /api/v1/status
func (pc *PriceController) GetStatus(c *gin.Context) {
	status := gin.H{
		"realtime": pc.realtime.GetStatus(),
		"cycles":   pc.broadcaster.States(),
		"ticks":    pc.broadcaster.TickCount(),
		"cache":    pc.cache.Status(),
	}
	if pc.dispatcher != nil {
		status["notifications"] = pc.dispatcher.Stats()
	}
	if pc.feed != nil {
		status["alerts_fired"] = pc.feed.Total()
	}
	c.JSON(http.StatusOK, status)
}

// GetRecentAlerts returns the latest fired alerts, newest first
// GET /api/v1/alerts/recent?limit=20
func (pc *PriceController) GetRecentAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	alerts := pc.feed.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"data":  alerts,
		"count": len(alerts),
	})
}
