package routes

import (
	"crypto_alert_backend/controllers"
	"crypto_alert_backend/middleware"
	"crypto_alert_backend/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Dependencies are the services the HTTP surface is built on. Store may be
// nil, in which case account routes are not mounted.
type Dependencies struct {
	Cache       *services.PriceCache
	Registry    *services.SubscriberRegistry
	Broadcaster *services.Broadcaster
	Realtime    *services.RealtimePriceService
	Dispatcher  *services.NotificationDispatcher
	Feed        *services.AlertFeed
	Store       services.UserStore
	Tokens      *middleware.TokenManager
	Limiter     *middleware.RateLimiter
	Logger      zerolog.Logger
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	priceController := controllers.NewPriceController(
		deps.Cache, deps.Registry, deps.Broadcaster, deps.Realtime, deps.Dispatcher, deps.Feed,
	)

	// Websocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		deps.Realtime.HandleWebSocket(c.Writer, c.Request)
	})

	api := router.Group("/api/v1")
	{
		api.GET("/prices", priceController.GetPrices)
		api.GET("/prices/:coin", priceController.GetCoin)
		api.GET("/status", priceController.GetStatus)
		api.GET("/alerts/recent", priceController.GetRecentAlerts)
	}

	if deps.Store == nil || deps.Tokens == nil {
		return
	}

	authController := controllers.NewAuthController(deps.Store, deps.Tokens, deps.Limiter, deps.Logger)
	targetController := controllers.NewTargetController(deps.Store, deps.Logger)
	auth := middleware.JWTAuthMiddleware(deps.Tokens)

	login := []gin.HandlerFunc{authController.Login}
	if deps.Limiter != nil {
		login = append([]gin.HandlerFunc{middleware.LoginRateLimitMiddleware(deps.Limiter)}, login...)
	}

	// Account routes kept at the root for existing clients
	router.POST("/register", authController.Register)
	router.POST("/login", login...)
	router.POST("/addTarget", auth, targetController.AddTarget)
	router.GET("/getTargets", auth, targetController.GetTargets)

	v1Auth := api.Group("/auth")
	{
		v1Auth.POST("/register", authController.Register)
		v1Auth.POST("/login", login...)
	}

	protected := api.Group("", auth)
	{
		protected.GET("/me", authController.Me)
		protected.GET("/targets", targetController.GetTargets)
		protected.POST("/targets", targetController.AddTarget)
	}
}
