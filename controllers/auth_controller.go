package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crypto_alert_backend/middleware"
	"crypto_alert_backend/models"
	"crypto_alert_backend/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AuthController handles account signup and login
type AuthController struct {
	store   services.UserStore
	tokens  *middleware.TokenManager
	limiter *middleware.RateLimiter
	logger  zerolog.Logger
}

// NewAuthController creates a new auth controller
func NewAuthController(store services.UserStore, tokens *middleware.TokenManager, limiter *middleware.RateLimiter, logger zerolog.Logger) *AuthController {
	return &AuthController{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		logger:  logger,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Message   string       `json:"message"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Register creates an account
// POST /register
func (ac *AuthController) Register(c *gin.Context) {
	var request registerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := &models.User{
		Username: strings.TrimSpace(request.Username),
		Email:    request.Email,
	}
	if err := user.SetPassword(request.Password); err != nil {
		ac.logger.Error().Err(err).Msg("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	if err := ac.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, services.ErrEmailExists) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email already exists"})
			return
		}
		ac.logger.Error().Err(err).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	token, expiresAt, err := ac.tokens.Issue(user.ID, user.Email, user.Username)
	if err != nil {
		ac.logger.Error().Err(err).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	ac.logger.Info().Str("user_id", user.ID).Msg("user signed up")
	c.JSON(http.StatusCreated, authResponse{
		Message:   "User signed up successfully",
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// Login verifies credentials and issues a token
// POST /login
func (ac *AuthController) Login(c *gin.Context) {
	var request loginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ip := c.ClientIP()
	user, err := ac.store.FindUserByEmail(c.Request.Context(), request.Email)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			ac.recordAttempt(ip, false)
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		ac.logger.Error().Err(err).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	if !user.CheckPassword(request.Password) {
		ac.recordAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": services.ErrInvalidCredentials.Error()})
		return
	}
	ac.recordAttempt(ip, true)

	now := time.Now()
	if err := ac.store.TouchLogin(c.Request.Context(), user.ID, now); err != nil {
		ac.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login")
	} else {
		user.LastLoginAt = &now
	}

	token, expiresAt, err := ac.tokens.Issue(user.ID, user.Email, user.Username)
	if err != nil {
		ac.logger.Error().Err(err).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, authResponse{
		Message:   "User logged in successfully",
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// Me returns the authenticated account
// GET /api/v1/me
func (ac *AuthController) Me(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := ac.store.FindUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

func (ac *AuthController) recordAttempt(ip string, success bool) {
	if ac.limiter != nil {
		ac.limiter.RecordAttempt(ip, success)
	}
}
