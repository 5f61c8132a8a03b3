package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pluvio/hydroclim-go/internal/middleware"
)

// AuthHandler authenticates the configured operator account and issues
// API tokens. There is no user database: the service runs computations
// for a single operations team.
type AuthHandler struct {
	auth         *middleware.AuthMiddleware
	email        string
	passwordHash string
	tokenTTL     time.Duration
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthHandler(auth *middleware.AuthMiddleware, email, passwordHash string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		auth:         auth,
		email:        email,
		passwordHash: passwordHash,
		tokenTTL:     tokenTTL,
	}
}

// Login verifies the operator credentials and returns a signed token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Email != h.email {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.auth.GenerateToken(req.Email, h.tokenTTL)
	if err != nil {
		logrus.WithError(err).Error("Token generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.tokenTTL),
	})
}
