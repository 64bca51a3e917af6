package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fitbounty/fitbounty/internal/identity"
)

// AuthHandler exchanges the admin secret for a session token.
type AuthHandler struct {
	tokens *identity.AdminTokenIssuer
	logger *zap.Logger
}

func NewAuthHandler(tokens *identity.AdminTokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/admin", h.AdminLogin)
}

type adminLoginRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// AdminLogin handles POST /auth/admin.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.tokens.Exchange(req.Secret)
	switch {
	case errors.Is(err, identity.ErrAdminDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, identity.ErrInvalidSecret):
		h.logger.Warn("admin login rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer"})
}
