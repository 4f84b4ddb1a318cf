package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yonatanhaile/tigray-marketplace/internal/auth"
	"github.com/Yonatanhaile/tigray-marketplace/internal/config"
	"github.com/Yonatanhaile/tigray-marketplace/internal/models"
	"github.com/Yonatanhaile/tigray-marketplace/internal/services"
)

// AuthHandler handles registration and login.
type AuthHandler struct {
	cfg         *config.Config
	userService services.IUserService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(cfg *config.Config, userService services.IUserService) *AuthHandler {
	return &AuthHandler{cfg: cfg, userService: userService}
}

type registerRequest struct {
	Name     string        `json:"name" binding:"required"`
	Email    string        `json:"email" binding:"required"`
	Phone    string        `json:"phone"`
	Password string        `json:"password" binding:"required"`
	Roles    []models.Role `json:"roles"`
}

// Register handles POST /v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Name, req.Email, req.Phone, req.Password, req.Roles)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := auth.GenerateJWT(user.ID, user.Roles, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"error": false, "user": user, "token": token})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid request body"})
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := auth.GenerateJWT(user.ID, user.Roles, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"error": false, "user": user, "token": token})
}
