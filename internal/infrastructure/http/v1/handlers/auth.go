package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"taxlink/internal/domain/auth"
	"taxlink/internal/infrastructure/http/v1/dto"
)

// Authenticator logs operators in.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, *auth.Operator, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	*BaseHandler
	service Authenticator
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *BaseHandler, service Authenticator) *AuthHandler {
	return &AuthHandler{BaseHandler: base, service: service}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tokens, op, err := h.service.Login(c.Request.Context(), req.ToCredentials())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewLoginResponse(tokens, op))
}
