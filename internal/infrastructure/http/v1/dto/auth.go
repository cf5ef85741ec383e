package dto

import (
	"time"

	"taxlink/internal/domain/auth"
)

// LoginRequest for operator login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ToCredentials converts to domain credentials.
func (r *LoginRequest) ToCredentials() auth.LoginRequest {
	return auth.LoginRequest{
		Email:    r.Email,
		Password: r.Password,
	}
}

// TokenResponse is the issued access token.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	TokenType   string    `json:"tokenType"`
}

// OperatorResponse describes the logged-in operator.
type OperatorResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	TenantIDs []string `json:"tenantIds,omitempty"`
	IsAdmin   bool     `json:"isAdmin"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Token    TokenResponse    `json:"token"`
	Operator OperatorResponse `json:"operator"`
}

// NewLoginResponse builds the login response.
func NewLoginResponse(tokens *auth.TokenResponse, op *auth.Operator) LoginResponse {
	return LoginResponse{
		Token: TokenResponse{
			AccessToken: tokens.AccessToken,
			ExpiresAt:   tokens.ExpiresAt,
			TokenType:   tokens.TokenType,
		},
		Operator: OperatorResponse{
			ID:        op.ID.String(),
			Email:     op.Email,
			TenantIDs: op.TenantIDs,
			IsAdmin:   op.IsAdmin,
		},
	}
}
