package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/tx"
	"taxlink/pkg/logger"
)

// ServiceConfig holds auth service configuration.
type ServiceConfig struct {
	MaxLoginAttempts  int
	LockDuration      time.Duration
	PasswordMinLength int
}

// DefaultServiceConfig returns default configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLoginAttempts:  5,
		LockDuration:      15 * time.Minute,
		PasswordMinLength: 8,
	}
}

// Service authenticates operators.
type Service struct {
	repo       OperatorRepository
	txManager  tx.Manager
	jwtService *JWTService
	config     ServiceConfig
	now        func() time.Time
}

// NewService creates a new auth service.
func NewService(repo OperatorRepository, txManager tx.Manager, jwtService *JWTService, config ServiceConfig) *Service {
	return &Service{
		repo:       repo,
		txManager:  txManager,
		jwtService: jwtService,
		config:     config,
		now:        time.Now,
	}
}

// HashPassword hashes a plain password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateOperator registers a new operator.
func (s *Service) CreateOperator(ctx context.Context, email, password string, tenantIDs []string, isAdmin bool) (*Operator, error) {
	if NormalizeEmail(email) == "" {
		return nil, apperror.NewValidation("email is required").WithDetail("field", "email")
	}
	if len(password) < s.config.PasswordMinLength {
		return nil, apperror.NewValidation(
			fmt.Sprintf("password must be at least %d characters", s.config.PasswordMinLength),
		).WithDetail("field", "password")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	op := NewOperator(email, hash, tenantIDs, isAdmin)
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, err
	}

	logger.Info(ctx, "operator created", "operator_id", op.ID, "email", op.Email, "is_admin", isAdmin)
	return op, nil
}

// Login checks credentials and issues an access token.
// Unknown emails and wrong passwords return the same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, *Operator, error) {
	invalid := apperror.NewUnauthorized("invalid email or password")

	var (
		op       *Operator
		loginErr error
	)
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		op, err = s.repo.GetByEmail(ctx, NormalizeEmail(req.Email))
		if err != nil {
			if apperror.IsNotFound(err) {
				loginErr = invalid
				return nil
			}
			return err
		}

		now := s.now()
		if err := op.CanLogin(now); err != nil {
			loginErr = err
			return nil
		}

		if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
			op.RecordFailedLogin(now, s.config.MaxLoginAttempts, s.config.LockDuration)
			loginErr = invalid
			// The failed attempt is persisted even though the login fails.
			return s.repo.UpdateLoginState(ctx, op)
		}

		op.RecordSuccessfulLogin(now)
		return s.repo.UpdateLoginState(ctx, op)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	if loginErr != nil {
		logger.Warn(ctx, "login failed", "email", NormalizeEmail(req.Email), "reason", loginErr.Error())
		return nil, nil, loginErr
	}

	token, expiresAt, err := s.jwtService.GenerateAccessToken(op)
	if err != nil {
		return nil, nil, fmt.Errorf("generate access token: %w", err)
	}

	logger.Info(ctx, "operator logged in", "operator_id", op.ID, "email", op.Email)

	return &TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, op, nil
}
