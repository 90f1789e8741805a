package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/auth"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/mail"
	"github.com/spec-kit/complaint-service/internal/realtime"
	"github.com/spec-kit/complaint-service/internal/repository"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// AuthResult is returned by register and login.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// TokenVerifier resolves bearer tokens to directory principals.
type TokenVerifier interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// AuthService coordinates registration and login flows.
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenManager
	verifier   TokenVerifier
	mailer     mail.Sender
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Tokens     *auth.TokenManager
	Verifier   TokenVerifier
	Mailer     mail.Sender
	BcryptCost int
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.NewAuthMiddleware(deps.Tokens, deps.UserRepo)
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokens:     deps.Tokens,
		verifier:   verifier,
		mailer:     deps.Mailer,
		bcryptCost: deps.BcryptCost,
		logger:     loggerOrNop(deps.Logger),
	}
}

// Register creates an end-user account and signs it in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	user, err := newAccount(name, email, password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewValidationError("email already registered", map[string]any{"field": "email"})
		}
		return nil, apperrors.MapError(err)
	}
	s.welcome(ctx, user)
	return s.issue(user)
}

// Login authenticates by email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.IsActive {
		return nil, apperrors.NewUnauthorized("account deactivated")
	}
	return s.issue(user)
}

// EnsureAdmin provisions the bootstrap admin when no account holds its email.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) (*domain.User, error) {
	existing, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.MapError(err)
	}
	user, err := newAccount(name, email, password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user.Role = domain.RoleAdmin
	if err := s.users.Create(ctx, user); err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"email": user.Email})
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", user.ID))
	return user, nil
}

// AuthenticateIdentity resolves a websocket token to a registry identity.
func (s *AuthService) AuthenticateIdentity(ctx context.Context, token string) (realtime.Identity, error) {
	principal, err := s.verifier.Authenticate(ctx, token)
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{ID: principal.User.ID, Name: principal.User.Name, Role: principal.User.Role}, nil
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokens.GenerateToken(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) welcome(ctx context.Context, user *domain.User) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, user.Email, mail.TemplateWelcome, map[string]any{"recipient_name": user.Name}); err != nil {
		s.logger.Warn("welcome mail failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}
