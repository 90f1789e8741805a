package service

import (
	"context"
	netmail "net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/auth"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/repository"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// UserListInput filters directory listings.
type UserListInput struct {
	Role       *domain.Role
	Department *string
	Active     *bool
	Limit      int
	Offset     int
}

// CreateUserInput provisions an account on behalf of an admin.
type CreateUserInput struct {
	Name       string
	Email      string
	Password   string
	Role       domain.Role
	Department *string
}

// UpdateUserInput changes directory attributes. Nil fields are left as is;
// an empty Department clears it.
type UpdateUserInput struct {
	Name       *string
	Role       *domain.Role
	Department *string
	IsActive   *bool
}

// DirectoryService administers users, agents and admins.
type DirectoryService struct {
	users      repository.UserRepository
	bcryptCost int
	logger     *zap.Logger
}

// DirectoryDependencies bundles collaborators.
type DirectoryDependencies struct {
	UserRepo   repository.UserRepository
	BcryptCost int
	Logger     *zap.Logger
}

// NewDirectoryService creates the service.
func NewDirectoryService(deps DirectoryDependencies) *DirectoryService {
	return &DirectoryService{
		users:      deps.UserRepo,
		bcryptCost: deps.BcryptCost,
		logger:     loggerOrNop(deps.Logger),
	}
}

func requireAdmin(actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

// List returns directory entries oldest first.
func (s *DirectoryService) List(ctx context.Context, actor domain.Actor, input UserListInput) ([]domain.User, error) {
	if actor.Role == domain.RoleAgent {
		// agents may browse the roster of agents only
		role := domain.RoleAgent
		input.Role = &role
	} else if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx, repository.UserFilter{
		Role:       input.Role,
		Department: input.Department,
		Active:     input.Active,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// Get returns one user. Callers may read themselves; admins may read anyone.
func (s *DirectoryService) Get(ctx context.Context, actor domain.Actor, id string) (*domain.User, error) {
	if actor.ID != id {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

// Create provisions an account with any role.
func (s *DirectoryService) Create(ctx context.Context, actor domain.Actor, input CreateUserInput) (*domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if input.Role == "" {
		input.Role = domain.RoleUser
	}
	if !input.Role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"field": "role", "value": input.Role})
	}
	user, err := newAccount(input.Name, input.Email, input.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user.Role = input.Role
	user.Department = normalizeDepartment(input.Department)
	if err := s.users.Create(ctx, user); err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"email": user.Email})
	}
	s.logger.Info("user provisioned",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("actor_id", actor.ID))
	return user, nil
}

// Update changes role, department, name or active flag.
func (s *DirectoryService) Update(ctx context.Context, actor domain.Actor, id string, input UpdateUserInput) (*domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": id})
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewValidationError("name required", map[string]any{"field": "name"})
		}
		user.Name = name
	}
	if input.Role != nil {
		if !input.Role.Valid() {
			return nil, apperrors.NewValidationError("invalid role", map[string]any{"field": "role", "value": *input.Role})
		}
		if actor.ID == id && *input.Role != domain.RoleAdmin {
			return nil, apperrors.NewValidationError("admins cannot demote themselves", map[string]any{"field": "role"})
		}
		user.Role = *input.Role
	}
	if input.Department != nil {
		user.Department = normalizeDepartment(input.Department)
	}
	if input.IsActive != nil {
		if actor.ID == id && !*input.IsActive {
			return nil, apperrors.NewValidationError("admins cannot deactivate themselves", map[string]any{"field": "is_active"})
		}
		user.IsActive = *input.IsActive
	}
	if user.Role != domain.RoleAgent {
		user.AvailabilityOverride = nil
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

// Deactivate soft-deletes a directory entry. Tickets keep their references.
func (s *DirectoryService) Deactivate(ctx context.Context, actor domain.Actor, id string) (*domain.User, error) {
	inactive := false
	return s.Update(ctx, actor, id, UpdateUserInput{IsActive: &inactive})
}

// SetAvailabilityOverride stores a manual presence shown next to the derived
// one. Agents may set their own; admins may set anyone's. Nil clears it.
func (s *DirectoryService) SetAvailabilityOverride(ctx context.Context, actor domain.Actor, id string, value *domain.Availability) (*domain.User, error) {
	if actor.ID != id {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	if value != nil && !value.Valid() {
		return nil, apperrors.NewValidationError("invalid availability", map[string]any{"field": "availability", "value": *value})
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": id})
	}
	if user.Role != domain.RoleAgent {
		return nil, apperrors.NewInvalidAgent("availability applies to agents only", map[string]any{"user_id": id})
	}
	user.AvailabilityOverride = value
	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapRepoError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

func newAccount(name, email, password string, cost int) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("name required", map[string]any{"field": "name"})
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if addr, err := netmail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperrors.NewValidationError("invalid email", map[string]any{"field": "email"})
	}
	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		if err == auth.ErrWeakPassword {
			return nil, apperrors.NewValidationError(err.Error(), map[string]any{"field": "password", "min": auth.MinPasswordLength})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
	}, nil
}

func normalizeDepartment(dept *string) *string {
	if dept == nil {
		return nil
	}
	d := strings.TrimSpace(*dept)
	if d == "" {
		return nil
	}
	return &d
}
