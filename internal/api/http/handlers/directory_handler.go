package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/complaint-service/internal/api/dto"
	"github.com/spec-kit/complaint-service/internal/auth"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/service"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// DirectoryHandler administers accounts.
type DirectoryHandler struct {
	directory *service.DirectoryService
}

// NewDirectoryHandler constructs handler.
func NewDirectoryHandler(directory *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// Me GET /users/me.
func (h *DirectoryHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": userResponse(principal.User)})
}

// List GET /users.
func (h *DirectoryHandler) List(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	input := service.UserListInput{Department: optionalString(c.Query("department"))}
	if raw := c.Query("role"); raw != "" {
		role, err := parseRole(raw)
		if err != nil {
			return err
		}
		input.Role = &role
	}
	if input.Active, err = parseBool(c.Query("active")); err != nil {
		return err
	}
	input.Limit, input.Offset = pagination(c)

	users, err := h.directory.List(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, userResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /users/:id.
func (h *DirectoryHandler) Get(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	user, err := h.directory.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// Create POST /users.
func (h *DirectoryHandler) Create(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	input := service.CreateUserInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Department: req.Department,
	}
	if req.Role != "" {
		if input.Role, err = parseRole(req.Role); err != nil {
			return err
		}
	}
	user, err := h.directory.Create(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": userResponse(user)})
}

// Update PATCH /users/:id.
func (h *DirectoryHandler) Update(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.UpdateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	input := service.UpdateUserInput{Name: req.Name, Department: req.Department, IsActive: req.IsActive}
	if req.Role != nil {
		role, err := parseRole(*req.Role)
		if err != nil {
			return err
		}
		input.Role = &role
	}
	user, err := h.directory.Update(c.UserContext(), actor, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// Deactivate DELETE /users/:id.
func (h *DirectoryHandler) Deactivate(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	user, err := h.directory.Deactivate(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// SetAvailability PUT /users/:id/availability.
func (h *DirectoryHandler) SetAvailability(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.AvailabilityOverrideRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	var override *domain.Availability
	if req.Availability != nil {
		value := domain.Availability(*req.Availability)
		if !value.Valid() {
			return apperrors.NewValidationError("invalid availability", map[string]any{"value": *req.Availability})
		}
		override = &value
	}
	user, err := h.directory.SetAvailabilityOverride(c.UserContext(), actor, c.Params("id"), override)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

func parseRole(raw string) (domain.Role, error) {
	role := domain.Role(raw)
	if !role.Valid() {
		return "", apperrors.NewValidationError("invalid role", map[string]any{"value": raw})
	}
	return role, nil
}
