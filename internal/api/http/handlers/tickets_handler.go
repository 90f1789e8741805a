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

// TicketsHandler exposes complaint lifecycle endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Create(c.UserContext(), actor, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		Tags:        req.Tags,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	input, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.List(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketList(tickets)})
}

// GetTicket GET /tickets/:id. The id may be a ticket number.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// Transition POST /tickets/:id/transition.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Transition(c.UserContext(), actor, c.Params("id"), service.TransitionInput{
		Status: req.Status,
		Reason: req.Reason,
		Note:   req.Note,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// Escalate POST /tickets/:id/escalate.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.EscalateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Escalate(c.UserContext(), actor, c.Params("id"), req.Reason, req.EscalatedTo)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.AddComment(c.UserContext(), actor, c.Params("id"), req.Message, req.Internal)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// SubmitFeedback POST /tickets/:id/feedback.
func (h *TicketsHandler) SubmitFeedback(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.FeedbackRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.SubmitFeedback(c.UserContext(), actor, c.Params("id"), req.Rating, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, false)})
}

// BulkClose POST /tickets/bulk/close.
func (h *TicketsHandler) BulkClose(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.BulkCloseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	results, err := h.service.BulkClose(c.UserContext(), actor, req.TicketIDs, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": bulkResponse(results)})
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListInput, error) {
	input := service.TicketListInput{}
	for _, raw := range splitQuery(c.Query("status")) {
		status, ok := domain.ParseTicketStatus(raw)
		if !ok {
			return input, apperrors.NewValidationError("invalid status filter", map[string]any{"value": raw})
		}
		input.Statuses = append(input.Statuses, status)
	}
	for _, raw := range splitQuery(c.Query("priority")) {
		priority, ok := domain.ParsePriority(raw)
		if !ok {
			return input, apperrors.NewValidationError("invalid priority filter", map[string]any{"value": raw})
		}
		input.Priorities = append(input.Priorities, priority)
	}
	for _, raw := range splitQuery(c.Query("category")) {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			return input, apperrors.NewValidationError("invalid category filter", map[string]any{"value": raw})
		}
		input.Categories = append(input.Categories, category)
	}
	escalated, err := parseBool(c.Query("escalated"))
	if err != nil {
		return input, err
	}
	input.Escalated = escalated
	unassigned, err := parseBool(c.Query("unassigned"))
	if err != nil {
		return input, err
	}
	input.Unassigned = unassigned != nil && *unassigned
	input.Search = optionalString(c.Query("q"))
	input.AgentID = optionalString(c.Query("agent_id"))
	input.Limit, input.Offset = pagination(c)
	return input, nil
}
