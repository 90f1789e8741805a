package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/complaint-service/internal/api/dto"
	"github.com/spec-kit/complaint-service/internal/auth"
	"github.com/spec-kit/complaint-service/internal/service"
)

// AssignmentsHandler exposes the assignment engine to staff.
type AssignmentsHandler struct {
	service *service.AssignmentService
}

// NewAssignmentsHandler constructs handler.
func NewAssignmentsHandler(assignmentService *service.AssignmentService) *AssignmentsHandler {
	return &AssignmentsHandler{service: assignmentService}
}

// Assign POST /tickets/:id/assign.
func (h *AssignmentsHandler) Assign(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Assign(c.UserContext(), actor, c.Params("id"), assignRequest(req.AgentID, req.Department, req.Team))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, true)})
}

// BulkAssign POST /tickets/bulk/assign.
func (h *AssignmentsHandler) BulkAssign(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.BulkAssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	results, err := h.service.BulkAssign(c.UserContext(), actor, req.TicketIDs, assignRequest(req.AgentID, req.Department, req.Team))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": bulkResponse(results)})
}

// Workloads GET /agents/workload.
func (h *AssignmentsHandler) Workloads(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	workloads, err := h.service.AgentWorkloads(c.UserContext(), actor, optionalString(c.Query("department")))
	if err != nil {
		return err
	}
	items := make([]dto.WorkloadResponse, 0, len(workloads))
	for _, w := range workloads {
		items = append(items, dto.WorkloadResponse{
			AgentID:      w.Agent.ID,
			Name:         w.Agent.Name,
			Department:   w.Agent.Department,
			Load:         w.Load,
			Capacity:     w.Capacity,
			Online:       w.Online,
			Availability: w.Availability,
			Override:     w.Agent.AvailabilityOverride,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

func assignRequest(agentID, department, team *string) service.AssignRequest {
	if agentID != nil && *agentID == "" {
		agentID = nil
	}
	return service.AssignRequest{AgentID: agentID, Department: department, Team: team}
}
