package service

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/lifecycle"
	"github.com/spec-kit/complaint-service/internal/observability"
	"github.com/spec-kit/complaint-service/internal/repository"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// DefaultAgentCapacity is the active-ticket cap used by auto assignment.
const DefaultAgentCapacity = 5

// rosterLimit bounds a single directory read of agents.
const rosterLimit = 10000

const (
	modeExplicit = "explicit"
	modeAuto     = "auto"
)

// AssignRequest selects an explicit agent, or auto assignment when AgentID is nil.
type AssignRequest struct {
	AgentID    *string
	Department *string
	Team       *string
}

// AgentWorkload is the dashboard view of one agent.
type AgentWorkload struct {
	Agent        domain.User
	Load         int
	Capacity     int
	Online       bool
	Availability domain.Availability
}

// Presence reports whether an identity currently holds a live connection.
type Presence interface {
	IsOnline(identityID string) bool
}

// AssignmentService routes tickets to agents.
type AssignmentService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	machine    *lifecycle.Machine
	dispatcher events.Dispatcher
	presence   Presence
	capacity   int
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Machine    *lifecycle.Machine
	Dispatcher events.Dispatcher
	Presence   Presence
	Capacity   int
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	capacity := deps.Capacity
	if capacity <= 0 {
		capacity = DefaultAgentCapacity
	}
	machine := deps.Machine
	if machine == nil {
		machine = lifecycle.NewMachine(nil, nil)
	}
	return &AssignmentService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		machine:    machine,
		dispatcher: deps.Dispatcher,
		presence:   deps.Presence,
		capacity:   capacity,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
	}
}

// Capacity returns the per-agent active ticket cap.
func (s *AssignmentService) Capacity() int {
	return s.capacity
}

// Assign routes one ticket. Explicit targets bypass the capacity cap.
func (s *AssignmentService) Assign(ctx context.Context, actor domain.Actor, ref string, req AssignRequest) (*domain.Ticket, error) {
	mode := modeAuto
	if req.AgentID != nil {
		mode = modeExplicit
	}
	ticket, err := s.assign(ctx, actor, ref, req, mode)
	if err != nil {
		s.metrics.RecordAssignment(mode, apperrors.KindOf(err))
		return nil, err
	}
	s.metrics.RecordAssignment(mode, "assigned")
	return ticket, nil
}

func (s *AssignmentService) assign(ctx context.Context, actor domain.Actor, ref string, req AssignRequest, mode string) (*domain.Ticket, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	if actor.Role == domain.RoleAgent && (mode == modeAuto || *req.AgentID != actor.ID) {
		return nil, apperrors.NewForbidden("agents may only assign tickets to themselves")
	}

	ticket, err := loadTicket(ctx, s.tickets, ref)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewDomainError(apperrors.KindInvalidTransition,
			"cannot assign a "+string(ticket.Status)+" ticket", http.StatusUnprocessableEntity,
			map[string]any{"status": ticket.Status})
	}

	var agent *domain.User
	if mode == modeExplicit {
		agent, err = s.explicitAgent(ctx, *req.AgentID)
	} else {
		agent, err = s.pickAgent(ctx, req.Department)
	}
	if err != nil {
		return nil, err
	}

	version, status, before := ticket.Version, ticket.Status, len(ticket.Updates)
	change, err := s.machine.Assign(ticket, actor, agent, req.Team)
	if err != nil {
		return nil, err
	}
	if err := commitTicket(ctx, s.tickets, ticket, version, status, before); err != nil {
		return nil, err
	}
	s.logger.Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("agent_id", agent.ID),
		zap.String("mode", mode),
		zap.String("actor_id", actor.ID))

	assigned := events.NewTicketEvent(events.EventAssigned, ticket, actor, ticket.UpdatedAt).
		WithPrevious(change.PreviousStatus, change.PreviousAgentID).
		WithUpdate(change.Update)
	publish(ctx, s.dispatcher, s.logger, assigned)
	if change.PreviousAgentID != nil && *change.PreviousAgentID != agent.ID {
		publish(ctx, s.dispatcher, s.logger, assigned.Unassigned(*change.PreviousAgentID))
	}
	return ticket, nil
}

func (s *AssignmentService) explicitAgent(ctx context.Context, agentID string) (*domain.User, error) {
	details := map[string]any{"agent_id": agentID}
	agent, err := s.users.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewInvalidAgent("agent does not exist", details)
		}
		return nil, apperrors.NewCollaboratorUnavailable("directory", err)
	}
	if agent.Role != domain.RoleAgent {
		return nil, apperrors.NewInvalidAgent("target is not an agent", details)
	}
	if !agent.IsActive {
		return nil, apperrors.NewInvalidAgent("agent is inactive", details)
	}
	return agent, nil
}

// pickAgent chooses the least loaded active agent. Ties keep directory order.
func (s *AssignmentService) pickAgent(ctx context.Context, department *string) (*domain.User, error) {
	agents, err := s.activeAgents(ctx, department)
	if err != nil {
		return nil, err
	}
	details := map[string]any{}
	if department != nil {
		details["department"] = *department
	}
	if len(agents) == 0 {
		return nil, apperrors.NewNoAgentAvailable(details)
	}

	loads, err := s.loads(ctx, agents)
	if err != nil {
		return nil, err
	}
	best := 0
	for i := 1; i < len(agents); i++ {
		if loads[agents[i].ID] < loads[agents[best].ID] {
			best = i
		}
	}
	if loads[agents[best].ID] >= s.capacity {
		details["agents"] = len(agents)
		return nil, apperrors.NewAllAgentsAtCapacity(s.capacity, details)
	}
	agent := agents[best]
	return &agent, nil
}

func (s *AssignmentService) activeAgents(ctx context.Context, department *string) ([]domain.User, error) {
	role := domain.RoleAgent
	active := true
	agents, err := s.users.List(ctx, repository.UserFilter{
		Role:       &role,
		Active:     &active,
		Department: department,
		Limit:      rosterLimit,
	})
	if err != nil {
		return nil, apperrors.NewCollaboratorUnavailable("directory", err)
	}
	return agents, nil
}

func (s *AssignmentService) loads(ctx context.Context, agents []domain.User) (map[string]int, error) {
	ids := make([]string, len(agents))
	for i := range agents {
		ids[i] = agents[i].ID
	}
	loads, err := s.tickets.CountActiveByAgents(ctx, ids)
	if err != nil {
		return nil, apperrors.NewCollaboratorUnavailable("ticket store", err)
	}
	return loads, nil
}

// BulkAssign routes each ticket independently. Auto mode re-reads loads per
// ticket so a batch spreads across agents.
func (s *AssignmentService) BulkAssign(ctx context.Context, actor domain.Actor, refs []string, req AssignRequest) ([]BulkResult, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	if len(refs) == 0 {
		return nil, apperrors.NewValidationError("ticket_ids required", map[string]any{"field": "ticket_ids"})
	}
	results := make([]BulkResult, 0, len(refs))
	for _, ref := range refs {
		ticket, err := s.Assign(ctx, actor, ref, req)
		results = append(results, BulkResult{TicketID: ref, Ticket: ticket, Err: err})
	}
	return results, nil
}

// AgentWorkloads lists active agents with their load and derived availability.
func (s *AssignmentService) AgentWorkloads(ctx context.Context, actor domain.Actor, department *string) ([]AgentWorkload, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	agents, err := s.activeAgents(ctx, department)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return []AgentWorkload{}, nil
	}
	loads, err := s.loads(ctx, agents)
	if err != nil {
		return nil, err
	}
	out := make([]AgentWorkload, 0, len(agents))
	for _, agent := range agents {
		online := s.isOnline(agent.ID)
		load := loads[agent.ID]
		out = append(out, AgentWorkload{
			Agent:        agent,
			Load:         load,
			Capacity:     s.capacity,
			Online:       online,
			Availability: domain.DeriveAvailability(online, load, s.capacity),
		})
	}
	return out, nil
}

// AgentAvailability derives presence for one agent.
func (s *AssignmentService) AgentAvailability(ctx context.Context, agentID string, online bool) (domain.Availability, int, error) {
	loads, err := s.tickets.CountActiveByAgents(ctx, []string{agentID})
	if err != nil {
		return "", 0, apperrors.NewCollaboratorUnavailable("ticket store", err)
	}
	load := loads[agentID]
	return domain.DeriveAvailability(online, load, s.capacity), load, nil
}

func (s *AssignmentService) isOnline(id string) bool {
	return s.presence != nil && s.presence.IsOnline(id)
}
