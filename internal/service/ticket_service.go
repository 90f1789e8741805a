package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/classifier"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/lifecycle"
	"github.com/spec-kit/complaint-service/internal/observability"
	"github.com/spec-kit/complaint-service/internal/repository"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxTags              = 10
)

// TicketCreateInput is the payload accepted when filing a complaint.
type TicketCreateInput struct {
	Title       string
	Description string
	Category    string
	Priority    string
	Tags        []string
}

// TicketListInput narrows ticket listings. Scoping by role is applied on top.
type TicketListInput struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Categories []domain.TicketCategory
	Escalated  *bool
	Search     *string
	AgentID    *string
	Unassigned bool
	Limit      int
	Offset     int
}

// TransitionInput requests a status change.
type TransitionInput struct {
	Status string
	Reason string
	Note   string
}

// TicketService orchestrates complaint lifecycle operations.
type TicketService struct {
	tickets    repository.TicketRepository
	machine    *lifecycle.Machine
	classifier *classifier.Guarded
	dispatcher events.Dispatcher
	assigner   *AssignmentService
	autoAssign bool
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// TicketDependencies groups required collaborators.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Machine    *lifecycle.Machine
	Classifier *classifier.Guarded
	Dispatcher events.Dispatcher
	// Assigner is used for auto-assignment after create when AutoAssign is set.
	Assigner   *AssignmentService
	AutoAssign bool
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewTicketService wires dependencies.
func NewTicketService(deps TicketDependencies) *TicketService {
	machine := deps.Machine
	if machine == nil {
		machine = lifecycle.NewMachine(nil, nil)
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		machine:    machine,
		classifier: deps.Classifier,
		dispatcher: deps.Dispatcher,
		assigner:   deps.Assigner,
		autoAssign: deps.AutoAssign,
		logger:     loggerOrNop(deps.Logger),
		metrics:    deps.Metrics,
	}
}

// Create files a complaint owned by actor.
func (s *TicketService) Create(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" {
		return nil, apperrors.NewValidationError("title required", map[string]any{"field": "title"})
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, apperrors.NewValidationError("title too long", map[string]any{"field": "title", "max": maxTitleLength})
	}
	if description == "" {
		return nil, apperrors.NewValidationError("description required", map[string]any{"field": "description"})
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, apperrors.NewValidationError("description too long", map[string]any{"field": "description", "max": maxDescriptionLength})
	}
	tags := normalizeTags(input.Tags)
	if len(tags) > maxTags {
		return nil, apperrors.NewValidationError("too many tags", map[string]any{"field": "tags", "max": maxTags})
	}

	var explicitPriority domain.TicketPriority
	if strings.TrimSpace(input.Priority) != "" {
		p, ok := domain.ParsePriority(input.Priority)
		if !ok {
			return nil, apperrors.NewValidationError("invalid priority", map[string]any{"field": "priority", "value": input.Priority})
		}
		explicitPriority = p
	}
	var explicitCategory domain.TicketCategory
	if strings.TrimSpace(input.Category) != "" {
		c, ok := domain.ParseCategory(input.Category)
		if !ok {
			return nil, apperrors.NewValidationError("invalid category", map[string]any{"field": "category", "value": input.Category})
		}
		explicitCategory = c
	}

	result, fellBack := s.classifier.Classify(ctx, title+"\n"+description)
	if fellBack {
		s.metrics.RecordClassifierFallback()
	}

	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Category:    result.Category,
		Priority:    result.Priority,
		Sentiment:   result.Sentiment,
		Confidence:  result.Confidence,
		Keywords:    result.Keywords,
		Tags:        tags,
		OwnerID:     actor.ID,
	}
	if explicitPriority != "" {
		ticket.Priority = explicitPriority
	}
	if explicitCategory != "" {
		ticket.Category = explicitCategory
	}
	s.machine.Open(ticket)

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, mapRepoError(err, "ticket", nil)
	}
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("priority", string(ticket.Priority)),
		zap.Bool("classifier_fallback", fellBack))
	publish(ctx, s.dispatcher, s.logger, events.NewTicketEvent(events.EventTicketCreated, ticket, actor, ticket.CreatedAt))

	if s.autoAssign && s.assigner != nil {
		assigned, err := s.assigner.Assign(ctx, domain.SystemActor, ticket.ID, AssignRequest{})
		if err != nil {
			s.logger.Warn("auto assignment failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("kind", apperrors.KindOf(err)),
				zap.Error(err))
		} else {
			ticket = assigned
		}
	}
	return visibleTo(actor, ticket), nil
}

// Get returns one ticket if actor may view it.
func (s *TicketService) Get(ctx context.Context, actor domain.Actor, ref string) (*domain.Ticket, error) {
	ticket, err := loadTicket(ctx, s.tickets, ref)
	if err != nil {
		return nil, err
	}
	if !canViewTicket(actor, ticket) {
		// do not reveal tickets the caller has no business with
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ref})
	}
	return visibleTo(actor, ticket), nil
}

// List returns tickets scoped to the caller: owners see their own, agents see
// their assignments (or the unassigned queue), admins see everything.
func (s *TicketService) List(ctx context.Context, actor domain.Actor, input TicketListInput) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{
		Statuses:   input.Statuses,
		Priorities: input.Priorities,
		Categories: input.Categories,
		Escalated:  input.Escalated,
		SearchTerm: input.Search,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	switch actor.Role {
	case domain.RoleAdmin:
		filter.AssignedAgentID = input.AgentID
		filter.Unassigned = input.Unassigned
	case domain.RoleAgent:
		if input.Unassigned {
			filter.Unassigned = true
		} else {
			id := actor.ID
			filter.AssignedAgentID = &id
		}
	default:
		id := actor.ID
		filter.OwnerID = &id
	}

	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !actor.Role.IsStaff() {
		for i := range tickets {
			tickets[i] = *visibleTo(actor, &tickets[i])
		}
	}
	return tickets, nil
}

// Transition moves a ticket to a new status.
func (s *TicketService) Transition(ctx context.Context, actor domain.Actor, ref string, input TransitionInput) (*domain.Ticket, error) {
	to, ok := domain.ParseTicketStatus(input.Status)
	if !ok {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"field": "status", "value": input.Status})
	}
	return s.transition(ctx, actor, ref, lifecycle.TransitionRequest{To: to, Reason: input.Reason, Note: input.Note})
}

// Escalate raises a ticket with a mandatory reason.
func (s *TicketService) Escalate(ctx context.Context, actor domain.Actor, ref, reason string, escalatedTo *string) (*domain.Ticket, error) {
	return s.transition(ctx, actor, ref, lifecycle.TransitionRequest{
		To:          domain.TicketStatusEscalated,
		Reason:      reason,
		EscalatedTo: escalatedTo,
	})
}

func (s *TicketService) transition(ctx context.Context, actor domain.Actor, ref string, req lifecycle.TransitionRequest) (*domain.Ticket, error) {
	ticket, err := loadTicket(ctx, s.tickets, ref)
	if err != nil {
		return nil, err
	}
	if err := authorizeTransition(actor, ticket, req.To); err != nil {
		return nil, err
	}

	version, status, before := ticket.Version, ticket.Status, len(ticket.Updates)
	change, err := s.machine.Transition(ticket, actor, req)
	if err != nil {
		return nil, err
	}
	if err := commitTicket(ctx, s.tickets, ticket, version, status, before); err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(change.PreviousStatus), string(change.Status))
	s.logger.Info("ticket transitioned",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", string(change.PreviousStatus)),
		zap.String("to", string(change.Status)),
		zap.String("actor_id", actor.ID))
	s.publishChange(ctx, ticket, actor, change)
	return visibleTo(actor, ticket), nil
}

// AddComment appends a comment. Internal notes are staff only.
func (s *TicketService) AddComment(ctx context.Context, actor domain.Actor, ref, message string, internal bool) (*domain.Ticket, error) {
	ticket, err := loadTicket(ctx, s.tickets, ref)
	if err != nil {
		return nil, err
	}
	staff := isTicketStaff(actor, ticket)
	if !staff && ticket.OwnerID != actor.ID {
		return nil, apperrors.NewForbidden("not allowed to comment on this ticket")
	}
	if internal && !staff {
		return nil, apperrors.NewForbidden("only staff may post internal notes")
	}
	if utf8.RuneCountInString(message) > maxDescriptionLength {
		return nil, apperrors.NewValidationError("message too long", map[string]any{"field": "message", "max": maxDescriptionLength})
	}

	version, status, before := ticket.Version, ticket.Status, len(ticket.Updates)
	change, err := s.machine.Comment(ticket, actor, message, internal)
	if err != nil {
		return nil, err
	}
	if err := commitTicket(ctx, s.tickets, ticket, version, status, before); err != nil {
		return nil, err
	}
	s.publishChange(ctx, ticket, actor, change)
	return visibleTo(actor, ticket), nil
}

// PostComment adapts AddComment for the websocket gateway.
func (s *TicketService) PostComment(ctx context.Context, actor domain.Actor, ticketID, message string, internal bool) error {
	_, err := s.AddComment(ctx, actor, ticketID, message, internal)
	return err
}

// SubmitFeedback stores the owner's one-time rating.
func (s *TicketService) SubmitFeedback(ctx context.Context, actor domain.Actor, ref string, rating int, comment string) (*domain.Ticket, error) {
	ticket, err := loadTicket(ctx, s.tickets, ref)
	if err != nil {
		return nil, err
	}
	version, status, before := ticket.Version, ticket.Status, len(ticket.Updates)
	change, err := s.machine.SubmitFeedback(ticket, actor, rating, comment)
	if err != nil {
		return nil, err
	}
	if err := commitTicket(ctx, s.tickets, ticket, version, status, before); err != nil {
		return nil, err
	}
	s.publishChange(ctx, ticket, actor, change)
	return visibleTo(actor, ticket), nil
}

// BulkClose closes each ticket independently; one failure does not stop the rest.
func (s *TicketService) BulkClose(ctx context.Context, actor domain.Actor, refs []string, note string) ([]BulkResult, error) {
	if !actor.Role.IsStaff() {
		return nil, apperrors.NewForbidden("staff role required")
	}
	if len(refs) == 0 {
		return nil, apperrors.NewValidationError("ticket_ids required", map[string]any{"field": "ticket_ids"})
	}
	results := make([]BulkResult, 0, len(refs))
	for _, ref := range refs {
		ticket, err := s.transition(ctx, actor, ref, lifecycle.TransitionRequest{To: domain.TicketStatusClosed, Note: note})
		results = append(results, BulkResult{TicketID: ref, Ticket: ticket, Err: err})
	}
	return results, nil
}

// Overdue lists non-terminal tickets past their SLA target.
func (s *TicketService) Overdue(ctx context.Context, limit int) ([]domain.Ticket, error) {
	now := s.machine.Now()
	tickets, err := s.tickets.ListOverdue(ctx, now, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	out := tickets[:0]
	for i := range tickets {
		if lifecycle.IsOverdue(&tickets[i], now) {
			out = append(out, tickets[i])
		}
	}
	return out, nil
}

// AuthorizeTicketRoom allows the owner, the assigned agent and admins. ref
// may be the ticket id or number; the ticket id is returned.
func (s *TicketService) AuthorizeTicketRoom(ctx context.Context, actor domain.Actor, ref string) (string, error) {
	ticket, err := loadTicket(ctx, s.tickets, ref)
	if err != nil {
		return "", err
	}
	if ticket.OwnerID == actor.ID || isTicketStaff(actor, ticket) {
		return ticket.ID, nil
	}
	return "", apperrors.NewForbidden("not allowed to follow this ticket")
}

func (s *TicketService) publishChange(ctx context.Context, ticket *domain.Ticket, actor domain.Actor, change lifecycle.Change) {
	event := events.NewTicketEvent(change.Kind, ticket, actor, ticket.UpdatedAt).
		WithPrevious(change.PreviousStatus, change.PreviousAgentID).
		WithUpdate(change.Update)
	publish(ctx, s.dispatcher, s.logger, event)
}

func authorizeTransition(actor domain.Actor, t *domain.Ticket, to domain.TicketStatus) error {
	if isTicketStaff(actor, t) {
		return nil
	}
	if t.OwnerID != actor.ID {
		return apperrors.NewForbidden("not allowed to change this ticket")
	}
	if to == domain.TicketStatusEscalated {
		return nil
	}
	if t.Status == domain.TicketStatusResolved && (to == domain.TicketStatusClosed || to == domain.TicketStatusInProgress) {
		return nil
	}
	return apperrors.NewForbidden("owners may only escalate, close or reopen a resolved ticket")
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
