package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/classifier"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/lifecycle"
	"github.com/spec-kit/complaint-service/internal/repository"
	"github.com/spec-kit/complaint-service/internal/repository/memory"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type pushed struct {
	Target string
	Event  string
}

type fakePusher struct {
	mu      sync.Mutex
	online  map[string]bool
	direct  []pushed
	rooms   []pushed
	evicted []pushed
}

func newFakePusher(online ...string) *fakePusher {
	p := &fakePusher{online: map[string]bool{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePusher) EmitToIdentity(id, event string, _ any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[id] {
		return false, nil
	}
	p.direct = append(p.direct, pushed{Target: id, Event: event})
	return true, nil
}

func (p *fakePusher) EmitToRoom(room, event string, _ any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, pushed{Target: room, Event: event})
	return 1
}

func (p *fakePusher) RemoveFromRoom(id, room string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted = append(p.evicted, pushed{Target: id, Event: room})
	return p.online[id]
}

func (p *fakePusher) IsOnline(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[id]
}

type sentMail struct {
	To       string
	Template string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, templateID string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Template: templateID})
	return nil
}

type harness struct {
	tickets   *memory.TicketStore
	users     *memory.UserStore
	notes     *memory.NotificationStore
	pusher    *fakePusher
	mailer    *fakeMailer
	ticketSvc *TicketService
	assignSvc *AssignmentService
	notifySvc *NotificationService
	owner     domain.Actor
	admin     domain.Actor
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	ticketRepo repository.TicketRepository
	autoAssign bool
}

func withTicketRepo(r repository.TicketRepository) harnessOption {
	return func(c *harnessConfig) { c.ticketRepo = r }
}

func withAutoAssign() harnessOption {
	return func(c *harnessConfig) { c.autoAssign = true }
}

func kindOf(err error) string {
	return apperrors.KindOf(err)
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		tickets: memory.NewTicketStore(),
		users:   memory.NewUserStore(),
		notes:   memory.NewNotificationStore(),
		pusher:  newFakePusher(),
		mailer:  &fakeMailer{},
	}
	cfg := harnessConfig{ticketRepo: h.tickets}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := func() time.Time { return epoch }
	machine := lifecycle.NewMachine(lifecycle.DefaultSLATable(), clock)
	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher(logger)

	h.notifySvc = NewNotificationService(NotificationDependencies{
		NotificationRepo: h.notes,
		UserRepo:         h.users,
		Pusher:           h.pusher,
		Mailer:           h.mailer,
		Logger:           logger,
		Now:              clock,
	})
	h.notifySvc.RegisterHandlers(dispatcher)

	h.assignSvc = NewAssignmentService(AssignmentDependencies{
		TicketRepo: cfg.ticketRepo,
		UserRepo:   h.users,
		Machine:    machine,
		Dispatcher: dispatcher,
		Presence:   h.pusher,
		Logger:     logger,
	})
	h.ticketSvc = NewTicketService(TicketDependencies{
		TicketRepo: cfg.ticketRepo,
		Machine:    machine,
		Classifier: classifier.NewGuarded(classifier.NewKeyword(), time.Second, logger),
		Dispatcher: dispatcher,
		Assigner:   h.assignSvc,
		AutoAssign: cfg.autoAssign,
		Logger:     logger,
	})

	h.owner = h.addUser(t, "Olivia Owner", domain.RoleUser).Actor()
	h.admin = h.addUser(t, "Ada Admin", domain.RoleAdmin).Actor()
	return h
}

func (h *harness) addUser(t *testing.T, name string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{
		Name:     name,
		Email:    name[:3] + string(role) + "@example.com",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

func (h *harness) file(t *testing.T, priority string) *domain.Ticket {
	t.Helper()
	ticket, err := h.ticketSvc.Create(context.Background(), h.owner, TicketCreateInput{
		Title:       "Parcel arrived damaged",
		Description: "The box was crushed and the item inside is broken.",
		Priority:    priority,
	})
	require.NoError(t, err)
	return ticket
}

func (h *harness) recipientsOf(t *testing.T, ticketID string, kind domain.NotificationType, candidates ...string) []string {
	t.Helper()
	var out []string
	for _, id := range candidates {
		items, err := h.notes.ListByRecipient(context.Background(), id, repository.NotificationFilter{Limit: 100})
		require.NoError(t, err)
		for _, n := range items {
			if n.Type == kind && n.TicketID != nil && *n.TicketID == ticketID {
				out = append(out, id)
			}
		}
	}
	return out
}

func countKind(updates []domain.Update, kind domain.UpdateKind) int {
	n := 0
	for _, u := range updates {
		if u.Kind == kind {
			n++
		}
	}
	return n
}

func TestCreateUrgentTicketTargetsFourHours(t *testing.T) {
	h := newHarness(t)
	ticket := h.file(t, "Urgent")

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.TicketPriorityUrgent, ticket.Priority)
	assert.Equal(t, ticket.CreatedAt.Add(4*time.Hour), ticket.SLATargetAt)
	assert.Equal(t, "CMP-2026-000001", ticket.TicketNumber)

	// the admin pool hears about new complaints, the filing owner does not
	assert.Equal(t, []string{h.admin.ID}, h.recipientsOf(t, ticket.ID, domain.NotificationTicketCreated, h.owner.ID, h.admin.ID))
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ticketSvc.Create(ctx, h.owner, TicketCreateInput{Title: "", Description: "something happened"})
	assert.Equal(t, "VALIDATION_FAILED", kindOf(err))

	_, err = h.ticketSvc.Create(ctx, h.owner, TicketCreateInput{Title: "Late", Description: "still waiting", Priority: "whenever"})
	assert.Equal(t, "VALIDATION_FAILED", kindOf(err))
}

func TestAutoAssignPicksLeastLoadedAndNotifiesOnlyNewAgentAndOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agentA := h.addUser(t, "Alice Agent", domain.RoleAgent)
	agentB := h.addUser(t, "Bob Agent", domain.RoleAgent)

	for i := 0; i < 2; i++ {
		busy := h.file(t, "Low")
		_, err := h.assignSvc.Assign(ctx, h.admin, busy.ID, AssignRequest{AgentID: &agentA.ID})
		require.NoError(t, err)
	}

	ticket := h.file(t, "Medium")
	assigned, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{})
	require.NoError(t, err)

	assert.True(t, assigned.IsAssignedTo(agentB.ID))
	assert.Equal(t, domain.TicketStatusInProgress, assigned.Status)
	assert.Equal(t, 1, countKind(assigned.Updates, domain.UpdateKindAssignment))

	notified := h.recipientsOf(t, ticket.ID, domain.NotificationAssigned, agentA.ID, agentB.ID, h.owner.ID, h.admin.ID)
	assert.ElementsMatch(t, []string{agentB.ID, h.owner.ID}, notified)
}

func TestAutoAssignErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")

	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{})
	assert.Equal(t, "NO_AGENT_AVAILABLE", kindOf(err))

	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	for i := 0; i < DefaultAgentCapacity; i++ {
		busy := h.file(t, "Low")
		_, err := h.assignSvc.Assign(ctx, h.admin, busy.ID, AssignRequest{AgentID: &agent.ID})
		require.NoError(t, err)
	}
	_, err = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{})
	assert.Equal(t, "ALL_AGENTS_AT_CAPACITY", kindOf(err))

	// explicit targets bypass the cap
	_, err = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
	assert.NoError(t, err)
}

func TestExplicitAssignValidatesTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	other := h.addUser(t, "Bob Agent", domain.RoleAgent)

	missing := "nobody"
	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &missing})
	assert.Equal(t, "INVALID_AGENT", kindOf(err))

	_, err = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &h.owner.ID})
	assert.Equal(t, "INVALID_AGENT", kindOf(err))

	other.IsActive = false
	require.NoError(t, h.users.Update(ctx, other))
	_, err = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &other.ID})
	assert.Equal(t, "INVALID_AGENT", kindOf(err))

	_, err = h.assignSvc.Assign(ctx, agent.Actor(), ticket.ID, AssignRequest{AgentID: &other.ID})
	assert.Equal(t, "FORBIDDEN", kindOf(err))

	_, err = h.assignSvc.Assign(ctx, h.owner, ticket.ID, AssignRequest{})
	assert.Equal(t, "FORBIDDEN", kindOf(err))

	self, err := h.assignSvc.Assign(ctx, agent.Actor(), ticket.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)
	assert.True(t, self.IsAssignedTo(agent.ID))
}

func TestReassignNotifiesPreviousAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")
	first := h.addUser(t, "Alice Agent", domain.RoleAgent)
	second := h.addUser(t, "Bob Agent", domain.RoleAgent)

	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &first.ID})
	require.NoError(t, err)
	_, err = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &second.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID}, h.recipientsOf(t, ticket.ID, domain.NotificationUnassigned, first.ID, second.ID, h.owner.ID))
}

func TestReassignEvictsPreviousAgentFromTicketRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")
	first := h.addUser(t, "Alice Agent", domain.RoleAgent)
	second := h.addUser(t, "Bob Agent", domain.RoleAgent)

	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &first.ID})
	require.NoError(t, err)
	assert.Empty(t, h.pusher.evicted)

	_, err = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &second.ID})
	require.NoError(t, err)
	assert.Equal(t, []pushed{{Target: first.ID, Event: "ticket:" + ticket.ID}}, h.pusher.evicted)
}

func TestResolvedTicketRejectsOpenAndCanBeReopened(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	ticket := h.file(t, "Medium")
	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)
	resolved, err := h.ticketSvc.Transition(ctx, agent.Actor(), ticket.ID, TransitionInput{Status: "Resolved"})
	require.NoError(t, err)
	require.Equal(t, domain.TicketStatusResolved, resolved.Status)

	_, err = h.ticketSvc.Transition(ctx, agent.Actor(), ticket.ID, TransitionInput{Status: "Open"})
	assert.Equal(t, "INVALID_TRANSITION", kindOf(err))

	unchanged, err := h.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, resolved.Version, unchanged.Version)
	assert.Equal(t, len(resolved.Updates), len(unchanged.Updates))
	assert.Equal(t, domain.TicketStatusResolved, unchanged.Status)

	reopened, err := h.ticketSvc.Transition(ctx, h.owner, ticket.TicketNumber, TransitionInput{Status: "in_progress"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, reopened.Status)
	assert.Equal(t, 1, reopened.ReopenCount)
}

func TestOwnerTransitionsAreLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")

	_, err := h.ticketSvc.Transition(ctx, h.owner, ticket.ID, TransitionInput{Status: "Closed"})
	assert.Equal(t, "FORBIDDEN", kindOf(err))

	stranger := h.addUser(t, "Sam Stranger", domain.RoleUser).Actor()
	_, err = h.ticketSvc.Escalate(ctx, stranger, ticket.ID, "SLA risk", nil)
	assert.Equal(t, "FORBIDDEN", kindOf(err))

	_, err = h.ticketSvc.Get(ctx, stranger, ticket.ID)
	assert.Equal(t, "NOT_FOUND", kindOf(err))
}

func TestEscalateForcesHighestPriority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")

	escalated, err := h.ticketSvc.Escalate(ctx, h.owner, ticket.ID, "SLA risk", nil)
	require.NoError(t, err)

	assert.True(t, escalated.IsEscalated)
	assert.Equal(t, domain.HighestPriority, escalated.Priority)
	assert.Equal(t, 1, countKind(escalated.Updates, domain.UpdateKindEscalation))
	require.NotNil(t, escalated.EscalatedAt)
	assert.Equal(t, "SLA risk", escalated.EscalationReason)

	_, err = h.ticketSvc.Escalate(ctx, h.owner, ticket.ID, "  ", nil)
	assert.Error(t, err)

	assert.Equal(t, []string{h.admin.ID}, h.recipientsOf(t, ticket.ID, domain.NotificationEscalated, h.owner.ID, h.admin.ID))
}

// barrierStore holds concurrent readers until both have loaded the ticket so
// their writes race on the same version.
type barrierStore struct {
	*memory.TicketStore
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func (b *barrierStore) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	t, err := b.TicketStore.GetByID(ctx, id)
	b.mu.Lock()
	ch := b.release
	if ch != nil {
		b.waiting++
		if b.waiting == 2 {
			close(ch)
			b.release = nil
		}
	}
	b.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return t, err
}

func TestConcurrentAutoAssignClaimsTicketOnce(t *testing.T) {
	store := &barrierStore{TicketStore: memory.NewTicketStore()}
	h := newHarness(t, withTicketRepo(store))
	ctx := context.Background()
	h.addUser(t, "Alice Agent", domain.RoleAgent)
	h.addUser(t, "Bob Agent", domain.RoleAgent)
	ticket := h.file(t, "Medium")

	store.mu.Lock()
	store.release = make(chan struct{})
	store.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, "CONFLICT", kindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	stored, err := store.TicketStore.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
	assert.NotNil(t, stored.AssignedAgentID)
	assert.Equal(t, 1, countKind(stored.Updates, domain.UpdateKindAssignment))
}

func TestActorIsNeverNotified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	ticket := h.file(t, "Medium")
	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)

	_, err = h.ticketSvc.AddComment(ctx, h.owner, ticket.ID, "Any update?", false)
	require.NoError(t, err)

	assert.Equal(t, []string{agent.ID}, h.recipientsOf(t, ticket.ID, domain.NotificationComment, h.owner.ID, agent.ID))
}

func TestInternalCommentsStayWithStaff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	ticket := h.file(t, "Medium")
	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)

	_, err = h.ticketSvc.AddComment(ctx, h.owner, ticket.ID, "secret", true)
	assert.Equal(t, "FORBIDDEN", kindOf(err))

	_, err = h.ticketSvc.AddComment(ctx, h.admin, ticket.ID, "customer called twice", true)
	require.NoError(t, err)

	assert.Equal(t, []string{agent.ID}, h.recipientsOf(t, ticket.ID, domain.NotificationComment, h.owner.ID, agent.ID, h.admin.ID))

	ownerView, err := h.ticketSvc.Get(ctx, h.owner, ticket.ID)
	require.NoError(t, err)
	for _, u := range ownerView.Updates {
		assert.False(t, u.Internal)
	}
	staffView, err := h.ticketSvc.Get(ctx, agent.Actor(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, len(ownerView.Updates)+1, len(staffView.Updates))
}

func TestNotifyIsIdempotentPerEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")
	stored, err := h.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)

	event := events.NewTicketEvent(events.EventStatusChanged, stored, h.admin, epoch)
	first := h.notifySvc.Notify(ctx, event)
	second := h.notifySvc.Notify(ctx, event)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.False(t, first[0].Duplicate)
	assert.True(t, second[0].Duplicate)
	assert.Len(t, h.recipientsOf(t, ticket.ID, domain.NotificationStatusChanged, h.owner.ID), 1)
}

func TestBulkAssignFansOutPerTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	one, two := h.file(t, "Low"), h.file(t, "High")

	results, err := h.assignSvc.BulkAssign(ctx, h.admin, []string{one.ID, two.TicketNumber, "missing"}, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, "NOT_FOUND", kindOf(results[2].Err))

	for _, id := range []string{one.ID, two.ID} {
		stored, err := h.tickets.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, countKind(stored.Updates, domain.UpdateKindAssignment))
		assert.Equal(t, []string{agent.ID}, h.recipientsOf(t, id, domain.NotificationAssigned, agent.ID))
	}
}

func TestDeliveryFailureIsRecordedNotReturned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mailer.err = errors.New("smtp down")
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	h.pusher.online[agent.ID] = true
	ticket := h.file(t, "Medium")

	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)

	items, err := h.notes.ListByRecipient(ctx, agent.ID, repository.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Channels.InApp.Sent)
	assert.True(t, items[0].Channels.Push.Sent)
	assert.False(t, items[0].Channels.Email.Sent)
	assert.Equal(t, "smtp down", items[0].Channels.Email.Error)
}

func TestAssignmentMailsAndRoomBroadcasts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	ticket := h.file(t, "Medium")

	_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)

	var to []string
	for _, m := range h.mailer.sent {
		to = append(to, m.To)
	}
	assert.ElementsMatch(t, []string{agent.Email, "oliuser@example.com"}, to)
	assert.Contains(t, h.pusher.rooms, pushed{Target: "ticket:" + ticket.ID, Event: "ticket:updated"})
	assert.Contains(t, h.pusher.rooms, pushed{Target: "role:admin", Event: "dashboard:ticket"})
}

func TestFeedbackOnceByOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.file(t, "Medium")
	_, err := h.ticketSvc.Transition(ctx, h.admin, ticket.ID, TransitionInput{Status: "Closed"})
	require.NoError(t, err)

	_, err = h.ticketSvc.SubmitFeedback(ctx, h.admin, ticket.ID, 5, "")
	assert.Equal(t, "FORBIDDEN", kindOf(err))

	rated, err := h.ticketSvc.SubmitFeedback(ctx, h.owner, ticket.ID, 4, "quick fix")
	require.NoError(t, err)
	require.NotNil(t, rated.Feedback)
	assert.Equal(t, 4, rated.Feedback.Rating)

	_, err = h.ticketSvc.SubmitFeedback(ctx, h.owner, ticket.ID, 5, "again")
	assert.Equal(t, "CONFLICT", kindOf(err))
}

func TestBulkCloseReportsEachTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	open := h.file(t, "Low")
	closed := h.file(t, "Low")
	_, err := h.ticketSvc.Transition(ctx, h.admin, closed.ID, TransitionInput{Status: "Closed"})
	require.NoError(t, err)

	results, err := h.ticketSvc.BulkClose(ctx, h.admin, []string{open.ID, closed.ID}, "duplicate")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, domain.TicketStatusClosed, results[0].Ticket.Status)
	assert.Equal(t, "INVALID_TRANSITION", kindOf(results[1].Err))

	_, err = h.ticketSvc.BulkClose(ctx, h.owner, []string{open.ID}, "")
	assert.Equal(t, "FORBIDDEN", kindOf(err))
}

func TestListScopesByRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	other := h.addUser(t, "Sam Stranger", domain.RoleUser).Actor()
	mine := h.file(t, "Low")
	h.file(t, "Low")
	_, err := h.ticketSvc.Create(ctx, other, TicketCreateInput{Title: "Refund", Description: "I was charged twice"})
	require.NoError(t, err)
	_, err = h.assignSvc.Assign(ctx, h.admin, mine.ID, AssignRequest{AgentID: &agent.ID})
	require.NoError(t, err)

	owned, err := h.ticketSvc.List(ctx, h.owner, TicketListInput{})
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	assigned, err := h.ticketSvc.List(ctx, agent.Actor(), TicketListInput{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, mine.ID, assigned[0].ID)

	queue, err := h.ticketSvc.List(ctx, agent.Actor(), TicketListInput{Unassigned: true})
	require.NoError(t, err)
	assert.Len(t, queue, 2)

	all, err := h.ticketSvc.List(ctx, h.admin, TicketListInput{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAuthorizeTicketRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	ticket := h.file(t, "Low")

	id, err := h.ticketSvc.AuthorizeTicketRoom(ctx, h.owner, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, id)

	// a ticket number resolves to the id the rooms are keyed on
	id, err = h.ticketSvc.AuthorizeTicketRoom(ctx, h.admin, ticket.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, id)

	_, err = h.ticketSvc.AuthorizeTicketRoom(ctx, agent.Actor(), ticket.ID)
	assert.Equal(t, "FORBIDDEN", kindOf(err))
	_, err = h.ticketSvc.AuthorizeTicketRoom(ctx, h.owner, "missing")
	assert.Equal(t, "NOT_FOUND", kindOf(err))
}

func TestAgentWorkloadsDeriveAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	idle := h.addUser(t, "Bob Agent", domain.RoleAgent)
	h.pusher.online[agent.ID] = true
	for i := 0; i < DefaultAgentCapacity; i++ {
		ticket := h.file(t, "Low")
		_, err := h.assignSvc.Assign(ctx, h.admin, ticket.ID, AssignRequest{AgentID: &agent.ID})
		require.NoError(t, err)
	}

	loads, err := h.assignSvc.AgentWorkloads(ctx, h.admin, nil)
	require.NoError(t, err)
	require.Len(t, loads, 2)
	assert.Equal(t, domain.AvailabilityBusy, loads[0].Availability)
	assert.Equal(t, DefaultAgentCapacity, loads[0].Load)
	assert.Equal(t, idle.ID, loads[1].Agent.ID)
	assert.Equal(t, domain.AvailabilityOffline, loads[1].Availability)

	availability, load, err := h.assignSvc.AgentAvailability(ctx, idle.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityAvailable, availability)
	assert.Equal(t, 0, load)
}

func TestBacklogAndGarbageCollection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.file(t, "Low")
	h.file(t, "Low")

	backlog, err := h.notifySvc.Backlog(ctx, h.admin.ID, 10)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	assert.NotEqual(t, first.ID, *backlog[0].TicketID)

	require.NoError(t, h.notifySvc.MarkRead(ctx, h.admin, backlog[1].ID))
	unread, err := h.notifySvc.List(ctx, h.admin, true, 10, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	h.notifySvc.now = func() time.Time { return epoch.Add(defaultNotificationExpiry + time.Hour) }
	removed, err := h.notifySvc.CollectGarbage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	marked, err := h.notifySvc.MarkAllRead(ctx, h.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
}

func TestAutoAssignOnCreate(t *testing.T) {
	h := newHarness(t, withAutoAssign())
	ticket := h.file(t, "Medium")
	assert.Nil(t, ticket.AssignedAgentID, "no agents yet, create still succeeds")

	agent := h.addUser(t, "Alice Agent", domain.RoleAgent)
	routed := h.file(t, "Medium")
	assert.True(t, routed.IsAssignedTo(agent.ID))
	assert.Equal(t, domain.TicketStatusInProgress, routed.Status)
}
