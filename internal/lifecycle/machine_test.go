package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/complaint-service/internal/domain"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var (
	agentActor = domain.Actor{ID: "agent-1", Name: "Ada", Role: domain.RoleAgent}
	ownerActor = domain.Actor{ID: "owner-1", Name: "Olive", Role: domain.RoleUser}
)

func newTestMachine() (*Machine, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewMachine(DefaultSLATable(), clock.Now), clock
}

func openTicket(m *Machine, priority domain.TicketPriority) *domain.Ticket {
	t := &domain.Ticket{ID: "t-1", OwnerID: ownerActor.ID, Priority: priority}
	m.Open(t)
	return t
}

func TestOpenUrgentSetsFourHourTarget(t *testing.T) {
	m, clock := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityUrgent)

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, clock.now.Add(4*time.Hour), ticket.SLATargetAt)
	assert.Equal(t, 4.0, ticket.ResolutionTargetHours)
	assert.Equal(t, 1.0, ticket.ResponseTargetHours)
}

func TestOpenUsesInjectedTable(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	table := SLATable{domain.TicketPriorityMedium: {Response: time.Hour, Resolution: 48 * time.Hour}}
	m := NewMachine(table, clock.Now)
	ticket := openTicket(m, domain.TicketPriorityMedium)
	assert.Equal(t, clock.now.Add(48*time.Hour), ticket.SLATargetAt)
}

func TestTransitionTableMatchesLegalEdges(t *testing.T) {
	legal := map[domain.TicketStatus][]domain.TicketStatus{
		domain.TicketStatusOpen:        {domain.TicketStatusInProgress, domain.TicketStatusEscalated, domain.TicketStatusClosed},
		domain.TicketStatusInProgress:  {domain.TicketStatusUnderReview, domain.TicketStatusResolved, domain.TicketStatusEscalated, domain.TicketStatusClosed},
		domain.TicketStatusUnderReview: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusEscalated},
		domain.TicketStatusResolved:    {domain.TicketStatusClosed, domain.TicketStatusInProgress},
		domain.TicketStatusEscalated:   {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
	}
	for _, from := range domain.TicketStatuses {
		for _, to := range domain.TicketStatuses {
			want := false
			for _, l := range legal[from] {
				if l == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIllegalTransitionLeavesTicketUntouched(t *testing.T) {
	m, _ := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityMedium)
	ticket.Status = domain.TicketStatusClosed
	before := ticket.Clone()

	_, err := m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusOpen})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))
	assert.Equal(t, before, ticket)
}

func TestResolvedToOpenRejectedThenReopenCounts(t *testing.T) {
	m, _ := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityMedium)
	ticket.Status = domain.TicketStatusResolved

	_, err := m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusOpen})
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))
	assert.Empty(t, ticket.Updates)
	assert.Equal(t, 0, ticket.ReopenCount)

	change, err := m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.ReopenCount)
	assert.Equal(t, domain.TicketStatusResolved, change.PreviousStatus)
	require.Len(t, ticket.Updates, 1)
	assert.Equal(t, "Resolved", ticket.Updates[0].PreviousValue)
	assert.Equal(t, "In Progress", ticket.Updates[0].NewValue)
}

func TestResolutionTimeFrozenOnFirstResolve(t *testing.T) {
	m, clock := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityHigh)
	_, err := m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusInProgress})
	require.NoError(t, err)

	clock.Advance(10 * time.Hour)
	change, err := m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusResolved})
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationResolved, change.Kind)
	assert.Equal(t, domain.UpdateKindResolution, change.Update.Kind)
	require.NotNil(t, ticket.ResolutionTimeHours)
	assert.Equal(t, 10.0, *ticket.ResolutionTimeHours)
	require.NotNil(t, ticket.SLAMet)
	assert.True(t, *ticket.SLAMet)

	_, err = m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusInProgress})
	require.NoError(t, err)
	clock.Advance(30 * time.Hour)
	_, err = m.Transition(ticket, agentActor, TransitionRequest{To: domain.TicketStatusResolved})
	require.NoError(t, err)
	assert.Equal(t, 10.0, *ticket.ResolutionTimeHours)
	assert.True(t, *ticket.SLAMet)
}

func TestEscalateMediumForcesHighestPriority(t *testing.T) {
	m, clock := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityMedium)
	clock.Advance(time.Hour)

	change, err := m.Escalate(ticket, agentActor, "SLA risk", nil)
	require.NoError(t, err)
	assert.True(t, ticket.IsEscalated)
	assert.Equal(t, domain.TicketPriorityUrgent, ticket.Priority)
	assert.Equal(t, "SLA risk", ticket.EscalationReason)
	require.NotNil(t, ticket.EscalatedAt)
	assert.Equal(t, clock.now, *ticket.EscalatedAt)
	assert.Equal(t, clock.now.Add(4*time.Hour), ticket.SLATargetAt)
	assert.Equal(t, domain.NotificationEscalated, change.Kind)
	require.Len(t, ticket.Updates, 1)
	assert.Equal(t, domain.UpdateKindEscalation, ticket.Updates[0].Kind)
}

func TestEscalateRequiresReason(t *testing.T) {
	m, _ := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityMedium)
	_, err := m.Escalate(ticket, agentActor, "   ", nil)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.False(t, ticket.IsEscalated)
	assert.Empty(t, ticket.Updates)
}

func TestAssignMovesOpenToInProgress(t *testing.T) {
	m, _ := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityLow)
	dept := "billing"
	agent := &domain.User{ID: "agent-9", Name: "Bo", Role: domain.RoleAgent, Department: &dept, IsActive: true}

	change, err := m.Assign(ticket, domain.SystemActor, agent, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.True(t, ticket.IsAssignedTo("agent-9"))
	assert.Equal(t, "billing", *ticket.AssignedTeam)
	assert.Nil(t, change.PreviousAgentID)
	require.Len(t, ticket.Updates, 1)
	assert.Equal(t, domain.UpdateKindAssignment, ticket.Updates[0].Kind)
	assert.Equal(t, "System", ticket.Updates[0].AuthorName)

	other := &domain.User{ID: "agent-2", Role: domain.RoleAgent, IsActive: true}
	change, err = m.Assign(ticket, agentActor, other, nil)
	require.NoError(t, err)
	require.NotNil(t, change.PreviousAgentID)
	assert.Equal(t, "agent-9", *change.PreviousAgentID)
	assert.Nil(t, ticket.AssignedTeam)
}

func TestCommentRejectedOnClosedTicket(t *testing.T) {
	m, _ := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityLow)
	_, err := m.Comment(ticket, ownerActor, "hello", false)
	require.NoError(t, err)

	ticket.Status = domain.TicketStatusClosed
	_, err = m.Comment(ticket, ownerActor, "again", false)
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))
	assert.Len(t, ticket.Updates, 1)
}

func TestFeedbackOnceByOwnerOnTerminal(t *testing.T) {
	m, _ := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityLow)

	_, err := m.SubmitFeedback(ticket, ownerActor, 5, "great")
	assert.Equal(t, apperrors.KindInvalidTransition, apperrors.KindOf(err))

	ticket.Status = domain.TicketStatusResolved
	_, err = m.SubmitFeedback(ticket, agentActor, 5, "")
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	_, err = m.SubmitFeedback(ticket, ownerActor, 9, "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = m.SubmitFeedback(ticket, ownerActor, 4, "ok")
	require.NoError(t, err)
	_, err = m.SubmitFeedback(ticket, ownerActor, 1, "changed my mind")
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Equal(t, 4, ticket.Feedback.Rating)
}

func TestIsOverdue(t *testing.T) {
	m, clock := newTestMachine()
	ticket := openTicket(m, domain.TicketPriorityUrgent)
	assert.False(t, IsOverdue(ticket, clock.now.Add(3*time.Hour)))
	assert.True(t, IsOverdue(ticket, clock.now.Add(5*time.Hour)))

	ticket.Status = domain.TicketStatusResolved
	assert.False(t, IsOverdue(ticket, clock.now.Add(5*time.Hour)))
}
