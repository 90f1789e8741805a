package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/repository"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTicket(owner string) *domain.Ticket {
	return &domain.Ticket{
		Title:     "Broken parcel",
		OwnerID:   owner,
		Status:    domain.TicketStatusOpen,
		Priority:  domain.TicketPriorityMedium,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func TestTicketNumbersAreSequentialPerYear(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	first, second := newTicket("u1"), newTicket("u1")
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	assert.Equal(t, "CMP-2026-000001", first.TicketNumber)
	assert.Equal(t, "CMP-2026-000002", second.TicketNumber)
	assert.Equal(t, 1, first.Version)

	got, err := store.GetByNumber(ctx, second.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestApplyRejectsStaleVersion(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()
	ticket := newTicket("u1")
	require.NoError(t, store.Create(ctx, ticket))

	a, err := store.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	b, err := store.GetByID(ctx, ticket.ID)
	require.NoError(t, err)

	a.Status = domain.TicketStatusInProgress
	require.NoError(t, store.Apply(ctx, repository.Mutation{
		Ticket: a, ExpectedVersion: 1, ExpectedStatus: domain.TicketStatusOpen,
		NewUpdates: []domain.Update{{ID: "u-a", Kind: domain.UpdateKindStatusChange}},
	}))
	assert.Equal(t, 2, a.Version)

	b.Status = domain.TicketStatusClosed
	err = store.Apply(ctx, repository.Mutation{Ticket: b, ExpectedVersion: 1, ExpectedStatus: domain.TicketStatusOpen})
	assert.ErrorIs(t, err, repository.ErrConflict)

	stored, err := store.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
	require.Len(t, stored.Updates, 1)
	assert.Equal(t, "u-a", stored.Updates[0].ID)
}

func TestApplyMissingTicket(t *testing.T) {
	store := NewTicketStore()
	err := store.Apply(context.Background(), repository.Mutation{Ticket: &domain.Ticket{ID: "nope"}})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStoredTicketIsIsolatedFromCallers(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()
	ticket := newTicket("u1")
	require.NoError(t, store.Create(ctx, ticket))

	ticket.Title = "mutated"
	got, err := store.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Broken parcel", got.Title)
}

func TestCountActiveByAgentsSkipsTerminal(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()
	agent := "agent-1"
	for _, status := range []domain.TicketStatus{domain.TicketStatusInProgress, domain.TicketStatusEscalated, domain.TicketStatusResolved} {
		ticket := newTicket("u1")
		ticket.Status = status
		ticket.AssignedAgentID = &agent
		require.NoError(t, store.Create(ctx, ticket))
	}

	loads, err := store.CountActiveByAgents(ctx, []string{agent, "agent-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, loads[agent])
	assert.Equal(t, 0, loads["agent-2"])
}

func TestListFiltersAndOverdue(t *testing.T) {
	store := NewTicketStore()
	ctx := context.Background()

	late := newTicket("u1")
	late.SLATargetAt = base.Add(time.Hour)
	onTime := newTicket("u2")
	onTime.SLATargetAt = base.Add(48 * time.Hour)
	require.NoError(t, store.Create(ctx, late))
	require.NoError(t, store.Create(ctx, onTime))

	owner := "u2"
	listed, err := store.List(ctx, repository.TicketFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, onTime.ID, listed[0].ID)

	overdue, err := store.ListOverdue(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)
}

func TestUserListKeepsInsertionOrder(t *testing.T) {
	store := NewUserStore()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &domain.User{ID: name, Name: name, Email: name + "@x.io", Role: domain.RoleAgent, IsActive: true}))
	}
	require.NoError(t, store.Create(ctx, &domain.User{ID: "admin", Email: "admin@x.io", Role: domain.RoleAdmin, IsActive: true}))

	role := domain.RoleAgent
	agents, err := store.List(ctx, repository.UserFilter{Role: &role})
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{agents[0].ID, agents[1].ID, agents[2].ID})

	err = store.Create(ctx, &domain.User{Email: "A@X.io"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	byEmail, err := store.GetByEmail(ctx, "B@x.io")
	require.NoError(t, err)
	assert.Equal(t, "b", byEmail.ID)
}

func TestNotificationCreateIsIdempotentPerEventAndRecipient(t *testing.T) {
	store := NewNotificationStore()
	ctx := context.Background()

	created, err := store.Create(ctx, &domain.Notification{EventID: "e1", RecipientID: "r1", CreatedAt: base})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Create(ctx, &domain.Notification{EventID: "e1", RecipientID: "r1", CreatedAt: base})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = store.Create(ctx, &domain.Notification{EventID: "e1", RecipientID: "r2", CreatedAt: base})
	require.NoError(t, err)
	assert.True(t, created)

	inbox, err := store.ListByRecipient(ctx, "r1", repository.NotificationFilter{})
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestNotificationInboxOrderAndGarbageCollection(t *testing.T) {
	store := NewNotificationStore()
	ctx := context.Background()

	older := &domain.Notification{EventID: "e1", RecipientID: "r1", CreatedAt: base, ExpiresAt: base.Add(time.Hour)}
	newer := &domain.Notification{EventID: "e2", RecipientID: "r1", CreatedAt: base.Add(time.Minute), ExpiresAt: base.Add(time.Hour)}
	_, err := store.Create(ctx, older)
	require.NoError(t, err)
	_, err = store.Create(ctx, newer)
	require.NoError(t, err)

	inbox, err := store.ListByRecipient(ctx, "r1", repository.NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, newer.ID, inbox[0].ID)

	require.NoError(t, store.MarkRead(ctx, "r1", older.ID, base))
	assert.ErrorIs(t, store.MarkRead(ctx, "someone-else", newer.ID, base), repository.ErrNotFound)

	// expired but unread records survive
	removed, err := store.DeleteCollectable(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	inbox, err = store.ListByRecipient(ctx, "r1", repository.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, newer.ID, inbox[0].ID)
}

func TestUpdateDeliveryRecordsChannelState(t *testing.T) {
	store := NewNotificationStore()
	ctx := context.Background()
	n := &domain.Notification{EventID: "e1", RecipientID: "r1", CreatedAt: base}
	_, err := store.Create(ctx, n)
	require.NoError(t, err)

	require.NoError(t, store.UpdateDelivery(ctx, n.ID, domain.ChannelEmail, domain.DeliveryState{Error: "smtp down"}))
	inbox, err := store.ListByRecipient(ctx, "r1", repository.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "smtp down", inbox[0].Channels.Email.Error)
	assert.False(t, inbox[0].Channels.Email.Sent)
}
