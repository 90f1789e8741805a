package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/complaint-service/internal/domain"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

type frame struct {
	Event   string
	Payload any
}

type fakeChannel struct {
	id      string
	mu      sync.Mutex
	frames  []frame
	closed  bool
	reason  string
	sendErr error
}

var channelSeq int

func newFakeChannel() *fakeChannel {
	channelSeq++
	return &fakeChannel{id: fmt.Sprintf("ch-%d", channelSeq)}
}

func (f *fakeChannel) ID() string     { return f.id }
func (f *fakeChannel) Origin() string { return "127.0.0.1" }

func (f *fakeChannel) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrChannelClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame{Event: event, Payload: payload})
	return nil
}

func (f *fakeChannel) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
	return nil
}

func (f *fakeChannel) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, fr.Event)
	}
	return out
}

type stubBacklog struct {
	items []domain.Notification
	limit int
}

func (s *stubBacklog) Backlog(_ context.Context, _ string, limit int) ([]domain.Notification, error) {
	s.limit = limit
	if len(s.items) > limit {
		return s.items[:limit], nil
	}
	return s.items, nil
}

type stubAuthorizer struct {
	allowed map[string]bool
	// numbers resolves ticket numbers to ids
	numbers map[string]string
}

func (s stubAuthorizer) AuthorizeTicketRoom(_ context.Context, actor domain.Actor, ref string) (string, error) {
	id := ref
	if resolved, ok := s.numbers[ref]; ok {
		id = resolved
	}
	if s.allowed[actor.ID+"|"+id] {
		return id, nil
	}
	return "", apperrors.NewForbidden("not a participant")
}

// observingBacklog records whether the identity was reachable while its
// backlog was read, and creates a notification in that window.
type observingBacklog struct {
	registry     *Registry
	items        []domain.Notification
	onlineDuring bool
	pushedDuring bool
}

func (b *observingBacklog) Backlog(_ context.Context, recipientID string, _ int) ([]domain.Notification, error) {
	b.onlineDuring = b.registry.IsOnline(recipientID)
	pushed, _ := b.registry.EmitToIdentity(recipientID, EventNotification, keyedFrame{ID: "n-live"})
	b.pushedDuring = pushed
	return b.items, nil
}

type keyedFrame struct{ ID string }

func (f keyedFrame) NotificationKey() string { return f.ID }

type stubAvailability struct{}

func (stubAvailability) AgentAvailability(_ context.Context, _ string, online bool) (domain.Availability, int, error) {
	return domain.DeriveAvailability(online, 2, 5), 2, nil
}

var (
	owner = Identity{ID: "owner-1", Role: domain.RoleUser}
	agent = Identity{ID: "agent-1", Role: domain.RoleAgent}
	admin = Identity{ID: "admin-1", Role: domain.RoleAdmin}
)

func TestRegisterSupersedesPreviousChannel(t *testing.T) {
	r := NewRegistry(Options{})
	ctx := context.Background()
	first, second := newFakeChannel(), newFakeChannel()

	require.NoError(t, r.Register(ctx, owner, first))
	require.NoError(t, r.Register(ctx, owner, second))

	assert.Equal(t, []string{EventSuperseded}, first.events())
	assert.True(t, first.closed)
	assert.False(t, second.closed)

	ch, ok := r.Lookup(owner.ID)
	require.True(t, ok)
	assert.Equal(t, second.ID(), ch.ID())
	assert.Equal(t, 1, r.Count())

	// a late disconnect of the old channel must not evict the new one
	r.Unregister(ctx, first)
	assert.True(t, r.IsOnline(owner.ID))

	delivered, err := r.EmitToIdentity(owner.ID, EventNotification, "hi")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Empty(t, first.events()[1:])
	assert.Equal(t, []string{EventNotification}, second.events())
}

func TestRegisterJoinsIdentityAndRoleRooms(t *testing.T) {
	r := NewRegistry(Options{})
	ch := newFakeChannel()
	require.NoError(t, r.Register(context.Background(), agent, ch))
	assert.ElementsMatch(t, []string{"user:agent-1", "role:agent"}, r.Rooms(ch))

	assert.Equal(t, 1, r.EmitToRoom(RoleRoom(domain.RoleAgent), EventDashboardTicket, nil))
	assert.Equal(t, 0, r.EmitToRoom(RoleRoom(domain.RoleAdmin), EventDashboardTicket, nil))
}

func TestRegisterDeliversBoundedBacklog(t *testing.T) {
	backlog := &stubBacklog{items: []domain.Notification{{ID: "n3"}, {ID: "n2"}, {ID: "n1"}}}
	r := NewRegistry(Options{Backlog: backlog, BacklogSize: 2})
	ch := newFakeChannel()
	require.NoError(t, r.Register(context.Background(), owner, ch))

	assert.Equal(t, 2, backlog.limit)
	require.Len(t, ch.frames, 1)
	assert.Equal(t, EventBacklog, ch.frames[0].Event)
	items := ch.frames[0].Payload.([]domain.Notification)
	assert.Equal(t, []string{"n3", "n2"}, []string{items[0].ID, items[1].ID})
}

func TestJoinTicketIsAccessControlled(t *testing.T) {
	r := NewRegistry(Options{Tickets: stubAuthorizer{allowed: map[string]bool{"owner-1|t-1": true}}})
	ctx := context.Background()
	ch := newFakeChannel()
	require.NoError(t, r.Register(ctx, owner, ch))

	err := r.JoinTicket(ctx, ch, "t-2")
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
	assert.NotContains(t, r.Rooms(ch), TicketRoom("t-2"))

	require.NoError(t, r.JoinTicket(ctx, ch, "t-1"))
	assert.Contains(t, r.Rooms(ch), TicketRoom("t-1"))
	assert.Equal(t, 1, r.EmitToRoom(TicketRoom("t-1"), EventTicketUpdated, nil))

	r.LeaveTicket(ch, "t-1")
	assert.Equal(t, 0, r.EmitToRoom(TicketRoom("t-1"), EventTicketUpdated, nil))
}

func TestJoinTicketByNumberUsesCanonicalRoom(t *testing.T) {
	r := NewRegistry(Options{Tickets: stubAuthorizer{
		allowed: map[string]bool{"owner-1|t-1": true},
		numbers: map[string]string{"CMP-20260101-0001": "t-1"},
	}})
	ctx := context.Background()
	ch := newFakeChannel()
	require.NoError(t, r.Register(ctx, owner, ch))

	require.NoError(t, r.JoinTicket(ctx, ch, "CMP-20260101-0001"))
	assert.Contains(t, r.Rooms(ch), TicketRoom("t-1"))
	assert.NotContains(t, r.Rooms(ch), TicketRoom("CMP-20260101-0001"))

	assert.Equal(t, 1, r.EmitToRoom(TicketRoom("t-1"), EventTicketUpdated, "changed"))
	assert.Equal(t, []string{EventTicketUpdated}, ch.events())

	r.LeaveTicket(ch, "CMP-20260101-0001")
	assert.NotContains(t, r.Rooms(ch), TicketRoom("t-1"))
	assert.Equal(t, 0, r.EmitToRoom(TicketRoom("t-1"), EventTicketUpdated, nil))
}

func TestRemoveFromRoomEvictsOnlyThatRoom(t *testing.T) {
	r := NewRegistry(Options{Tickets: stubAuthorizer{allowed: map[string]bool{
		"agent-1|t-1": true,
		"agent-1|t-2": true,
	}}})
	ctx := context.Background()
	ch := newFakeChannel()
	require.NoError(t, r.Register(ctx, agent, ch))
	require.NoError(t, r.JoinTicket(ctx, ch, "t-1"))
	require.NoError(t, r.JoinTicket(ctx, ch, "t-2"))

	assert.True(t, r.RemoveFromRoom(agent.ID, TicketRoom("t-1")))
	assert.False(t, r.RemoveFromRoom(agent.ID, TicketRoom("t-1")))
	assert.False(t, r.RemoveFromRoom("nobody", TicketRoom("t-2")))

	assert.ElementsMatch(t, []string{"user:agent-1", "role:agent", TicketRoom("t-2")}, r.Rooms(ch))
	assert.Equal(t, 0, r.EmitToRoom(TicketRoom("t-1"), EventTicketUpdated, nil))
	assert.Equal(t, 1, r.EmitToRoom(TicketRoom("t-2"), EventTicketUpdated, nil))
}

func TestRegisterHoldsDirectFramesUntilBacklogSent(t *testing.T) {
	r := NewRegistry(Options{})
	backlog := &observingBacklog{registry: r, items: []domain.Notification{{ID: "n-live"}, {ID: "n-old"}}}
	r.Bind(backlog, nil, nil)
	ch := newFakeChannel()

	require.NoError(t, r.Register(context.Background(), owner, ch))
	assert.True(t, backlog.onlineDuring)
	assert.True(t, backlog.pushedDuring)
	// the live copy is already in the backlog
	assert.Equal(t, []string{EventBacklog}, ch.events())

	delivered, err := r.EmitToIdentity(owner.ID, EventNotification, keyedFrame{ID: "n-next"})
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []string{EventBacklog, EventNotification}, ch.events())
}

func TestRegisterFlushesQueuedFramesMissingFromBacklog(t *testing.T) {
	r := NewRegistry(Options{})
	backlog := &observingBacklog{registry: r, items: []domain.Notification{{ID: "n-old"}}}
	r.Bind(backlog, nil, nil)
	ch := newFakeChannel()

	require.NoError(t, r.Register(context.Background(), owner, ch))
	require.Len(t, ch.frames, 2)
	assert.Equal(t, EventBacklog, ch.frames[0].Event)
	assert.Equal(t, EventNotification, ch.frames[1].Event)
	assert.Equal(t, keyedFrame{ID: "n-live"}, ch.frames[1].Payload)
}

func TestUnregisterAgentBroadcastsAvailability(t *testing.T) {
	r := NewRegistry(Options{Availability: stubAvailability{}})
	ctx := context.Background()
	adminCh, agentCh := newFakeChannel(), newFakeChannel()
	require.NoError(t, r.Register(ctx, admin, adminCh))
	require.NoError(t, r.Register(ctx, agent, agentCh))

	r.Unregister(ctx, agentCh)
	assert.False(t, r.IsOnline(agent.ID))
	assert.Empty(t, r.Rooms(agentCh))

	require.Len(t, adminCh.frames, 1)
	assert.Equal(t, EventAvailability, adminCh.frames[0].Event)
	payload := adminCh.frames[0].Payload.(AvailabilityPayload)
	assert.Equal(t, domain.AvailabilityOffline, payload.Availability)
	assert.Equal(t, 2, payload.Load)
}

func TestUnregisterUserDoesNotBroadcast(t *testing.T) {
	r := NewRegistry(Options{Availability: stubAvailability{}})
	ctx := context.Background()
	adminCh, ownerCh := newFakeChannel(), newFakeChannel()
	require.NoError(t, r.Register(ctx, admin, adminCh))
	require.NoError(t, r.Register(ctx, owner, ownerCh))
	r.Unregister(ctx, ownerCh)
	assert.Empty(t, adminCh.frames)
}

func TestEmitToOfflineIdentity(t *testing.T) {
	r := NewRegistry(Options{})
	delivered, err := r.EmitToIdentity("nobody", EventNotification, nil)
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestEmitReportsTransportError(t *testing.T) {
	r := NewRegistry(Options{})
	ch := newFakeChannel()
	require.NoError(t, r.Register(context.Background(), owner, ch))
	ch.sendErr = errors.New("broken pipe")
	_, err := r.EmitToIdentity(owner.ID, EventNotification, nil)
	assert.Error(t, err)
}

func TestDrainClosesAllAndRejectsRegistration(t *testing.T) {
	r := NewRegistry(Options{})
	ctx := context.Background()
	a, b := newFakeChannel(), newFakeChannel()
	require.NoError(t, r.Register(ctx, owner, a))
	require.NoError(t, r.Register(ctx, agent, b))

	r.Drain("shutdown")
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, r.Count())
	assert.Error(t, r.Register(ctx, admin, newFakeChannel()))
}

func TestConcurrentRegisterKeepsSingleChannel(t *testing.T) {
	r := NewRegistry(Options{})
	ctx := context.Background()
	channels := make([]*fakeChannel, 20)
	for i := range channels {
		channels[i] = newFakeChannel()
	}
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch *fakeChannel) {
			defer wg.Done()
			_ = r.Register(ctx, owner, ch)
		}(ch)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Count())
	open := 0
	for _, ch := range channels {
		ch.mu.Lock()
		if !ch.closed {
			open++
		}
		ch.mu.Unlock()
	}
	assert.Equal(t, 1, open)
}
