// Package realtime tracks live channels per identity and the rooms they are
// subscribed to.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/observability"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// Server to client event names.
const (
	EventSuperseded      = "session:superseded"
	EventBacklog         = "notification:backlog"
	EventNotification    = "notification:new"
	EventTicketUpdated   = "ticket:updated"
	EventDashboardTicket = "dashboard:ticket"
	EventAvailability    = "agent:availability"
	EventSLAOverdue      = "sla:overdue"
	EventError           = "error"
	EventPong            = "pong"
	EventJoined          = "ticket:joined"
	EventLeft            = "ticket:left"
)

// Channel is one live transport connection.
type Channel interface {
	ID() string
	Origin() string
	Send(event string, payload any) error
	Close(reason string) error
}

// Identity is the authenticated owner of a channel.
type Identity struct {
	ID   string
	Name string
	Role domain.Role
}

// Actor converts the identity for authorization checks.
func (i Identity) Actor() domain.Actor {
	return domain.Actor{ID: i.ID, Name: i.Name, Role: i.Role}
}

// BacklogSource returns unread durable notifications, most recent first.
type BacklogSource interface {
	Backlog(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
}

// TicketAuthorizer decides whether an actor may subscribe to a ticket room.
// ticketRef is a ticket id or number; the canonical ticket id is returned.
type TicketAuthorizer interface {
	AuthorizeTicketRoom(ctx context.Context, actor domain.Actor, ticketRef string) (string, error)
}

// AvailabilitySource computes agent presence after a disconnect.
type AvailabilitySource interface {
	AgentAvailability(ctx context.Context, agentID string, online bool) (domain.Availability, int, error)
}

// AvailabilityPayload is broadcast to admins when an agent disconnects.
type AvailabilityPayload struct {
	AgentID      string              `json:"agent_id"`
	Availability domain.Availability `json:"availability"`
	Load         int                 `json:"load"`
}

// SupersededPayload tells a replaced channel why it is being closed.
type SupersededPayload struct {
	Reason string `json:"reason"`
}

// Options wires optional collaborators.
type Options struct {
	Backlog      BacklogSource
	Tickets      TicketAuthorizer
	Availability AvailabilitySource
	BacklogSize  int
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// keyedNotification lets registration drop live frames already in the backlog.
type keyedNotification interface {
	NotificationKey() string
}

type queuedFrame struct {
	event   string
	payload any
}

type session struct {
	identity Identity
	ch       Channel
	rooms    map[string]struct{}
	// aliases maps a ticket number used on join to its room.
	aliases     map[string]string
	connectedAt time.Time

	// direct frames are queued while the backlog is loading
	pendingMu sync.Mutex
	loading   bool
	queued    []queuedFrame
}

// Registry enforces one live channel per identity and owns room membership.
type Registry struct {
	// registerMu serializes Register so supersession completes before the
	// next channel for the same identity is installed.
	registerMu sync.Mutex

	mu         sync.RWMutex
	byIdentity map[string]*session
	byChannel  map[string]*session
	rooms      map[string]map[string]*session
	draining   bool

	backlog      BacklogSource
	tickets      TicketAuthorizer
	availability AvailabilitySource
	backlogSize  int
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.BacklogSize
	if size <= 0 {
		size = 20
	}
	return &Registry{
		byIdentity:   make(map[string]*session),
		byChannel:    make(map[string]*session),
		rooms:        make(map[string]map[string]*session),
		backlog:      opts.Backlog,
		tickets:      opts.Tickets,
		availability: opts.Availability,
		backlogSize:  size,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          time.Now,
	}
}

// Bind installs collaborators that are constructed after the registry.
// Nil arguments keep the current value.
func (r *Registry) Bind(backlog BacklogSource, tickets TicketAuthorizer, availability AvailabilitySource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if backlog != nil {
		r.backlog = backlog
	}
	if tickets != nil {
		r.tickets = tickets
	}
	if availability != nil {
		r.availability = availability
	}
}

// Register installs ch as the only live channel of identity. An existing
// channel is notified, closed and detached first. Direct frames emitted
// while the backlog loads are held and sent after it, minus any already
// included in the backlog.
func (r *Registry) Register(ctx context.Context, identity Identity, ch Channel) error {
	if identity.ID == "" {
		return apperrors.NewUnauthorized("identity required")
	}
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return apperrors.NewCollaboratorUnavailable("realtime registry", nil)
	}
	previous := r.byIdentity[identity.ID]
	if previous != nil {
		r.detachLocked(previous)
	}
	r.mu.Unlock()

	if previous != nil {
		if err := previous.ch.Send(EventSuperseded, SupersededPayload{Reason: "new session opened"}); err != nil {
			r.logger.Debug("superseded notice failed", zap.String("identity", identity.ID), zap.Error(err))
		}
		if err := previous.ch.Close("superseded"); err != nil {
			r.logger.Debug("close superseded channel", zap.String("identity", identity.ID), zap.Error(err))
		}
	}

	s := &session{
		identity:    identity,
		ch:          ch,
		rooms:       make(map[string]struct{}),
		aliases:     make(map[string]string),
		connectedAt: r.now(),
		loading:     true,
	}
	r.mu.Lock()
	r.byIdentity[identity.ID] = s
	r.byChannel[ch.ID()] = s
	r.joinLocked(s, UserRoom(identity.ID))
	r.joinLocked(s, RoleRoom(identity.Role))
	count := len(r.byChannel)
	backlog := r.backlog
	r.mu.Unlock()
	r.metrics.SetConnections(count)

	r.logger.Info("channel registered",
		zap.String("identity", identity.ID),
		zap.String("role", string(identity.Role)),
		zap.String("channel_id", ch.ID()),
		zap.Bool("superseded", previous != nil))

	delivered := make(map[string]struct{})
	if backlog != nil {
		items, err := backlog.Backlog(ctx, identity.ID, r.backlogSize)
		if err != nil {
			r.logger.Warn("load notification backlog", zap.String("identity", identity.ID), zap.Error(err))
		} else if len(items) > 0 {
			if err := ch.Send(EventBacklog, items); err != nil {
				r.logger.Debug("send backlog", zap.String("identity", identity.ID), zap.Error(err))
			}
			for i := range items {
				delivered[items[i].ID] = struct{}{}
			}
		}
	}
	r.flushQueued(s, delivered)
	return nil
}

// flushQueued ends the loading phase of s. Frames are sent under pendingMu
// so later direct frames cannot overtake them.
func (r *Registry) flushQueued(s *session, delivered map[string]struct{}) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, f := range s.queued {
		if k, ok := f.payload.(keyedNotification); ok {
			if _, dup := delivered[k.NotificationKey()]; dup {
				continue
			}
		}
		if err := s.ch.Send(f.event, f.payload); err != nil {
			r.logger.Debug("send queued frame", zap.String("identity", s.identity.ID), zap.Error(err))
		}
	}
	s.queued = nil
	s.loading = false
}

// Unregister removes ch from every room. Only the current channel of an
// identity clears the identity mapping.
func (r *Registry) Unregister(ctx context.Context, ch Channel) {
	r.mu.Lock()
	s, ok := r.byChannel[ch.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.detachLocked(s)
	_, stillOnline := r.byIdentity[s.identity.ID]
	count := len(r.byChannel)
	r.mu.Unlock()
	r.metrics.SetConnections(count)

	r.logger.Info("channel unregistered",
		zap.String("identity", s.identity.ID),
		zap.String("channel_id", ch.ID()),
		zap.Duration("connected_for", r.now().Sub(s.connectedAt)))

	if s.identity.Role == domain.RoleAgent && !stillOnline {
		r.broadcastAvailability(ctx, s.identity.ID)
	}
}

func (r *Registry) broadcastAvailability(ctx context.Context, agentID string) {
	payload := AvailabilityPayload{AgentID: agentID, Availability: domain.AvailabilityOffline}
	r.mu.RLock()
	source := r.availability
	r.mu.RUnlock()
	if source != nil {
		availability, load, err := source.AgentAvailability(ctx, agentID, r.IsOnline(agentID))
		if err != nil {
			r.logger.Warn("recompute agent availability", zap.String("agent_id", agentID), zap.Error(err))
		} else {
			payload.Availability = availability
			payload.Load = load
		}
	}
	r.EmitToRoom(RoleRoom(domain.RoleAdmin), EventAvailability, payload)
}

// detachLocked removes s from all indexes. Callers hold r.mu.
func (r *Registry) detachLocked(s *session) {
	for room := range s.rooms {
		members := r.rooms[room]
		delete(members, s.ch.ID())
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	s.rooms = make(map[string]struct{})
	delete(r.byChannel, s.ch.ID())
	if current, ok := r.byIdentity[s.identity.ID]; ok && current == s {
		delete(r.byIdentity, s.identity.ID)
	}
}

func (r *Registry) joinLocked(s *session, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*session)
		r.rooms[room] = members
	}
	members[s.ch.ID()] = s
	s.rooms[room] = struct{}{}
}

// Lookup returns the live channel of an identity.
func (r *Registry) Lookup(identityID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byIdentity[identityID]
	if !ok {
		return nil, false
	}
	return s.ch, true
}

// IsOnline reports whether the identity holds a live channel.
func (r *Registry) IsOnline(identityID string) bool {
	_, ok := r.Lookup(identityID)
	return ok
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel)
}

// JoinTicket subscribes ch to a ticket room after an access check. A denied
// join leaves membership untouched.
func (r *Registry) JoinTicket(ctx context.Context, ch Channel, ticketID string) error {
	r.mu.RLock()
	s, ok := r.byChannel[ch.ID()]
	tickets := r.tickets
	r.mu.RUnlock()
	if !ok {
		return apperrors.NewUnauthorized("channel not registered")
	}
	if tickets == nil {
		return apperrors.NewForbidden("ticket rooms unavailable")
	}
	canonical, err := tickets.AuthorizeTicketRoom(ctx, s.identity.Actor(), ticketID)
	if err != nil {
		return err
	}
	if canonical == "" {
		canonical = ticketID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// the channel may have been unregistered during the access check
	if current, ok := r.byChannel[ch.ID()]; !ok || current != s {
		return apperrors.NewUnauthorized("channel not registered")
	}
	room := TicketRoom(canonical)
	r.joinLocked(s, room)
	if ticketID != canonical {
		s.aliases[ticketID] = room
	}
	return nil
}

// LeaveTicket drops the ticket room subscription of ch. ticketID may be the
// number the room was joined with.
func (r *Registry) LeaveTicket(ch Channel, ticketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byChannel[ch.ID()]
	if !ok {
		return
	}
	room := TicketRoom(ticketID)
	if aliased, ok := s.aliases[ticketID]; ok {
		room = aliased
	}
	r.leaveLocked(s, room)
}

// RemoveFromRoom evicts the live channel of an identity from room. It
// reports whether a membership was dropped.
func (r *Registry) RemoveFromRoom(identityID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byIdentity[identityID]
	if !ok {
		return false
	}
	if _, member := s.rooms[room]; !member {
		return false
	}
	r.leaveLocked(s, room)
	r.logger.Debug("evicted from room", zap.String("identity", identityID), zap.String("room", room))
	return true
}

func (r *Registry) leaveLocked(s *session, room string) {
	delete(s.rooms, room)
	for ref, aliased := range s.aliases {
		if aliased == room {
			delete(s.aliases, ref)
		}
	}
	if members, ok := r.rooms[room]; ok {
		delete(members, s.ch.ID())
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Rooms lists the rooms ch is subscribed to.
func (r *Registry) Rooms(ch Channel) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byChannel[ch.ID()]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// EmitToIdentity pushes to the live channel of an identity. It reports false
// when the identity is offline.
func (r *Registry) EmitToIdentity(identityID, event string, payload any) (bool, error) {
	r.mu.RLock()
	s, ok := r.byIdentity[identityID]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.loading {
		s.queued = append(s.queued, queuedFrame{event: event, payload: payload})
		return true, nil
	}
	if err := s.ch.Send(event, payload); err != nil {
		return false, err
	}
	return true, nil
}

// EmitToRoom pushes to every member of room and returns the delivered count.
func (r *Registry) EmitToRoom(room, event string, payload any) int {
	r.mu.RLock()
	members := make([]Channel, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		members = append(members, s.ch)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, ch := range members {
		if err := ch.Send(event, payload); err != nil {
			r.logger.Debug("room delivery failed",
				zap.String("room", room),
				zap.String("channel_id", ch.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Drain closes every channel and rejects further registrations.
func (r *Registry) Drain(reason string) {
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	r.mu.Lock()
	r.draining = true
	sessions := make([]*session, 0, len(r.byChannel))
	for _, s := range r.byChannel {
		sessions = append(sessions, s)
	}
	r.byIdentity = make(map[string]*session)
	r.byChannel = make(map[string]*session)
	r.rooms = make(map[string]map[string]*session)
	r.mu.Unlock()
	r.metrics.SetConnections(0)

	for _, s := range sessions {
		if err := s.ch.Close(reason); err != nil {
			r.logger.Debug("close channel on drain", zap.String("channel_id", s.ch.ID()), zap.Error(err))
		}
	}
	r.logger.Info("registry drained", zap.Int("closed", len(sessions)))
}
