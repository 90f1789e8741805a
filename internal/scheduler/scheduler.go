// Package scheduler runs periodic maintenance jobs on a robfig/cron engine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/config"
	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/observability"
	"github.com/spec-kit/complaint-service/internal/realtime"
)

// Job names.
const (
	JobNotificationGC = "notification-gc"
	JobOverdueSweep   = "sla-overdue-sweep"
)

const (
	overdueBatch = 500
	jobTimeout   = time.Minute
)

// GarbageCollector removes read and expired notifications.
type GarbageCollector interface {
	CollectGarbage(ctx context.Context) (int64, error)
}

// OverdueSource lists non-terminal tickets past their SLA target.
type OverdueSource interface {
	Overdue(ctx context.Context, limit int) ([]domain.Ticket, error)
}

// RoomBroadcaster pushes a frame to a realtime room.
type RoomBroadcaster interface {
	EmitToRoom(room, event string, payload any) int
}

// OverdueTicket is one entry of the admin overdue frame.
type OverdueTicket struct {
	ID              string                `json:"id"`
	TicketNumber    string                `json:"ticket_number"`
	Priority        domain.TicketPriority `json:"priority"`
	Status          domain.TicketStatus   `json:"status"`
	AssignedAgentID *string               `json:"assigned_agent_id,omitempty"`
	SLATargetAt     time.Time             `json:"sla_target_at"`
}

// OverduePayload is broadcast to admins after each sweep that finds overdue tickets.
type OverduePayload struct {
	Count   int             `json:"count"`
	Tickets []OverdueTicket `json:"tickets"`
	SweptAt time.Time       `json:"swept_at"`
}

// Dependencies wires the job collaborators. Nil members disable their job.
type Dependencies struct {
	Notifications GarbageCollector
	Tickets       OverdueSource
	Rooms         RoomBroadcaster
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

type job struct {
	name string
	spec string
	run  func(context.Context) error
}

// Scheduler owns the cron engine and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]job
	deps   Dependencies
	logger *zap.Logger

	mu       sync.Mutex
	rootCtx  context.Context
	notified map[string]time.Time
}

// New registers the maintenance jobs using the configured specs.
func New(cfg config.SchedulerConfig, deps Dependencies) (*Scheduler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		jobs:     make(map[string]job),
		deps:     deps,
		logger:   logger,
		rootCtx:  context.Background(),
		notified: make(map[string]time.Time),
	}

	if deps.Notifications != nil {
		if err := s.add(JobNotificationGC, cfg.NotificationGCSpec, s.collectNotifications); err != nil {
			return nil, err
		}
	}
	if deps.Tickets != nil {
		if err := s.add(JobOverdueSweep, cfg.OverdueSweepSpec, s.sweepOverdue); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, run func(context.Context) error) error {
	if spec == "" {
		s.logger.Info("scheduler job disabled", zap.String("job", name))
		return nil
	}
	j := job{name: name, spec: spec, run: run}
	if _, err := s.cron.AddFunc(spec, func() { s.execute(j) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = j
	return nil
}

// Start begins firing jobs. Jobs observe ctx for cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.rootCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts the engine and waits for running jobs or ctx expiry.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for jobs")
	}
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("scheduler job %s not registered", name)
	}
	return j.run(ctx)
}

func (s *Scheduler) execute(j job) {
	s.mu.Lock()
	root := s.rootCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(root, jobTimeout)
	defer cancel()

	start := time.Now()
	err := j.run(ctx)
	fields := []zap.Field{zap.String("job", j.name), zap.Duration("duration", time.Since(start))}
	if err != nil {
		s.logger.Error("scheduler job failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("scheduler job finished", fields...)
}

func (s *Scheduler) collectNotifications(ctx context.Context) error {
	_, err := s.deps.Notifications.CollectGarbage(ctx)
	return err
}

func (s *Scheduler) sweepOverdue(ctx context.Context) error {
	tickets, err := s.deps.Tickets.Overdue(ctx, overdueBatch)
	if err != nil {
		return err
	}
	s.deps.Metrics.SetOverdue(len(tickets))
	if len(tickets) == 0 {
		return nil
	}

	now := s.deps.Now()
	payload := OverduePayload{Count: len(tickets), Tickets: make([]OverdueTicket, 0, len(tickets)), SweptAt: now}
	for i := range tickets {
		t := &tickets[i]
		payload.Tickets = append(payload.Tickets, OverdueTicket{
			ID:              t.ID,
			TicketNumber:    t.TicketNumber,
			Priority:        t.Priority,
			Status:          t.Status,
			AssignedAgentID: t.AssignedAgentID,
			SLATargetAt:     t.SLATargetAt,
		})
		s.announce(ctx, t, now)
	}
	if s.deps.Rooms != nil {
		s.deps.Rooms.EmitToRoom(realtime.RoleRoom(domain.RoleAdmin), realtime.EventSLAOverdue, payload)
	}
	s.logger.Info("overdue tickets found", zap.Int("count", len(tickets)))
	return nil
}

// announce publishes one sla_overdue event per ticket and SLA target. The
// event ID is derived from both so a restart cannot notify twice.
func (s *Scheduler) announce(ctx context.Context, t *domain.Ticket, now time.Time) {
	if s.deps.Dispatcher == nil {
		return
	}
	s.mu.Lock()
	if target, ok := s.notified[t.ID]; ok && target.Equal(t.SLATargetAt) {
		s.mu.Unlock()
		return
	}
	s.notified[t.ID] = t.SLATargetAt
	s.mu.Unlock()

	event := events.NewTicketEvent(events.EventSLAOverdue, t, domain.SystemActor, now)
	event.ID = OverdueEventID(t.ID, t.SLATargetAt)
	if err := s.deps.Dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("overdue event publish failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

// OverdueEventID is stable for a ticket and SLA target.
func OverdueEventID(ticketID string, target time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("sla-overdue:"+ticketID+":"+target.UTC().Format(time.RFC3339Nano))).String()
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
