// Package memory holds in-process repository implementations used by tests
// and by the server when no Postgres DSN is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/repository"
)

// TicketStore is a mutex guarded TicketRepository.
type TicketStore struct {
	mu       sync.RWMutex
	tickets  map[string]*domain.Ticket
	numbers  map[string]string
	counters map[int]int
}

// NewTicketStore returns an empty store.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets:  make(map[string]*domain.Ticket),
		numbers:  make(map[string]string),
		counters: make(map[int]int),
	}
}

var _ repository.TicketRepository = (*TicketStore)(nil)

func (s *TicketStore) Create(_ context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, ok := s.tickets[ticket.ID]; ok {
		return repository.ErrDuplicate
	}
	if ticket.TicketNumber == "" {
		year := ticket.CreatedAt.Year()
		s.counters[year]++
		ticket.TicketNumber = repository.FormatTicketNumber(year, s.counters[year])
	}
	if _, ok := s.numbers[ticket.TicketNumber]; ok {
		return repository.ErrDuplicate
	}
	ticket.Version = 1
	for i := range ticket.Updates {
		ticket.Updates[i].TicketID = ticket.ID
	}
	s.tickets[ticket.ID] = ticket.Clone()
	s.numbers[ticket.TicketNumber] = ticket.ID
	return nil
}

func (s *TicketStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *TicketStore) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	s.mu.RLock()
	id, ok := s.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// Apply commits m only when the stored version and status still match.
func (s *TicketStore) Apply(_ context.Context, m repository.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tickets[m.Ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != m.ExpectedVersion || current.Status != m.ExpectedStatus {
		return repository.ErrConflict
	}
	next := m.Ticket.Clone()
	// audit entries are append-only: keep the stored history and add the new ones
	next.Updates = append(append([]domain.Update(nil), current.Updates...), m.NewUpdates...)
	next.Version = m.ExpectedVersion + 1
	next.TicketNumber = current.TicketNumber
	next.CreatedAt = current.CreatedAt
	s.tickets[next.ID] = next
	m.Ticket.Version = next.Version
	return nil
}

func (s *TicketStore) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s.mu.RLock()
	matched := make([]*domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if matches(t, filter) {
			matched = append(matched, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].TicketNumber > matched[j].TicketNumber
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return page(matched, filter.Limit, filter.Offset), nil
}

func (s *TicketStore) CountActiveByAgents(_ context.Context, agentIDs []string) (map[string]int, error) {
	wanted := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		wanted[id] = true
	}
	result := make(map[string]int, len(agentIDs))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.AssignedAgentID == nil || t.Status.IsTerminal() {
			continue
		}
		if wanted[*t.AssignedAgentID] {
			result[*t.AssignedAgentID]++
		}
	}
	return result, nil
}

func (s *TicketStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	s.mu.RLock()
	var overdue []*domain.Ticket
	for _, t := range s.tickets {
		if !t.Status.IsTerminal() && !t.SLATargetAt.IsZero() && t.SLATargetAt.Before(now) {
			overdue = append(overdue, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(overdue, func(i, j int) bool { return overdue[i].SLATargetAt.Before(overdue[j].SLATargetAt) })
	return page(overdue, limit, 0), nil
}

func matches(t *domain.Ticket, f repository.TicketFilter) bool {
	if f.OwnerID != nil && t.OwnerID != *f.OwnerID {
		return false
	}
	if f.AssignedAgentID != nil && !t.IsAssignedTo(*f.AssignedAgentID) {
		return false
	}
	if f.AssignedTeam != nil && (t.AssignedTeam == nil || *t.AssignedTeam != *f.AssignedTeam) {
		return false
	}
	if f.Unassigned && t.AssignedAgentID != nil {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, t.Category) {
		return false
	}
	if f.Escalated != nil && t.IsEscalated != *f.Escalated {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) &&
			!strings.Contains(strings.ToLower(t.TicketNumber), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func page(items []*domain.Ticket, limit, offset int) []domain.Ticket {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]domain.Ticket, 0, end-offset)
	for _, t := range items[offset:end] {
		out = append(out, *t)
	}
	return out
}
