package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/repository"
)

// NotificationStore is a mutex guarded NotificationRepository.
type NotificationStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Notification
	keys    map[string]string
	seq     map[string]int
	next    int
}

// NewNotificationStore returns an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		records: make(map[string]*domain.Notification),
		keys:    make(map[string]string),
		seq:     make(map[string]int),
	}
}

var _ repository.NotificationRepository = (*NotificationStore)(nil)

func dedupeKey(eventID, recipientID string) string {
	return eventID + "|" + recipientID
}

func (s *NotificationStore) Create(_ context.Context, n *domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(n.EventID, n.RecipientID)
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	copied := *n
	s.records[n.ID] = &copied
	s.keys[key] = n.ID
	s.next++
	s.seq[n.ID] = s.next
	return true, nil
}

func (s *NotificationStore) UpdateDelivery(_ context.Context, id string, channel domain.Channel, state domain.DeliveryState) error {
	switch channel {
	case domain.ChannelInApp, domain.ChannelEmail, domain.ChannelPush:
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	*n.Channels.State(channel) = state
	return nil
}

func (s *NotificationStore) ListByRecipient(_ context.Context, recipientID string, filter repository.NotificationFilter) ([]domain.Notification, error) {
	s.mu.RLock()
	var result []domain.Notification
	order := make(map[string]int)
	for id, n := range s.records {
		if n.RecipientID != recipientID || (filter.UnreadOnly && n.Read) {
			continue
		}
		result = append(result, *n)
		order[id] = s.seq[id]
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return order[result[i].ID] > order[result[j].ID]
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (s *NotificationStore) MarkRead(_ context.Context, recipientID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok || n.RecipientID != recipientID {
		return repository.ErrNotFound
	}
	if !n.Read {
		n.Read = true
		readAt := at
		n.ReadAt = &readAt
	}
	return nil
}

func (s *NotificationStore) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.records {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			readAt := at
			n.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) DeleteCollectable(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, n := range s.records {
		if n.Collectable(now) {
			delete(s.records, id)
			delete(s.keys, dedupeKey(n.EventID, n.RecipientID))
			delete(s.seq, id)
			count++
		}
	}
	return count, nil
}
