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

// UserStore is a mutex guarded UserRepository that keeps insertion order.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	order []string
	seq   int
	now   func() time.Time
}

// NewUserStore returns an empty directory.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*domain.User), now: time.Now}
}

var _ repository.UserRepository = (*UserStore)(nil)

func (s *UserStore) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, ok := s.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	user.Email = strings.ToLower(user.Email)
	for _, existing := range s.users {
		if user.Email != "" && existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.CreatedAt.IsZero() {
		// keep created_at strictly increasing so ordering matches insertion
		s.seq++
		user.CreatedAt = s.now().Add(time.Duration(s.seq) * time.Microsecond)
	}
	user.UpdatedAt = user.CreatedAt
	copied := *user
	s.users[user.ID] = &copied
	s.order = append(s.order, user.ID)
	return nil
}

func (s *UserStore) Update(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	copied := *user
	copied.Email = strings.ToLower(copied.Email)
	copied.CreatedAt = existing.CreatedAt
	copied.UpdatedAt = s.now()
	s.users[user.ID] = &copied
	user.UpdatedAt = copied.UpdatedAt
	return nil
}

func (s *UserStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *UserStore) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	s.mu.RLock()
	var result []domain.User
	for _, id := range s.order {
		u := s.users[id]
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Department != nil && (u.Department == nil || *u.Department != *filter.Department) {
			continue
		}
		if filter.Active != nil && u.IsActive != *filter.Active {
			continue
		}
		result = append(result, *u)
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

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
