package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store is an in-memory implementation of the storage interface.
// Expired tokens and leases stay until PurgeExpired removes them.
type Store struct {
	mu sync.RWMutex

	stacks map[string]*domain.Stack
	tokens map[string]*domain.Token
	leases map[string]*domain.Lease // key: stackID
	root   *domain.RootCredential
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		stacks: make(map[string]*domain.Stack),
		tokens: make(map[string]*domain.Token),
		leases: make(map[string]*domain.Lease),
	}
}

func (s *Store) Close() error { return nil }

// ============================================
// Stacks
// ============================================

func (s *Store) CreateStack(ctx context.Context, stack *domain.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stacks[stack.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stack.Version = 1
	s.stacks[stack.ID] = stack.Clone()
	return nil
}

func (s *Store) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stack, ok := s.stacks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return stack.Clone(), nil
}

func (s *Store) ListStacks(ctx context.Context) ([]*domain.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stacks := make([]*domain.Stack, 0, len(s.stacks))
	for _, stack := range s.stacks {
		stacks = append(stacks, stack.Clone())
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].ID < stacks[j].ID })
	return stacks, nil
}

func (s *Store) UpdateStack(ctx context.Context, stack *domain.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.stacks[stack.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != stack.Version {
		return domain.ErrConflict
	}
	stack.Version++
	s.stacks[stack.ID] = stack.Clone()
	return nil
}

func (s *Store) DeleteStack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stacks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.stacks, id)
	return nil
}

// ============================================
// Tokens
// ============================================

func (s *Store) CreateToken(ctx context.Context, token *domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return domain.ErrAlreadyExists
	}
	t := *token
	s.tokens[token.ID] = &t
	return nil
}

func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t := *token
	return &t, nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

// ============================================
// Root credential
// ============================================

func (s *Store) GetRootCredential(ctx context.Context) (*domain.RootCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.root == nil {
		return nil, domain.ErrNotFound
	}
	c := *s.root
	return &c, nil
}

func (s *Store) InitRootCredential(ctx context.Context, cred *domain.RootCredential) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		return false, nil
	}
	c := *cred
	s.root = &c
	return true, nil
}

func (s *Store) PutRootCredential(ctx context.Context, cred *domain.RootCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cred
	s.root = &c
	return nil
}

// ============================================
// Leases
// ============================================

func (s *Store) AcquireLease(ctx context.Context, lease *domain.Lease, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.leases[lease.StackID]; ok && current.Live(now) {
		return false, nil
	}
	l := *lease
	s.leases[lease.StackID] = &l
	return true, nil
}

func (s *Store) RenewLease(ctx context.Context, stackID, leaseID string, deadline, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.leases[stackID]
	if !ok || current.LeaseID != leaseID || !current.Live(now) {
		return false, nil
	}
	current.Deadline = deadline
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, stackID, leaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.leases[stackID]; ok && current.LeaseID == leaseID {
		delete(s.leases, stackID)
	}
	return nil
}

func (s *Store) GetLease(ctx context.Context, stackID string) (*domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lease, ok := s.leases[stackID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	l := *lease
	return &l, nil
}

func (s *Store) DeleteLease(ctx context.Context, stackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, stackID)
	return nil
}

// PurgeExpired removes expired tokens and leases.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tokens {
		if !t.Valid(now) {
			delete(s.tokens, id)
			n++
		}
	}
	for id, l := range s.leases {
		if !l.Live(now) {
			delete(s.leases, id)
			n++
		}
	}
	return n, nil
}
