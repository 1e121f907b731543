package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User    // by ID
	sessions map[string]*Session // by token hash
	accounts map[string]*Account // by provider + provider account ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		accounts: make(map[string]*Account),
	}
}

func accountKey(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

func (s *MemoryStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) && u.Email != "" {
			return ErrEmailTaken
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) && email != "" {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	for key, a := range s.accounts {
		if a.UserID == id {
			delete(s.accounts, key)
		}
	}
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context, after time.Time, afterID string, limit int) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	out := make([]*User, 0, limit)
	for _, u := range all {
		if !after.IsZero() {
			if u.CreatedAt.Before(after) {
				continue
			}
			if u.CreatedAt.Equal(after) && u.ID <= afterID {
				continue
			}
		}
		out = append(out, u)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.Token = "" // raw token is never stored
	s.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) GetSessionByTokenHash(_ context.Context, hash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[hash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) DeleteSessionByTokenHash(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[hash]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, hash)
	return nil
}

func (s *MemoryStore) DeleteUserSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, hash)
		}
	}
	return nil
}

func (s *MemoryStore) CountActiveSessions(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var n int64
	for _, sess := range s.sessions {
		if sess.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[accountKey(a.Provider, a.ProviderAccountID)] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, provider, providerAccountID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountsByUser(_ context.Context, userID string) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
