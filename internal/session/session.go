// Package session issues and validates admin bearer tokens.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidCredentials is returned when the admin password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession is returned for unknown or expired tokens.
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Session is an issued admin token.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists tokens with a TTL.
type Store interface {
	Save(ctx context.Context, token string, ttl time.Duration) error
	Exists(ctx context.Context, token string) (bool, error)
	Delete(ctx context.Context, token string) error
}

// Manager checks the admin password and tracks sessions.
type Manager struct {
	password []byte
	ttl      time.Duration
	store    Store
	now      func() time.Time
}

// NewManager creates a manager.  An empty password rejects every login.
func NewManager(password string, ttl time.Duration, store Store) *Manager {
	return &Manager{
		password: []byte(password),
		ttl:      ttl,
		store:    store,
		now:      time.Now,
	}
}

// Login issues a new token when password matches.
func (m *Manager) Login(ctx context.Context, password string) (*Session, error) {
	if len(m.password) == 0 || subtle.ConstantTimeCompare([]byte(password), m.password) != 1 {
		return nil, ErrInvalidCredentials
	}
	token := uuid.New().String()
	if err := m.store.Save(ctx, token, m.ttl); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return &Session{Token: token, ExpiresAt: m.now().Add(m.ttl).UTC()}, nil
}

// Validate reports whether token belongs to a live session.
func (m *Manager) Validate(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidSession
	}
	ok, err := m.store.Exists(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if !ok {
		return ErrInvalidSession
	}
	return nil
}

// Logout revokes token.  Unknown tokens are ignored.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RedisStore keeps sessions in Redis so they survive restarts and are
// shared between instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+token, "1", ttl).Err()
}

func (s *RedisStore) Exists(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.prefix+token).Err()
}

// MemoryStore is the single-process fallback.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for t, exp := range s.sessions {
		if now.After(exp) {
			delete(s.sessions, t)
		}
	}
	s.sessions[token] = now.Add(ttl)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[token]
	if !ok {
		return false, nil
	}
	if s.now().After(exp) {
		delete(s.sessions, token)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
