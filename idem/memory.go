package idem

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/tripguard/clock"
)

type memoryLock struct {
	token     LockToken
	expiresAt time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	prefix  string
	clock   clock.Clock
	locks   map[string]memoryLock
	results map[string]memoryEntry
}

func newMemoryStore(prefix string, clk clock.Clock) *memoryStore {
	return &memoryStore{
		prefix:  prefix,
		clock:   clock.OrReal(clk),
		locks:   make(map[string]memoryLock),
		results: make(map[string]memoryEntry),
	}
}

func (s *memoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	token, err := newLockToken()
	if err != nil {
		return "", false, err
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.prefix + key
	if l, ok := s.locks[k]; ok && l.expiresAt.After(now) {
		return "", false, nil
	}
	s.locks[k] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (s *memoryStore) Unlock(_ context.Context, key string, token LockToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.prefix + key
	if l, ok := s.locks[k]; ok && l.token == token {
		delete(s.locks, k)
	}
	return nil
}

func (s *memoryStore) SetResult(_ context.Context, key string, val []byte, ttl time.Duration, token LockToken) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.prefix + key
	l, ok := s.locks[k]
	if !ok || l.token != token || !l.expiresAt.After(now) {
		return errLockLost
	}
	delete(s.locks, k)
	s.results[k] = memoryEntry{value: append([]byte(nil), val...), expiresAt: now.Add(ttl)}
	return nil
}

func (s *memoryStore) GetResult(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.prefix + key
	e, ok := s.results[k]
	if !ok {
		return nil, ErrResultNotFound
	}
	if !e.expiresAt.After(now) {
		delete(s.results, k)
		return nil, ErrResultNotFound
	}
	return append([]byte(nil), e.value...), nil
}
