package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	"SwarmTrader/pkg/cache"
)

const (
	leaderKey  = "scheduler:leader"
	breakerTTL = 48 * time.Hour
)

// SessionStore keeps breaker state and the latest summary in a cache.Store and
// holds the scheduler leader lock there. Backed by Redis in production.
type SessionStore struct {
	store cache.Store
}

func NewSessionStore(store cache.Store) *SessionStore {
	return &SessionStore{store: store}
}

func breakerKey(session string) string { return "session:" + session + ":breaker" }
func summaryKey(session string) string { return "session:" + session + ":summary" }

func (s *SessionStore) SaveBreaker(ctx context.Context, session string, b models.BreakerState) error {
	if err := s.store.Set(ctx, breakerKey(session), b, breakerTTL); err != nil {
		return fmt.Errorf("save breaker: %w", err)
	}
	return nil
}

// LoadBreaker returns nil, nil when nothing was saved for the session.
func (s *SessionStore) LoadBreaker(ctx context.Context, session string) (*models.BreakerState, error) {
	var b models.BreakerState
	if err := s.store.Get(ctx, breakerKey(session), &b); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load breaker: %w", err)
	}
	return &b, nil
}

func (s *SessionStore) SaveSummary(ctx context.Context, sum models.CycleSummary) error {
	return s.store.Set(ctx, summaryKey(sum.Session), sum, breakerTTL)
}

// LastSummary returns the most recent summary saved for session.
func (s *SessionStore) LastSummary(ctx context.Context, session string) (*models.CycleSummary, error) {
	var sum models.CycleSummary
	if err := s.store.Get(ctx, summaryKey(session), &sum); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &sum, nil
}

func (s *SessionStore) AcquireLeader(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return s.store.TryLock(ctx, leaderKey, owner, ttl)
}

// ReleaseLeader is a no-op when another owner has taken the lock.
func (s *SessionStore) ReleaseLeader(ctx context.Context, owner string) error {
	if err := s.store.Unlock(ctx, leaderKey, owner); err != nil && !errors.Is(err, cache.ErrNotOwner) {
		return err
	}
	return nil
}

var _ domrepo.SessionStore = (*SessionStore)(nil)
