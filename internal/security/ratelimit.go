package security

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Attempt is the persisted failed-login counter for one email.
type Attempt struct {
	Count       int       `json:"count"`
	LastAttempt time.Time `json:"last_attempt"`
}

// CounterStore persists per-email failed-login counters.
type CounterStore interface {
	GetAttempt(ctx context.Context, email string) (Attempt, bool, error)
	PutAttempt(ctx context.Context, email string, a Attempt, ttl time.Duration) error
	ClearAttempt(ctx context.Context, email string) error
}

// RateLimitResult is the outcome of a rate-limit check.
type RateLimitResult struct {
	Allowed  bool
	WaitTime time.Duration // remaining lockout when not allowed
}

// Limiter is a sliding-window login rate limiter keyed by email.
type Limiter struct {
	store   CounterStore
	limit   int
	lockout time.Duration
	now     func() time.Time
}

func NewLimiter(store CounterStore, limit int, lockout time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, lockout: lockout, now: time.Now}
}

// Check reports whether another attempt for the email is allowed right now.
// A counter at or over the limit blocks until the lockout window has passed
// since the last failed attempt; once it has, the counter is dropped.
func (l *Limiter) Check(ctx context.Context, email string) (RateLimitResult, error) {
	attempt, ok, err := l.store.GetAttempt(ctx, email)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("read attempt counter: %w", err)
	}
	if !ok {
		return RateLimitResult{Allowed: true}, nil
	}

	if attempt.Count >= l.limit {
		passed := l.now().Sub(attempt.LastAttempt)
		if passed < l.lockout {
			return RateLimitResult{Allowed: false, WaitTime: l.lockout - passed}, nil
		}
		if err := l.store.ClearAttempt(ctx, email); err != nil {
			return RateLimitResult{}, fmt.Errorf("reset attempt counter: %w", err)
		}
	}
	return RateLimitResult{Allowed: true}, nil
}

// RecordFailure bumps the counter for the email and stamps the attempt time.
func (l *Limiter) RecordFailure(ctx context.Context, email string) error {
	attempt, _, err := l.store.GetAttempt(ctx, email)
	if err != nil {
		return fmt.Errorf("read attempt counter: %w", err)
	}
	attempt.Count++
	attempt.LastAttempt = l.now()
	// Keep the counter around for one full lockout past the last failure.
	if err := l.store.PutAttempt(ctx, email, attempt, 2*l.lockout); err != nil {
		return fmt.Errorf("write attempt counter: %w", err)
	}
	return nil
}

// Clear drops the counter after a successful sign-in.
func (l *Limiter) Clear(ctx context.Context, email string) error {
	return l.store.ClearAttempt(ctx, email)
}

// RedisCounterStore keeps counters in Redis with a TTL.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "auth_attempts:"}
}

func (s *RedisCounterStore) key(email string) string {
	return s.prefix + email
}

func (s *RedisCounterStore) GetAttempt(ctx context.Context, email string) (Attempt, bool, error) {
	jsonData, err := s.client.Get(ctx, s.key(email)).Result()
	if err == redis.Nil {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, fmt.Errorf("get attempt: %w", err)
	}
	var a Attempt
	if err := json.Unmarshal([]byte(jsonData), &a); err != nil {
		return Attempt{}, false, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return a, true, nil
}

func (s *RedisCounterStore) PutAttempt(ctx context.Context, email string, a Attempt, ttl time.Duration) error {
	jsonData, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	if err := s.client.Set(ctx, s.key(email), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("set attempt: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) ClearAttempt(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("clear attempt: %w", err)
	}
	return nil
}

// MemoryCounterStore is the in-process fallback used when Redis is not
// configured, and the test double.
type MemoryCounterStore struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{attempts: make(map[string]Attempt)}
}

func (s *MemoryCounterStore) GetAttempt(_ context.Context, email string) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[email]
	return a, ok, nil
}

func (s *MemoryCounterStore) PutAttempt(_ context.Context, email string, a Attempt, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[email] = a
	return nil
}

func (s *MemoryCounterStore) ClearAttempt(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, email)
	return nil
}
