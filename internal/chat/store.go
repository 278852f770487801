package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SessionStore persists a user's whole session collection under a single
// key, rewritten on every change.
type SessionStore interface {
	LoadSessions(ctx context.Context, userID string) ([]Session, error)
	SaveSessions(ctx context.Context, userID string, sessions []Session) error
}

// RedisSessionStore keeps chat sessions in Redis.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: "chat_sessions:"}
}

func (s *RedisSessionStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisSessionStore) LoadSessions(ctx context.Context, userID string) ([]Session, error) {
	jsonData, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return []Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat sessions: %w", err)
	}
	var sessions []Session
	if err := json.Unmarshal([]byte(jsonData), &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal chat sessions: %w", err)
	}
	return sessions, nil
}

func (s *RedisSessionStore) SaveSessions(ctx context.Context, userID string, sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	jsonData, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal chat sessions: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("save chat sessions: %w", err)
	}
	return nil
}

// MemorySessionStore is the in-process fallback and test double.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string][]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]Session)}
}

func (s *MemorySessionStore) LoadSessions(_ context.Context, userID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.sessions[userID]))
	copy(out, s.sessions[userID])
	return out, nil
}

func (s *MemorySessionStore) SaveSessions(_ context.Context, userID string, sessions []Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]Session, len(sessions))
	copy(stored, sessions)
	s.sessions[userID] = stored
	return nil
}
