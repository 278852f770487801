package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventKind classifies an audit event.
type EventKind string

const (
	EventLoginSuccess EventKind = "LOGIN_SUCCESS"
	EventLoginFail    EventKind = "LOGIN_FAIL"
	EventSignup       EventKind = "SIGNUP"
	EventSuspicious   EventKind = "SUSPICIOUS"
)

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      EventKind `json:"type"`
	Details   string    `json:"details"`
	ClientID  string    `json:"client_id"`
}

// EventStore is the append-only sink for audit events.
type EventStore interface {
	AppendEvent(ctx context.Context, e Event) error
	ListEvents(ctx context.Context, limit int) ([]Event, error)
}

// AuditLogger appends structured security events to persisted storage and
// mirrors them to the process log. Append failures are logged, never fatal.
type AuditLogger struct {
	store EventStore
}

func NewAuditLogger(store EventStore) *AuditLogger {
	return &AuditLogger{store: store}
}

func (a *AuditLogger) Log(ctx context.Context, kind EventKind, details, clientID string) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Details:   details,
		ClientID:  clientID,
	}
	if err := a.store.AppendEvent(ctx, event); err != nil {
		log.Printf("security: audit append failed: %v", err)
	}
	log.Printf("[SECURITY AUDIT] %s: %s", kind, details)
}

func (a *AuditLogger) Recent(ctx context.Context, limit int) ([]Event, error) {
	return a.store.ListEvents(ctx, limit)
}

const auditLogKey = "security_audit_logs"

// RedisEventStore appends events to a Redis list.
type RedisEventStore struct {
	client *redis.Client
}

func NewRedisEventStore(client *redis.Client) *RedisEventStore {
	return &RedisEventStore{client: client}
}

func (s *RedisEventStore) AppendEvent(ctx context.Context, e Event) error {
	jsonData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.client.RPush(ctx, auditLogKey, jsonData).Err(); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *RedisEventStore) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.client.LRange(ctx, auditLogKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		var e Event
		if err := json.Unmarshal([]byte(entry), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// MemoryEventStore keeps events in process memory.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) AppendEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryEventStore) ListEvents(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}
