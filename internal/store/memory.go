package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the offline double for the Postgres store. It backs the
// service when DATABASE_URL is unset and the store-facing tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	emails   map[string]string // lower(email) -> user id
	sessions map[string]refreshSession
	projects map[string]ProjectRow
	blocks   map[string]BlockRow
	now      func() time.Time
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		emails:   make(map[string]string),
		sessions: make(map[string]refreshSession),
		projects: make(map[string]ProjectRow),
		blocks:   make(map[string]BlockRow),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = user
	s.emails[strings.ToLower(user.Email)] = user.ID
	return nil
}

func (s *MemoryStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	user.UpdatedAt = s.now()
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) VerifyUserEmail(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, user := range s.users {
		if user.VerificationToken != token || token == "" {
			continue
		}
		if user.VerificationExpiresAt != nil && s.now().After(*user.VerificationExpiresAt) {
			return ErrNotFound
		}
		user.IsEmailVerified = true
		user.VerificationToken = ""
		user.VerificationExpiresAt = nil
		user.UpdatedAt = s.now()
		s.users[id] = user
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = refreshSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[tokenHash]
	if !ok || session.revoked || s.now().After(session.expiresAt) {
		return User{}, ErrNotFound
	}
	user, ok := s.users[session.userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil
	}
	session.revoked = true
	s.sessions[tokenHash] = session
	return nil
}

func (s *MemoryStore) ListProjects(_ context.Context, userID string) ([]ProjectRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var projects []ProjectRow
	for _, row := range s.projects {
		if row.UserID == userID {
			projects = append(projects, row)
		}
	}
	// newest first, matching the Postgres ORDER BY
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *MemoryStore) InsertProject(_ context.Context, row ProjectRow) (ProjectRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	row.CreatedAt = now
	row.UpdatedAt = now
	s.projects[row.ID] = row
	return row, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.projects[id]
	if !ok {
		return ErrNotFound
	}
	for column, value := range fields {
		switch column {
		case "name":
			row.Name = value.(string)
		case "category":
			row.Category = value.(string)
		case "description":
			row.Description = value.(string)
		case "strategic_fields":
			row.StrategicFields = toRaw(value)
		case "tags":
			row.Tags = toRaw(value)
		case "status":
			row.Status = value.(string)
		case "progress":
			row.Progress = value.(int)
		}
	}
	row.UpdatedAt = s.now()
	s.projects[id] = row
	return nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	delete(s.projects, id)
	for blockID, block := range s.blocks {
		if block.ProjectID == id {
			delete(s.blocks, blockID)
		}
	}
	return nil
}

func (s *MemoryStore) ListBlocks(_ context.Context, userID string) ([]BlockRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var blocks []BlockRow
	for _, row := range s.blocks {
		if row.UserID == userID {
			blocks = append(blocks, row)
		}
	}
	return blocks, nil
}

func (s *MemoryStore) InsertBlock(_ context.Context, row BlockRow) (BlockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[row.ProjectID]; !ok {
		return BlockRow{}, ErrNotFound
	}
	now := s.now()
	row.CreatedAt = now
	row.UpdatedAt = now
	s.blocks[row.ID] = row
	return row, nil
}

func (s *MemoryStore) UpdateBlock(_ context.Context, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.blocks[id]
	if !ok {
		return ErrNotFound
	}
	for column, value := range fields {
		switch column {
		case "content":
			row.Content = value.(string)
		case "metadata":
			row.Metadata = toRaw(value)
		case "tags":
			row.Tags = toRaw(value)
		}
	}
	row.UpdatedAt = s.now()
	s.blocks[id] = row
	return nil
}

func (s *MemoryStore) DeleteBlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[id]; !ok {
		return ErrNotFound
	}
	delete(s.blocks, id)
	return nil
}

func toRaw(value any) json.RawMessage {
	switch v := value.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		raw, _ := json.Marshal(v)
		return raw
	}
}
