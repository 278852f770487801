package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ProjectRow is the persisted shape of a project. StrategicFields and Tags
// are stored as JSON blobs; the workspace layer owns the typed view.
type ProjectRow struct {
	ID              string
	UserID          string
	Name            string
	Category        string
	Description     string
	StrategicFields json.RawMessage
	Tags            json.RawMessage
	Status          string
	Progress        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BlockRow is the persisted shape of a block. Metadata is a JSON blob whose
// recognized keys depend on the block type.
type BlockRow struct {
	ID        string
	UserID    string
	ProjectID string
	Type      string
	Content   string
	Metadata  json.RawMessage
	Tags      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
