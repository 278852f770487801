// Package workspace keeps an in-memory mirror of a user's projects and
// blocks, synchronized with the datastore through optimistic mutation.
package workspace

import (
	"encoding/json"
	"fmt"
	"time"

	"productos/api/internal/store"
)

type Category string

const (
	CategorySaaS     Category = "saas"
	CategoryPhysical Category = "physical"
	CategoryService  Category = "service"
	CategoryOther    Category = "other"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusOnHold     Status = "on_hold"
)

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

type BlockType string

const (
	BlockText      BlockType = "text"
	BlockImage     BlockType = "image"
	BlockVideo     BlockType = "video"
	BlockLink      BlockType = "link"
	BlockFile      BlockType = "file"
	BlockChecklist BlockType = "checklist"
	BlockReminder  BlockType = "reminder"
)

// StrategicFields is the fixed-shape strategy record on a project.
type StrategicFields struct {
	MainPain       string `json:"mainPain"`
	TargetAudience string `json:"targetAudience"`
	Urgency        Level  `json:"urgency"`
	Complexity     Level  `json:"complexity"`
	ScalePotential string `json:"scalePotential"`
	Risks          string `json:"risks"`
}

// EncodeStrategicFields serializes the strategy record for storage.
func EncodeStrategicFields(fields StrategicFields) (json.RawMessage, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode strategic fields: %w", err)
	}
	return raw, nil
}

// Metadata is the per-type block payload. Each block type carries only the
// variant meaningful to it; text blocks carry none.
type Metadata interface {
	isMetadata()
}

// LinkMeta is the payload for image, video and link blocks.
type LinkMeta struct {
	URL string `json:"url,omitempty"`
}

// FileMeta is the payload for file blocks. URL points at the stored
// attachment when one was uploaded; Key is the object-storage key backing
// it, kept so the object can be removed with the block.
type FileMeta struct {
	Key      string `json:"key,omitempty"`
	URL      string `json:"url,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// ChecklistMeta is the payload for checklist blocks.
type ChecklistMeta struct {
	Completed bool         `json:"completed"`
	DueDate   *time.Time   `json:"dueDate,omitempty"`
	Status    TaskStatus   `json:"status,omitempty"`
	Priority  TaskPriority `json:"priority,omitempty"`
	Assignee  string       `json:"assignee,omitempty"`
}

// ReminderMeta is the payload for reminder blocks.
type ReminderMeta struct {
	Completed bool       `json:"completed"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
}

func (LinkMeta) isMetadata()      {}
func (FileMeta) isMetadata()      {}
func (ChecklistMeta) isMetadata() {}
func (ReminderMeta) isMetadata()  {}

// EncodeMetadata serializes a metadata variant to the stored JSON bag.
func EncodeMetadata(meta Metadata) (json.RawMessage, error) {
	if meta == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

// DecodeMetadata reads the stored JSON bag into the variant for the block
// type. Keys not meaningful to the type are ignored.
func DecodeMetadata(blockType BlockType, raw json.RawMessage) (Metadata, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	switch blockType {
	case BlockImage, BlockVideo, BlockLink:
		var meta LinkMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", blockType, err)
		}
		return meta, nil
	case BlockFile:
		var meta FileMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode file metadata: %w", err)
		}
		return meta, nil
	case BlockChecklist:
		var meta ChecklistMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode checklist metadata: %w", err)
		}
		return meta, nil
	case BlockReminder:
		var meta ReminderMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode reminder metadata: %w", err)
		}
		return meta, nil
	default:
		return nil, nil
	}
}

// Block is one typed unit of captured knowledge owned by a project.
type Block struct {
	ID        string    `json:"id"`
	Type      BlockType `json:"type"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Project is a top-level unit of work. Its block slice is exclusively owned
// by the project, ordered newest-first.
type Project struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        Category        `json:"category"`
	Description     string          `json:"description"`
	StrategicFields StrategicFields `json:"strategicFields"`
	Tags            []string        `json:"tags"`
	Status          Status          `json:"status"`
	Progress        int             `json:"progress"`
	Blocks          []Block         `json:"blocks"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Reminder is the derived view over incomplete reminder blocks.
type Reminder struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Text        string    `json:"text"`
	Date        time.Time `json:"date"`
	Completed   bool      `json:"completed"`
}

func projectFromRow(row store.ProjectRow) (Project, error) {
	var fields StrategicFields
	if len(row.StrategicFields) > 0 {
		if err := json.Unmarshal(row.StrategicFields, &fields); err != nil {
			return Project{}, fmt.Errorf("decode strategic fields: %w", err)
		}
	}
	tags, err := decodeTags(row.Tags)
	if err != nil {
		return Project{}, err
	}
	status := Status(row.Status)
	if status == "" {
		status = StatusNotStarted
	}
	return Project{
		ID:              row.ID,
		Name:            row.Name,
		Category:        Category(row.Category),
		Description:     row.Description,
		StrategicFields: fields,
		Tags:            tags,
		Status:          status,
		Progress:        row.Progress,
		Blocks:          []Block{},
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

func blockFromRow(row store.BlockRow) (Block, error) {
	meta, err := DecodeMetadata(BlockType(row.Type), row.Metadata)
	if err != nil {
		return Block{}, err
	}
	tags, err := decodeTags(row.Tags)
	if err != nil {
		return Block{}, err
	}
	return Block{
		ID:        row.ID,
		Type:      BlockType(row.Type),
		Content:   row.Content,
		Metadata:  meta,
		Tags:      tags,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func decodeTags(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func encodeTags(tags []string) json.RawMessage {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	return raw
}
