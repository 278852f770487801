package workspace

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"productos/api/internal/store"
	"productos/api/internal/util"
)

// RemoteStore is the datastore behind the in-memory mirror. Postgres in
// production, the memory store offline and in tests.
type RemoteStore interface {
	ListProjects(ctx context.Context, userID string) ([]store.ProjectRow, error)
	ListBlocks(ctx context.Context, userID string) ([]store.BlockRow, error)
	InsertProject(ctx context.Context, row store.ProjectRow) (store.ProjectRow, error)
	UpdateProject(ctx context.Context, id string, fields map[string]any) error
	DeleteProject(ctx context.Context, id string) error
	InsertBlock(ctx context.Context, row store.BlockRow) (store.BlockRow, error)
	UpdateBlock(ctx context.Context, id string, fields map[string]any) error
	DeleteBlock(ctx context.Context, id string) error
}

// Store mirrors one user's projects in memory and keeps the mirror
// eventually consistent with the datastore. Every mutation is applied
// locally first and rolled back if the remote write fails, so the mirror
// never diverges silently from the datastore.
//
// The mutex guards only local state; it is never held across a remote call.
// Overlapping operations on the same entity therefore race at the remote
// layer and the last response to land wins, which is accepted.
type Store struct {
	remote RemoteStore

	mu       sync.RWMutex
	userID   string
	projects []Project
	loading  bool

	notify func(message string)
}

func New(remote RemoteStore) *Store {
	return &Store{
		remote: remote,
		notify: func(message string) { log.Printf("workspace: %s", message) },
	}
}

// SetNotifier replaces the user-facing failure notifier (the toast channel).
func (s *Store) SetNotifier(notify func(message string)) {
	if notify != nil {
		s.notify = notify
	}
}

// FetchAll loads all projects and blocks for the user in two bulk reads,
// joins blocks to their owning project and sorts them newest-first. It runs
// at session start and again whenever the user changes.
func (s *Store) FetchAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.userID = userID
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	projectRows, err := s.remote.ListProjects(ctx, userID)
	if err != nil {
		s.notify("failed to load projects")
		return fmt.Errorf("fetch projects: %w", err)
	}
	blockRows, err := s.remote.ListBlocks(ctx, userID)
	if err != nil {
		s.notify("failed to load blocks")
		return fmt.Errorf("fetch blocks: %w", err)
	}

	blocksByProject := make(map[string][]Block, len(projectRows))
	for _, row := range blockRows {
		block, err := blockFromRow(row)
		if err != nil {
			return err
		}
		blocksByProject[row.ProjectID] = append(blocksByProject[row.ProjectID], block)
	}

	projects := make([]Project, 0, len(projectRows))
	for _, row := range projectRows {
		project, err := projectFromRow(row)
		if err != nil {
			return err
		}
		blocks := blocksByProject[row.ID]
		sort.Slice(blocks, func(i, j int) bool {
			return blocks[i].CreatedAt.After(blocks[j].CreatedAt)
		})
		if blocks == nil {
			blocks = []Block{}
		}
		project.Blocks = blocks
		projects = append(projects, project)
	}

	s.mu.Lock()
	s.projects = projects
	s.mu.Unlock()
	return nil
}

// Clear drops the mirror, for sign-out.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.projects = nil
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Projects returns a snapshot copy of the mirror.
func (s *Store) Projects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Project, len(s.projects))
	for i, project := range s.projects {
		out[i] = copyProject(project)
	}
	return out
}

// GetProject returns a snapshot of one project.
func (s *Store) GetProject(id string) (Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, project := range s.projects {
		if project.ID == id {
			return copyProject(project), true
		}
	}
	return Project{}, false
}

// AddProjectInput carries the caller-supplied fields of a new project.
// Status and progress are not accepted: new projects always start
// not-started at 0%.
type AddProjectInput struct {
	Name            string
	Category        Category
	Description     string
	StrategicFields StrategicFields
	Tags            []string
}

// AddProject inserts the project at the front of the mirror immediately,
// then persists it. On success the server-assigned timestamps replace the
// optimistic ones in place; on failure the entry is removed again and the
// error returned.
func (s *Store) AddProject(ctx context.Context, in AddProjectInput) (string, error) {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	if userID == "" {
		return "", fmt.Errorf("no user loaded")
	}

	now := time.Now().UTC()
	project := Project{
		ID:              util.NewID("proj"),
		Name:            in.Name,
		Category:        in.Category,
		Description:     in.Description,
		StrategicFields: in.StrategicFields,
		Tags:            append([]string{}, in.Tags...),
		Status:          StatusNotStarted,
		Progress:        0,
		Blocks:          []Block{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	s.projects = append([]Project{project}, s.projects...)
	s.mu.Unlock()

	fieldsRaw, err := EncodeStrategicFields(project.StrategicFields)
	if err != nil {
		s.removeProject(project.ID)
		return "", err
	}
	inserted, err := s.remote.InsertProject(ctx, store.ProjectRow{
		ID:              project.ID,
		UserID:          userID,
		Name:            project.Name,
		Category:        string(project.Category),
		Description:     project.Description,
		StrategicFields: fieldsRaw,
		Tags:            encodeTags(project.Tags),
		Status:          string(project.Status),
		Progress:        project.Progress,
	})
	if err != nil {
		s.removeProject(project.ID)
		s.notify("failed to create project")
		return "", fmt.Errorf("insert project: %w", err)
	}

	s.mu.Lock()
	for i := range s.projects {
		if s.projects[i].ID == inserted.ID {
			s.projects[i].CreatedAt = inserted.CreatedAt
			s.projects[i].UpdatedAt = inserted.UpdatedAt
			s.projects[i].Status = Status(inserted.Status)
			s.projects[i].Progress = inserted.Progress
			break
		}
	}
	s.mu.Unlock()
	return inserted.ID, nil
}

// ProjectUpdate carries the partial fields of a project update. Nil means
// leave unchanged.
type ProjectUpdate struct {
	Name            *string
	Category        *Category
	Description     *string
	StrategicFields *StrategicFields
	Tags            *[]string
	Status          *Status
	Progress        *int
}

// UpdateProject merges the partial fields into the mirror immediately and
// stamps a new update time, then persists only the changed columns. On
// failure the previous values are restored.
func (s *Store) UpdateProject(ctx context.Context, id string, updates ProjectUpdate) error {
	fields := make(map[string]any)

	s.mu.Lock()
	idx := s.projectIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	snapshot := s.projects[idx]
	snapshot.Blocks = nil // block list is not touched by a project update

	project := &s.projects[idx]
	if updates.Name != nil {
		project.Name = *updates.Name
		fields["name"] = *updates.Name
	}
	if updates.Category != nil {
		project.Category = *updates.Category
		fields["category"] = string(*updates.Category)
	}
	if updates.Description != nil {
		project.Description = *updates.Description
		fields["description"] = *updates.Description
	}
	if updates.StrategicFields != nil {
		project.StrategicFields = *updates.StrategicFields
		raw, err := EncodeStrategicFields(*updates.StrategicFields)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		fields["strategic_fields"] = raw
	}
	if updates.Tags != nil {
		project.Tags = append([]string{}, (*updates.Tags)...)
		fields["tags"] = encodeTags(*updates.Tags)
	}
	if updates.Status != nil {
		project.Status = *updates.Status
		fields["status"] = string(*updates.Status)
	}
	if updates.Progress != nil {
		if *updates.Progress < 0 || *updates.Progress > 100 {
			s.mu.Unlock()
			return fmt.Errorf("progress %d out of range", *updates.Progress)
		}
		project.Progress = *updates.Progress
		fields["progress"] = *updates.Progress
	}
	project.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if len(fields) == 0 {
		return nil
	}

	if err := s.remote.UpdateProject(ctx, id, fields); err != nil {
		s.mu.Lock()
		if idx := s.projectIndex(id); idx >= 0 {
			blocks := s.projects[idx].Blocks
			s.projects[idx] = snapshot
			s.projects[idx].Blocks = blocks
		}
		s.mu.Unlock()
		s.notify("failed to update project")
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// DeleteProject removes the project from the mirror immediately, then from
// the datastore. On failure it is reinserted at its previous position.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.projectIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	snapshot := s.projects[idx]
	s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	s.mu.Unlock()

	if err := s.remote.DeleteProject(ctx, id); err != nil {
		s.mu.Lock()
		if idx > len(s.projects) {
			idx = len(s.projects)
		}
		s.projects = append(s.projects[:idx], append([]Project{snapshot}, s.projects[idx:]...)...)
		s.mu.Unlock()
		s.notify("failed to delete project")
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// AddBlockInput carries the caller-supplied fields of a new block.
type AddBlockInput struct {
	Type     BlockType
	Content  string
	Metadata Metadata
	Tags     []string
}

// AddBlock prepends a block carrying a temporary id to the owning project's
// list, then persists it. On success the temporary block is swapped for the
// confirmed one by matching the temporary id, preserving list order. On
// failure the temporary block is removed.
func (s *Store) AddBlock(ctx context.Context, projectID string, in AddBlockInput) (string, error) {
	s.mu.Lock()
	userID := s.userID
	idx := s.projectIndex(projectID)
	if idx < 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}

	now := time.Now().UTC()
	tempID := util.NewID("tmp")
	tempBlock := Block{
		ID:        tempID,
		Type:      in.Type,
		Content:   in.Content,
		Metadata:  in.Metadata,
		Tags:      append([]string{}, in.Tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.projects[idx].Blocks = append([]Block{tempBlock}, s.projects[idx].Blocks...)
	s.mu.Unlock()

	metaRaw, err := EncodeMetadata(in.Metadata)
	if err != nil {
		s.removeBlock(projectID, tempID)
		return "", err
	}
	inserted, err := s.remote.InsertBlock(ctx, store.BlockRow{
		ID:        util.NewID("blk"),
		UserID:    userID,
		ProjectID: projectID,
		Type:      string(in.Type),
		Content:   in.Content,
		Metadata:  metaRaw,
		Tags:      encodeTags(in.Tags),
	})
	if err != nil {
		s.removeBlock(projectID, tempID)
		s.notify("failed to add block")
		return "", fmt.Errorf("insert block: %w", err)
	}

	confirmed, err := blockFromRow(inserted)
	if err != nil {
		s.removeBlock(projectID, tempID)
		return "", err
	}

	s.mu.Lock()
	if idx := s.projectIndex(projectID); idx >= 0 {
		blocks := s.projects[idx].Blocks
		for i := range blocks {
			if blocks[i].ID == tempID {
				blocks[i] = confirmed
				break
			}
		}
	}
	s.mu.Unlock()
	return confirmed.ID, nil
}

// BlockUpdate carries the partial fields of a block update. Nil means leave
// unchanged.
type BlockUpdate struct {
	Content  *string
	Metadata Metadata
	Tags     *[]string
}

// UpdateBlock merges the partial fields into the mirror immediately, then
// persists only the changed columns. On failure the previous block is
// restored.
func (s *Store) UpdateBlock(ctx context.Context, projectID, blockID string, updates BlockUpdate) error {
	fields := make(map[string]any)

	s.mu.Lock()
	idx := s.projectIndex(projectID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	blocks := s.projects[idx].Blocks
	blockIdx := -1
	for i := range blocks {
		if blocks[i].ID == blockID {
			blockIdx = i
			break
		}
	}
	if blockIdx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("block %s: %w", blockID, store.ErrNotFound)
	}
	snapshot := blocks[blockIdx]

	if updates.Content != nil {
		blocks[blockIdx].Content = *updates.Content
		fields["content"] = *updates.Content
	}
	if updates.Metadata != nil {
		raw, err := EncodeMetadata(updates.Metadata)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		blocks[blockIdx].Metadata = updates.Metadata
		fields["metadata"] = raw
	}
	if updates.Tags != nil {
		blocks[blockIdx].Tags = append([]string{}, (*updates.Tags)...)
		fields["tags"] = encodeTags(*updates.Tags)
	}
	blocks[blockIdx].UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if len(fields) == 0 {
		return nil
	}

	if err := s.remote.UpdateBlock(ctx, blockID, fields); err != nil {
		s.mu.Lock()
		if idx := s.projectIndex(projectID); idx >= 0 {
			blocks := s.projects[idx].Blocks
			for i := range blocks {
				if blocks[i].ID == blockID {
					blocks[i] = snapshot
					break
				}
			}
		}
		s.mu.Unlock()
		s.notify("failed to update block")
		return fmt.Errorf("update block: %w", err)
	}
	return nil
}

// DeleteBlock removes the block from the mirror immediately, then from the
// datastore. On failure it is reinserted at its previous position.
func (s *Store) DeleteBlock(ctx context.Context, projectID, blockID string) error {
	s.mu.Lock()
	idx := s.projectIndex(projectID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	blocks := s.projects[idx].Blocks
	blockIdx := -1
	for i := range blocks {
		if blocks[i].ID == blockID {
			blockIdx = i
			break
		}
	}
	if blockIdx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("block %s: %w", blockID, store.ErrNotFound)
	}
	snapshot := blocks[blockIdx]
	s.projects[idx].Blocks = append(blocks[:blockIdx], blocks[blockIdx+1:]...)
	s.mu.Unlock()

	if err := s.remote.DeleteBlock(ctx, blockID); err != nil {
		s.mu.Lock()
		if idx := s.projectIndex(projectID); idx >= 0 {
			blocks := s.projects[idx].Blocks
			if blockIdx > len(blocks) {
				blockIdx = len(blocks)
			}
			s.projects[idx].Blocks = append(blocks[:blockIdx], append([]Block{snapshot}, blocks[blockIdx:]...)...)
		}
		s.mu.Unlock()
		s.notify("failed to delete block")
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// Reminders projects all incomplete reminder blocks across every project,
// sorted by due date ascending, falling back to creation date. Recomputed on
// every call, never cached.
func (s *Store) Reminders() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reminders []Reminder
	for _, project := range s.projects {
		for _, block := range project.Blocks {
			if block.Type != BlockReminder {
				continue
			}
			meta, _ := block.Metadata.(ReminderMeta)
			if meta.Completed {
				continue
			}
			date := block.CreatedAt
			if meta.DueDate != nil {
				date = *meta.DueDate
			}
			reminders = append(reminders, Reminder{
				ID:          block.ID,
				ProjectID:   project.ID,
				ProjectName: project.Name,
				Text:        block.Content,
				Date:        date,
				Completed:   meta.Completed,
			})
		}
	}
	sort.Slice(reminders, func(i, j int) bool {
		return reminders[i].Date.Before(reminders[j].Date)
	})
	return reminders
}

// projectIndex must be called with the mutex held.
func (s *Store) projectIndex(id string) int {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeProject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.projectIndex(id); idx >= 0 {
		s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	}
}

func (s *Store) removeBlock(projectID, blockID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.projectIndex(projectID)
	if idx < 0 {
		return
	}
	blocks := s.projects[idx].Blocks
	for i := range blocks {
		if blocks[i].ID == blockID {
			s.projects[idx].Blocks = append(blocks[:i], blocks[i+1:]...)
			return
		}
	}
}

func copyProject(project Project) Project {
	out := project
	out.Tags = append([]string{}, project.Tags...)
	out.Blocks = make([]Block, len(project.Blocks))
	for i, block := range project.Blocks {
		out.Blocks[i] = block
		out.Blocks[i].Tags = append([]string{}, block.Tags...)
	}
	return out
}
