package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"productos/api/internal/authpw"
	"productos/api/internal/chat"
	"productos/api/internal/config"
	"productos/api/internal/files"
	"productos/api/internal/search"
	"productos/api/internal/store"
	"productos/api/internal/workspace"
)

// DataStore is the persistence surface the app needs. Postgres in
// production, the in-memory store offline and in tests.
type DataStore interface {
	workspace.RemoteStore
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	Ping(ctx context.Context) error
}

// Searcher is the search surface the app drives: queries plus index
// maintenance on every project/block mutation.
type Searcher interface {
	Search(q search.Query) search.Response
	IndexProject(p search.ProjectRecord)
	IndexBlock(b search.BlockRecord)
	DeleteProject(id string)
	DeleteBlock(id string)
	ReindexAllFromPG(ctx context.Context)
}

// FileStore is the attachment storage surface.
type FileStore interface {
	Upload(ctx context.Context, userID, fileName, contentType string, size int64, r io.Reader) (files.Attachment, error)
	Delete(ctx context.Context, key string) error
}

// Service wires the auth, workspace, chat, search, and file subsystems
// behind the HTTP surface. Workspace mirrors and chat managers are created
// per user on first use and cached for the life of the process.
type Service struct {
	cfg       config.Config
	store     DataStore
	auth      *authpw.Service
	search    Searcher
	files     FileStore
	chatStore chat.SessionStore
	completer chat.Completer

	seedDemo bool

	mu         sync.Mutex
	workspaces map[string]*workspace.Store
	chats      map[string]*chat.Manager
}

func New(cfg config.Config, dataStore DataStore, auth *authpw.Service, searchSvc Searcher, filesSvc FileStore, chatStore chat.SessionStore, completer chat.Completer) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		auth:       auth,
		search:     searchSvc,
		files:      filesSvc,
		chatStore:  chatStore,
		completer:  completer,
		workspaces: make(map[string]*workspace.Store),
		chats:      make(map[string]*chat.Manager),
	}
}

// EnableDemoSeed makes Bootstrap create a demo account with sample content.
// Used when running against the in-memory store.
func (s *Service) EnableDemoSeed() {
	s.seedDemo = true
}

// Auth exposes the authentication service to the HTTP layer.
func (s *Service) Auth() *authpw.Service {
	return s.auth
}

// FilesEnabled reports whether object storage is configured.
func (s *Service) FilesEnabled() bool {
	return s.files != nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds a demo workspace on first start when demo seeding is
// enabled, and warms the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}

	if !s.seedDemo {
		return nil
	}

	const demoEmail = "demo@productos.dev"
	if _, err := s.store.GetUserByEmail(ctx, demoEmail); err == nil {
		return nil
	}

	if err := s.auth.SignUp(ctx, demoEmail, "Demo1234!", "bootstrap"); err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}
	owner, err := s.store.GetUserByEmail(ctx, demoEmail)
	if err != nil {
		return fmt.Errorf("load demo user: %w", err)
	}

	ws, err := s.Workspace(ctx, owner.ID)
	if err != nil {
		return err
	}

	projectID, err := ws.AddProject(ctx, workspace.AddProjectInput{
		Name:        "Launch checklist",
		Category:    workspace.CategorySaaS,
		Description: "Everything needed before the first public release.",
		StrategicFields: workspace.StrategicFields{
			MainPain:       "No single view of launch readiness",
			TargetAudience: "Indie founders",
			Urgency:        workspace.LevelHigh,
			Complexity:     workspace.LevelMedium,
			ScalePotential: "High",
		},
		Tags: []string{"launch", "demo"},
	})
	if err != nil {
		return fmt.Errorf("seed demo project: %w", err)
	}

	due := time.Now().Add(72 * time.Hour)
	seeds := []workspace.AddBlockInput{
		{Type: workspace.BlockText, Content: "Write the announcement post and schedule it."},
		{Type: workspace.BlockChecklist, Content: "Verify billing flows end to end", Metadata: workspace.ChecklistMeta{Status: workspace.TaskInProgress, Priority: workspace.PriorityHigh}},
		{Type: workspace.BlockReminder, Content: "Send early-access invites", Metadata: workspace.ReminderMeta{DueDate: &due}},
	}
	for _, seed := range seeds {
		if _, err := ws.AddBlock(ctx, projectID, seed); err != nil {
			return fmt.Errorf("seed demo block: %w", err)
		}
	}
	return nil
}

// Workspace returns the cached per-user mirror, loading it from the
// datastore on first access.
func (s *Service) Workspace(ctx context.Context, userID string) (*workspace.Store, error) {
	s.mu.Lock()
	ws, ok := s.workspaces[userID]
	if !ok {
		ws = workspace.New(s.store)
		s.workspaces[userID] = ws
	}
	s.mu.Unlock()

	if !ok {
		if err := ws.FetchAll(ctx, userID); err != nil {
			s.mu.Lock()
			delete(s.workspaces, userID)
			s.mu.Unlock()
			return nil, err
		}
	}
	return ws, nil
}

// Chat returns the cached per-user chat manager, restoring its persisted
// sessions on first access. The manager reads project context from the same
// user's workspace mirror.
func (s *Service) Chat(ctx context.Context, userID string) (*chat.Manager, error) {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	manager, ok := s.chats[userID]
	if !ok {
		manager = chat.NewManager(s.completer, s.chatStore, ws, s.cfg.ChatModel)
		s.chats[userID] = manager
	}
	s.mu.Unlock()

	if !ok {
		if err := manager.Load(ctx, userID); err != nil {
			s.mu.Lock()
			delete(s.chats, userID)
			s.mu.Unlock()
			return nil, err
		}
	}
	return manager, nil
}

// DropUser evicts a user's cached state after sign-out.
func (s *Service) DropUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.workspaces[userID]; ok {
		ws.Clear()
		delete(s.workspaces, userID)
	}
	if manager, ok := s.chats[userID]; ok {
		manager.Stop()
		delete(s.chats, userID)
	}
}

// Project payloads

type CreateProjectInput struct {
	Name            string                     `json:"name"`
	Category        string                     `json:"category"`
	Description     string                     `json:"description"`
	StrategicFields *workspace.StrategicFields `json:"strategicFields"`
	Tags            []string                   `json:"tags"`
}

type UpdateProjectInput struct {
	Name            *string                    `json:"name"`
	Category        *string                    `json:"category"`
	Description     *string                    `json:"description"`
	StrategicFields *workspace.StrategicFields `json:"strategicFields"`
	Tags            *[]string                  `json:"tags"`
	Status          *string                    `json:"status"`
	Progress        *int                       `json:"progress"`
}

type CreateBlockInput struct {
	Type     string          `json:"type"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
	Tags     []string        `json:"tags"`
}

type UpdateBlockInput struct {
	Content  *string         `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
	Tags     *[]string       `json:"tags"`
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]workspace.Project, error) {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ws.Projects(), nil
}

func (s *Service) GetProject(ctx context.Context, userID, projectID string) (workspace.Project, error) {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return workspace.Project{}, err
	}
	project, ok := ws.GetProject(projectID)
	if !ok {
		return workspace.Project{}, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	}
	return project, nil
}

func (s *Service) CreateProject(ctx context.Context, userID string, input CreateProjectInput) (workspace.Project, error) {
	if input.Name == "" {
		return workspace.Project{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return workspace.Project{}, err
	}

	in := workspace.AddProjectInput{
		Name:        input.Name,
		Category:    workspace.Category(input.Category),
		Description: input.Description,
		Tags:        input.Tags,
	}
	if input.StrategicFields != nil {
		in.StrategicFields = *input.StrategicFields
	}

	id, err := ws.AddProject(ctx, in)
	if err != nil {
		return workspace.Project{}, err
	}

	project, err := s.GetProject(ctx, userID, id)
	if err != nil {
		return workspace.Project{}, err
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			Category:    string(project.Category),
			Status:      string(project.Status),
			OwnerID:     userID,
		})
	}
	return project, nil
}

func (s *Service) UpdateProject(ctx context.Context, userID, projectID string, input UpdateProjectInput) (workspace.Project, error) {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return workspace.Project{}, err
	}

	updates := workspace.ProjectUpdate{
		Name:            input.Name,
		Description:     input.Description,
		StrategicFields: input.StrategicFields,
		Tags:            input.Tags,
		Progress:        input.Progress,
	}
	if input.Category != nil {
		category := workspace.Category(*input.Category)
		updates.Category = &category
	}
	if input.Status != nil {
		status := workspace.Status(*input.Status)
		updates.Status = &status
	}

	if err := ws.UpdateProject(ctx, projectID, updates); err != nil {
		return workspace.Project{}, err
	}

	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return workspace.Project{}, err
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			Category:    string(project.Category),
			Status:      string(project.Status),
			OwnerID:     userID,
		})
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return err
	}

	// The datastore cascades the block rows; their search documents and
	// block ids have to be collected before the mirror forgets them.
	var blockIDs []string
	if project, ok := ws.GetProject(projectID); ok {
		for _, block := range project.Blocks {
			blockIDs = append(blockIDs, block.ID)
		}
	}

	if err := ws.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
		for _, blockID := range blockIDs {
			s.search.DeleteBlock(blockID)
		}
	}
	return nil
}

func (s *Service) CreateBlock(ctx context.Context, userID, projectID string, input CreateBlockInput) (workspace.Block, error) {
	blockType := workspace.BlockType(input.Type)
	meta, err := workspace.DecodeMetadata(blockType, input.Metadata)
	if err != nil {
		return workspace.Block{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return workspace.Block{}, err
	}

	blockID, err := ws.AddBlock(ctx, projectID, workspace.AddBlockInput{
		Type:     blockType,
		Content:  input.Content,
		Metadata: meta,
		Tags:     input.Tags,
	})
	if err != nil {
		return workspace.Block{}, err
	}

	block, err := s.findBlock(ctx, userID, projectID, blockID)
	if err != nil {
		return workspace.Block{}, err
	}
	if s.search != nil {
		s.search.IndexBlock(search.BlockRecord{
			ID:        block.ID,
			Content:   block.Content,
			Type:      string(block.Type),
			ProjectID: projectID,
			OwnerID:   userID,
		})
	}
	return block, nil
}

func (s *Service) UpdateBlock(ctx context.Context, userID, projectID, blockID string, input UpdateBlockInput) (workspace.Block, error) {
	current, err := s.findBlock(ctx, userID, projectID, blockID)
	if err != nil {
		return workspace.Block{}, err
	}

	updates := workspace.BlockUpdate{
		Content: input.Content,
		Tags:    input.Tags,
	}
	if len(input.Metadata) > 0 {
		meta, err := workspace.DecodeMetadata(current.Type, input.Metadata)
		if err != nil {
			return workspace.Block{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		updates.Metadata = meta
	}

	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return workspace.Block{}, err
	}
	if err := ws.UpdateBlock(ctx, projectID, blockID, updates); err != nil {
		return workspace.Block{}, err
	}

	block, err := s.findBlock(ctx, userID, projectID, blockID)
	if err != nil {
		return workspace.Block{}, err
	}
	if s.search != nil {
		s.search.IndexBlock(search.BlockRecord{
			ID:        block.ID,
			Content:   block.Content,
			Type:      string(block.Type),
			ProjectID: projectID,
			OwnerID:   userID,
		})
	}
	return block, nil
}

func (s *Service) DeleteBlock(ctx context.Context, userID, projectID, blockID string) error {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return err
	}

	block, err := s.findBlock(ctx, userID, projectID, blockID)
	if err != nil {
		return err
	}

	if err := ws.DeleteBlock(ctx, projectID, blockID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteBlock(blockID)
	}
	if s.files != nil {
		if meta, ok := block.Metadata.(workspace.FileMeta); ok && meta.Key != "" {
			if err := s.files.Delete(ctx, meta.Key); err != nil {
				log.Printf("app: delete attachment %s: %v", meta.Key, err)
			}
		}
	}
	return nil
}

func (s *Service) findBlock(ctx context.Context, userID, projectID, blockID string) (workspace.Block, error) {
	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return workspace.Block{}, err
	}
	for _, block := range project.Blocks {
		if block.ID == blockID {
			return block, nil
		}
	}
	return workspace.Block{}, domainError(http.StatusNotFound, "NOT_FOUND", "Block not found", nil)
}

func (s *Service) Reminders(ctx context.Context, userID string) ([]workspace.Reminder, error) {
	ws, err := s.Workspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ws.Reminders(), nil
}

// Search runs a full-text query scoped to the user's workspace.
func (s *Service) Search(ctx context.Context, userID, text, filterType, projectID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		OwnerID:         userID,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// Upload stores a block attachment and returns its metadata.
func (s *Service) Upload(ctx context.Context, userID, fileName, contentType string, size int64, r io.Reader) (files.Attachment, error) {
	if s.files == nil {
		return files.Attachment{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	return s.files.Upload(ctx, userID, fileName, contentType, size, r)
}

// SendChat streams one assistant turn, forwarding chunks to onDelta.
func (s *Service) SendChat(ctx context.Context, userID, text string, file *chat.Attachment, mode chat.Mode, opts chat.Options, onDelta func(chunk string)) (chat.Message, error) {
	if s.completer == nil {
		return chat.Message{}, domainError(http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "Chat is not configured", nil)
	}
	manager, err := s.Chat(ctx, userID)
	if err != nil {
		return chat.Message{}, err
	}
	return manager.SendMessage(ctx, text, file, mode, opts, onDelta)
}
