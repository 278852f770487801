package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"productos/api/internal/chat"
	"productos/api/internal/config"
	"productos/api/internal/files"
	"productos/api/internal/search"
	"productos/api/internal/store"
)

// recordingSearch captures index maintenance calls so tests can assert the
// hooks fire on every mutation.
type recordingSearch struct {
	mu              sync.Mutex
	indexedProjects []search.ProjectRecord
	indexedBlocks   []search.BlockRecord
	deletedProjects []string
	deletedBlocks   []string
}

func (r *recordingSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (r *recordingSearch) IndexProject(p search.ProjectRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexedProjects = append(r.indexedProjects, p)
}

func (r *recordingSearch) IndexBlock(b search.BlockRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexedBlocks = append(r.indexedBlocks, b)
}

func (r *recordingSearch) DeleteProject(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedProjects = append(r.deletedProjects, id)
}

func (r *recordingSearch) DeleteBlock(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedBlocks = append(r.deletedBlocks, id)
}

func (r *recordingSearch) ReindexAllFromPG(context.Context) {}

type recordingFiles struct {
	mu      sync.Mutex
	deleted []string
}

func (r *recordingFiles) Upload(_ context.Context, _, fileName, contentType string, size int64, _ io.Reader) (files.Attachment, error) {
	return files.Attachment{FileName: fileName, FileType: contentType, FileSize: size}, nil
}

func (r *recordingFiles) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, key)
	return nil
}

func newHookedService(t *testing.T) (*Service, *recordingSearch, *recordingFiles) {
	t.Helper()
	searchRec := &recordingSearch{}
	filesRec := &recordingFiles{}
	svc := New(config.Config{}, store.NewMemoryStore(), nil, searchRec, filesRec, chat.NewMemorySessionStore(), nil)
	return svc, searchRec, filesRec
}

const hookUser = "usr_hooks"

func TestCreateProjectIndexesForSearch(t *testing.T) {
	svc, searchRec, _ := newHookedService(t)
	ctx := context.Background()

	project, err := svc.CreateProject(ctx, hookUser, CreateProjectInput{Name: "Atlas", Description: "Mapping"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	searchRec.mu.Lock()
	defer searchRec.mu.Unlock()
	if len(searchRec.indexedProjects) != 1 {
		t.Fatalf("expected 1 indexed project, got %d", len(searchRec.indexedProjects))
	}
	record := searchRec.indexedProjects[0]
	if record.ID != project.ID || record.Name != "Atlas" || record.OwnerID != hookUser {
		t.Errorf("indexed record %+v does not match created project %s", record, project.ID)
	}
}

func TestDeleteProjectRemovesSearchDocuments(t *testing.T) {
	svc, searchRec, _ := newHookedService(t)
	ctx := context.Background()

	project, err := svc.CreateProject(ctx, hookUser, CreateProjectInput{Name: "Atlas"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	first, err := svc.CreateBlock(ctx, hookUser, project.ID, CreateBlockInput{Type: "text", Content: "alpha"})
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}
	second, err := svc.CreateBlock(ctx, hookUser, project.ID, CreateBlockInput{Type: "text", Content: "beta"})
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	if err := svc.DeleteProject(ctx, hookUser, project.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	searchRec.mu.Lock()
	defer searchRec.mu.Unlock()
	if len(searchRec.deletedProjects) != 1 || searchRec.deletedProjects[0] != project.ID {
		t.Fatalf("expected project %s deleted from index, got %v", project.ID, searchRec.deletedProjects)
	}
	deleted := map[string]bool{}
	for _, id := range searchRec.deletedBlocks {
		deleted[id] = true
	}
	if !deleted[first.ID] || !deleted[second.ID] {
		t.Errorf("expected blocks %s and %s deleted from index, got %v", first.ID, second.ID, searchRec.deletedBlocks)
	}
}

func TestDeleteBlockRemovesStoredAttachment(t *testing.T) {
	svc, _, filesRec := newHookedService(t)
	ctx := context.Background()

	project, err := svc.CreateProject(ctx, hookUser, CreateProjectInput{Name: "Atlas"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	meta, _ := json.Marshal(map[string]any{
		"key":      hookUser + "/att_1_notes.txt",
		"fileName": "notes.txt",
	})
	block, err := svc.CreateBlock(ctx, hookUser, project.ID, CreateBlockInput{Type: "file", Content: "notes.txt", Metadata: meta})
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	if err := svc.DeleteBlock(ctx, hookUser, project.ID, block.ID); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}

	filesRec.mu.Lock()
	defer filesRec.mu.Unlock()
	if len(filesRec.deleted) != 1 || filesRec.deleted[0] != hookUser+"/att_1_notes.txt" {
		t.Errorf("expected attachment object removed, got %v", filesRec.deleted)
	}
}

func TestDeleteBlockWithoutAttachmentLeavesStorageAlone(t *testing.T) {
	svc, _, filesRec := newHookedService(t)
	ctx := context.Background()

	project, err := svc.CreateProject(ctx, hookUser, CreateProjectInput{Name: "Atlas"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	block, err := svc.CreateBlock(ctx, hookUser, project.ID, CreateBlockInput{Type: "text", Content: "plain"})
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	if err := svc.DeleteBlock(ctx, hookUser, project.ID, block.ID); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}

	filesRec.mu.Lock()
	defer filesRec.mu.Unlock()
	if len(filesRec.deleted) != 0 {
		t.Errorf("expected no storage deletes for a text block, got %v", filesRec.deleted)
	}
}
