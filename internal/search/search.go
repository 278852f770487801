package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultBlock   ResultType = "block"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	OwnerID   string     `json:"ownerId"`
}

// Query describes a search request. OwnerID is always set so users only
// ever see their own workspace.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	OwnerID         string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexBlock(b BlockRecord) error
	DeleteProject(id string) error
	DeleteBlock(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	OwnerID     string `json:"ownerId"`
}

// BlockRecord is the data we index for a block.
type BlockRecord struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	OwnerID   string `json:"ownerId"`
}
