package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects and blocks using
// plainto_tsquery and ts_rank, with ts_headline for snippets. The tsvector
// expressions match the GIN indexes created by the initial migration.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		projWhere := "to_tsvector('simple', p.name || ' ' || p.description) @@ " + tsQuery
		if q.OwnerID != "" {
			projWhere += fmt.Sprintf(" AND p.user_id = $%d", argN)
			args = append(args, q.OwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('simple', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, p.user_id AS owner_id,
				ts_rank(to_tsvector('simple', p.name || ' ' || p.description), %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, projWhere))
	}

	// Blocks sub-query
	if q.FilterType == "" || q.FilterType == ResultBlock {
		blockWhere := "to_tsvector('simple', b.content) @@ " + tsQuery
		if q.OwnerID != "" {
			blockWhere += fmt.Sprintf(" AND p.user_id = $%d", argN)
			args = append(args, q.OwnerID)
			argN++
		}
		if q.FilterProjectID != "" {
			blockWhere += fmt.Sprintf(" AND b.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'block'::text AS type, b.id, b.type AS title,
				ts_headline('simple', coalesce(b.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.project_id, p.user_id AS owner_id,
				ts_rank(to_tsvector('simple', b.content), %s) AS rank
			FROM blocks b
			JOIN projects p ON p.id = b.project_id
			WHERE %s`, tsQuery, tsQuery, blockWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, owner_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []BlockRecord, error) {
	projRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, category, status, user_id
		FROM projects
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projRows.Close()

	projects := make([]ProjectRecord, 0)
	for projRows.Next() {
		var pr ProjectRecord
		if err := projRows.Scan(&pr.ID, &pr.Name, &pr.Description, &pr.Category, &pr.Status, &pr.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, pr)
	}
	if err := projRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	blockRows, err := p.db.QueryContext(ctx, `
		SELECT b.id, b.content, b.type, b.project_id, p.user_id
		FROM blocks b
		JOIN projects p ON p.id = b.project_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load blocks: %w", err)
	}
	defer blockRows.Close()

	blocks := make([]BlockRecord, 0)
	for blockRows.Next() {
		var br BlockRecord
		if err := blockRows.Scan(&br.ID, &br.Content, &br.Type, &br.ProjectID, &br.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, br)
	}
	if err := blockRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate blocks: %w", err)
	}

	return projects, blocks, nil
}
