package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified,
		&user.VerificationToken, &user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const query = `
		SELECT id, email, password_hash, is_email_verified, COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users WHERE id = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsEmailVerified,
		&user.VerificationToken, &user.VerificationExpiresAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by id: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	const query = `
		INSERT INTO users (id, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	const query = `UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1`
	if _, err := s.db.ExecContext(ctx, query, userID, token, expiresAt); err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	const query = `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`
	result, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- refresh sessions ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.IsEmailVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// --- projects ---

const projectColumns = `id, user_id, name, category, description, strategic_fields, tags, status, progress, created_at, updated_at`

func scanProject(scanner interface{ Scan(...any) error }) (ProjectRow, error) {
	var row ProjectRow
	err := scanner.Scan(
		&row.ID, &row.UserID, &row.Name, &row.Category, &row.Description,
		&row.StrategicFields, &row.Tags, &row.Status, &row.Progress,
		&row.CreatedAt, &row.UpdatedAt,
	)
	return row, err
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]ProjectRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE user_id=$1 ORDER BY created_at DESC`, projectColumns)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectRow
	for rows.Next() {
		row, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, row)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) InsertProject(ctx context.Context, row ProjectRow) (ProjectRow, error) {
	query := fmt.Sprintf(`
		INSERT INTO projects (id, user_id, name, category, description, strategic_fields, tags, status, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s
	`, projectColumns)
	inserted, err := scanProject(s.db.QueryRowContext(ctx, query,
		row.ID, row.UserID, row.Name, row.Category, row.Description,
		row.StrategicFields, row.Tags, row.Status, row.Progress,
	))
	if err != nil {
		return ProjectRow{}, fmt.Errorf("insert project: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, fields map[string]any) error {
	return s.partialUpdate(ctx, "projects", id, fields, projectUpdateColumns)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- blocks ---

const blockColumns = `id, user_id, project_id, type, content, metadata, tags, created_at, updated_at`

func scanBlock(scanner interface{ Scan(...any) error }) (BlockRow, error) {
	var row BlockRow
	err := scanner.Scan(
		&row.ID, &row.UserID, &row.ProjectID, &row.Type, &row.Content,
		&row.Metadata, &row.Tags, &row.CreatedAt, &row.UpdatedAt,
	)
	return row, err
}

func (s *PostgresStore) ListBlocks(ctx context.Context, userID string) ([]BlockRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM blocks WHERE user_id=$1`, blockColumns)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []BlockRow
	for rows.Next() {
		row, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, row)
	}
	return blocks, rows.Err()
}

func (s *PostgresStore) InsertBlock(ctx context.Context, row BlockRow) (BlockRow, error) {
	query := fmt.Sprintf(`
		INSERT INTO blocks (id, user_id, project_id, type, content, metadata, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s
	`, blockColumns)
	inserted, err := scanBlock(s.db.QueryRowContext(ctx, query,
		row.ID, row.UserID, row.ProjectID, row.Type, row.Content, row.Metadata, row.Tags,
	))
	if err != nil {
		return BlockRow{}, fmt.Errorf("insert block: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) UpdateBlock(ctx context.Context, id string, fields map[string]any) error {
	return s.partialUpdate(ctx, "blocks", id, fields, blockUpdateColumns)
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

var projectUpdateColumns = map[string]struct{}{
	"name":             {},
	"category":         {},
	"description":      {},
	"strategic_fields": {},
	"tags":             {},
	"status":           {},
	"progress":         {},
}

var blockUpdateColumns = map[string]struct{}{
	"content":  {},
	"metadata": {},
	"tags":     {},
}

// partialUpdate writes only the recognized columns present in fields; unknown
// keys are ignored. Column order is fixed to keep generated SQL stable.
func (s *PostgresStore) partialUpdate(ctx context.Context, table, id string, fields map[string]any, allowed map[string]struct{}) error {
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if _, ok := allowed[column]; ok {
			columns = append(columns, column)
		}
	}
	if len(columns) == 0 {
		return nil
	}
	sort.Strings(columns)

	assignments := make([]string, 0, len(columns)+1)
	args := []any{id}
	for i, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s=$%d", column, i+2))
		args = append(args, fields[column])
	}
	assignments = append(assignments, "updated_at=NOW()")

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$1`, table, strings.Join(assignments, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
