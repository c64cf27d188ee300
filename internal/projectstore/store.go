package projectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"narrasync/internal/config"
	"narrasync/internal/services"
)

const component = "projectstore"

// Store manages project documents backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the project database.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "open", "config is nil", nil)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.ProjectDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new project with a fresh id.
func (s *Store) Create(ctx context.Context, title string, snapshot []byte, summary Summary) (*Project, error) {
	return s.CreateWithID(ctx, uuid.NewString(), title, snapshot, summary)
}

// CreateWithID inserts a new project under a caller-chosen id.
func (s *Store) CreateWithID(ctx context.Context, id, title string, snapshot []byte, summary Summary) (*Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, component, "create", "project id is empty", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	if len(snapshot) == 0 {
		snapshot = []byte("{}")
	}
	timestamp := timestampNow()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO projects (
            id, title, snapshot_json, revision, segment_count, sync_status,
            duration_seconds, created_at, updated_at
        ) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		id,
		title,
		string(snapshot),
		summary.SegmentCount,
		defaultStatus(summary.SyncStatus),
		summary.DurationSeconds,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a project by id. It returns nil, nil when no project matches.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// List returns every project, most recently updated first.
func (s *Store) List(ctx context.Context) ([]*Project, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// Save replaces a project's snapshot and summary and returns the new revision.
func (s *Store) Save(ctx context.Context, id string, snapshot []byte, summary Summary) (int64, error) {
	if len(snapshot) == 0 {
		return 0, services.Wrap(services.ErrValidation, component, "save", "snapshot is empty", nil)
	}
	timestamp := timestampNow()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET snapshot_json = ?, revision = revision + 1, segment_count = ?,
             sync_status = ?, duration_seconds = ?, updated_at = ?
         WHERE id = ?`,
		string(snapshot),
		summary.SegmentCount,
		defaultStatus(summary.SyncStatus),
		summary.DurationSeconds,
		timestamp,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("save project: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, services.Wrap(services.ErrNotFound, component, "save", "project "+id, nil)
	}
	var revision int64
	ctx = ensureContext(ctx)
	if err := s.db.QueryRowContext(ctx, `SELECT revision FROM projects WHERE id = ?`, id).Scan(&revision); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return revision, nil
}

// Rename updates a project's title.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return services.Wrap(services.ErrValidation, component, "rename", "title is empty", nil)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE projects SET title = ?, updated_at = ? WHERE id = ?`,
		title,
		timestampNow(),
		id,
	)
	if err != nil {
		return fmt.Errorf("rename project: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, component, "rename", "project "+id, nil)
	}
	return nil
}

// Delete removes a project. It reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountByStatus returns the number of projects per sync status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT sync_status, COUNT(1) FROM projects GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("project store not open")
	}
	return s.db.PingContext(ensureContext(ctx))
}

func defaultStatus(status string) string {
	if status = strings.TrimSpace(status); status == "" {
		return "synced"
	}
	return status
}
