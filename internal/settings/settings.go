// ABOUTME: Durable GitHub settings storage using modernc.org/sqlite
// ABOUTME: Single-row store with automatic schema creation and change notification

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotConfigured indicates no settings have been saved yet.
var ErrNotConfigured = errors.New("github settings not configured")

// GitHubSettings holds the repository target an embedded client pushes
// to. The token is stored as provided; encrypting at rest is the host
// platform's job.
type GitHubSettings struct {
	RepoOwner      string    `json:"repoOwner"`
	RepoName       string    `json:"repoName"`
	Branch         string    `json:"branch"`
	Token          string    `json:"-"`
	CommitTemplate string    `json:"commitTemplate"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store persists GitHub settings in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the settings database at the given path.
// Parent directories are created if needed; ":memory:" is supported for
// tests.
func NewStore(path string) (*Store, error) {
	logger := slog.Default().With("component", "settings")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS github_settings (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	repo_owner      TEXT NOT NULL,
	repo_name       TEXT NOT NULL,
	branch          TEXT NOT NULL DEFAULT 'main',
	token           TEXT NOT NULL,
	commit_template TEXT NOT NULL DEFAULT '',
	updated_at      TEXT NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Get returns the stored settings, or ErrNotConfigured when none exist.
func (s *Store) Get(ctx context.Context) (*GitHubSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT repo_owner, repo_name, branch, token, commit_template, updated_at
		FROM github_settings WHERE id = 1`)

	var gs GitHubSettings
	var updatedAt string
	err := row.Scan(&gs.RepoOwner, &gs.RepoName, &gs.Branch, &gs.Token, &gs.CommitTemplate, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	gs.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &gs, nil
}

// Save upserts the settings and stamps UpdatedAt.
func (s *Store) Save(ctx context.Context, gs *GitHubSettings) error {
	if gs.RepoOwner == "" || gs.RepoName == "" {
		return fmt.Errorf("repo_owner and repo_name are required")
	}
	branch := gs.Branch
	if branch == "" {
		branch = "main"
	}

	gs.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO github_settings (id, repo_owner, repo_name, branch, token, commit_template, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_owner = excluded.repo_owner,
			repo_name = excluded.repo_name,
			branch = excluded.branch,
			token = excluded.token,
			commit_template = excluded.commit_template,
			updated_at = excluded.updated_at`,
		gs.RepoOwner, gs.RepoName, branch, gs.Token, gs.CommitTemplate,
		gs.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	s.logger.Info("github settings saved",
		"repo", gs.RepoOwner+"/"+gs.RepoName,
		"branch", branch,
	)
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
