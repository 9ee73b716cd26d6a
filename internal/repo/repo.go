package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"colab/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row exists but is not in a state the update
	// accepts.
	ErrConflict = errors.New("conflict")
)

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// EnsureTeam returns the team named name, creating it on first use.
func (r Repo) EnsureTeam(ctx context.Context, name string) (Team, error) {
	var t Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM teams WHERE name=?`, name).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return t, err
	}
	t = Team{ID: uuid.NewString(), Name: name, CreatedAt: r.now()}
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO teams(id,name,created_at) VALUES (?,?,?)`, t.ID, t.Name, t.CreatedAt); err != nil {
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	return t, nil
}

// EnsureProject creates the project row for slug if the team has none yet.
func (r Repo) EnsureProject(ctx context.Context, teamID, slug string) error {
	if strings.TrimSpace(slug) == "" {
		return errors.New("project slug required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,team_id,slug,name,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(team_id, slug) DO NOTHING`, uuid.NewString(), teamID, slug, slug, r.now())
	return err
}

// ProjectIDExists reports whether id names one of the team's projects.
func (r Repo) ProjectIDExists(ctx context.Context, teamID, id string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM projects WHERE team_id=? AND id=?`, teamID, id).Scan(&n)
	return n > 0, err
}

// InsertProject creates a project; the slug must be unused within the team.
func (r Repo) InsertProject(ctx context.Context, teamID string, p domain.Project) (domain.Project, error) {
	if p.Slug == "" {
		return p, errors.New("project slug required")
	}
	if p.Name == "" {
		p.Name = p.Slug
	}
	p.CreatedAt = r.now()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,team_id,slug,name,description,created_at) VALUES (?,?,?,?,?,?)`,
		uuid.NewString(), teamID, p.Slug, p.Name, nullable(p.Description), p.CreatedAt)
	if err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// ListProjects returns the team's projects, newest first. withCounts adds
// the number of chat messages per project.
func (r Repo) ListProjects(ctx context.Context, teamID, slug string, withCounts bool) ([]domain.Project, error) {
	query := `SELECT p.slug, p.name, COALESCE(p.description,''), p.created_at, `
	if withCounts {
		query += `(SELECT COUNT(*) FROM chat_messages c WHERE c.team_id=p.team_id AND c.project_slug=p.slug)`
	} else {
		query += `0`
	}
	query += ` FROM projects p WHERE p.team_id=?`
	args := []any{teamID}
	if slug != "" {
		query += ` AND p.slug=?`
		args = append(args, slug)
	}
	query += ` ORDER BY p.created_at DESC, p.rowid DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Project{}
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.Slug, &p.Name, &p.Description, &p.CreatedAt, &p.MessageCount); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// InsertInvite records an invite and returns its token.
func (r Repo) InsertInvite(ctx context.Context, teamID, email, role, invitedBy string) (domain.InviteResult, error) {
	res := domain.InviteResult{InviteID: uuid.NewString(), Token: strings.ReplaceAll(uuid.NewString(), "-", "")}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO invites(id,team_id,email,role,token,invited_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		res.InviteID, teamID, email, role, res.Token, invitedBy, r.now())
	if err != nil {
		return domain.InviteResult{}, fmt.Errorf("insert invite: %w", err)
	}
	res.Success = true
	return res, nil
}

// execer lets helpers run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
