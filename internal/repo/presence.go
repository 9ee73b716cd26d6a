package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"colab/internal/domain"
)

func (r Repo) InsertChat(ctx context.Context, m domain.ChatMessage, teamID string) (domain.ChatMessage, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = r.now()
	urgent := 0
	if m.Urgent {
		urgent = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO chat_messages(id,team_id,project_slug,author,message,urgent,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, teamID, m.ProjectSlug, m.Author, m.Message, urgent, m.CreatedAt)
	if err != nil {
		return m, fmt.Errorf("insert chat: %w", err)
	}
	return m, nil
}

// ListChat returns the latest messages of a project, newest first. An empty
// project spans the whole team.
func (r Repo) ListChat(ctx context.Context, teamID, project string, limit int, urgentOnly bool) ([]domain.ChatMessage, error) {
	query := `SELECT id,author,message,project_slug,created_at,urgent FROM chat_messages WHERE team_id=?`
	args := []any{teamID}
	if project != "" {
		query += ` AND project_slug=?`
		args = append(args, project)
	}
	if urgentOnly {
		query += ` AND urgent=1`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.Author, &m.Message, &m.ProjectSlug, &m.CreatedAt, &m.Urgent); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

const instanceColumns = `id,team_id,name,role,status,COALESCE(current_project,''),COALESCE(current_project_id,''),COALESCE(working_on,''),COALESCE(last_seen,'')`

func scanInstance(scan func(...any) error) (domain.Instance, error) {
	var in domain.Instance
	err := scan(&in.ID, &in.TeamID, &in.Name, &in.Role, &in.Status, &in.CurrentProject, &in.CurrentProjectID, &in.WorkingOn, &in.LastSeen)
	return in, err
}

// Touch records a heartbeat, creating the instance row on first contact.
// current_project_id follows the slug; it is null when the team has no such
// project.
func (r Repo) Touch(ctx context.Context, teamID, name, status, project string) (domain.Instance, error) {
	now := r.now()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO claude_instances(id,team_id,name,status,current_project,current_project_id,last_seen)
VALUES (?,?,?,?,?,(SELECT id FROM projects WHERE team_id=? AND slug=?),?)
ON CONFLICT(team_id, name) DO UPDATE SET status=excluded.status, current_project=excluded.current_project,
  current_project_id=excluded.current_project_id, last_seen=excluded.last_seen`,
		uuid.NewString(), teamID, name, status, nullable(project), teamID, project, now)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("touch instance: %w", err)
	}
	return r.GetInstanceByName(ctx, teamID, name)
}

func (r Repo) GetInstanceByName(ctx context.Context, teamID, name string) (domain.Instance, error) {
	in, err := scanInstance(r.DB.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM claude_instances WHERE team_id=? AND name=?`, teamID, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return in, ErrNotFound
	}
	return in, err
}

func (r Repo) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	in, err := scanInstance(r.DB.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM claude_instances WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return in, ErrNotFound
	}
	return in, err
}

// ListInstances filters by team and, when given, name.
func (r Repo) ListInstances(ctx context.Context, teamID, name string) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM claude_instances WHERE 1=1`
	var args []any
	if teamID != "" {
		query += ` AND team_id=?`
		args = append(args, teamID)
	}
	if name != "" {
		query += ` AND name=?`
		args = append(args, name)
	}
	query += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Instance{}
	for rows.Next() {
		in, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// SetWorkingOn updates the free-text activity; nil clears it.
func (r Repo) SetWorkingOn(ctx context.Context, id string, text *string) error {
	var v any
	if text != nil {
		v = nullable(*text)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE claude_instances SET working_on=? WHERE id=?`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Online returns presence for instances seen at or after now-threshold,
// most recent first.
func (r Repo) Online(ctx context.Context, teamID string, now time.Time, threshold time.Duration) ([]domain.PresenceRecord, error) {
	instances, err := r.ListInstances(ctx, teamID, "")
	if err != nil {
		return nil, err
	}
	res := []domain.PresenceRecord{}
	for _, in := range instances {
		rec := domain.PresenceRecord{
			ClaudeName:     in.Name,
			Status:         in.Status,
			CurrentProject: in.CurrentProject,
			WorkingOn:      in.WorkingOn,
			LastSeen:       in.LastSeen,
		}
		if !rec.Online(now, threshold) {
			continue
		}
		seen, _ := time.Parse(time.RFC3339, in.LastSeen)
		rec.MinutesAgo = int(now.Sub(seen).Minutes())
		res = append(res, rec)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].LastSeen > res[j].LastSeen })
	return res, nil
}
