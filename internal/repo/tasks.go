package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"colab/internal/domain"
)

const taskColumns = `id,team_id,project_slug,task,posted_by,assigned_to,claimed_by,status,priority,result,created_at,deleted_at`

type TaskFilter struct {
	TeamID      string
	ProjectSlug string
	Status      string
	OnlyLive    bool
	Ascending   bool
	Limit       int
}

// TaskPatch carries the fields a PATCH may change. Nil fields are kept.
type TaskPatch struct {
	Status     *string
	ClaimedBy  *string
	AssignedTo *string
	Result     *string
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var assigned, claimed, result, deleted sql.NullString
	err := scan(&t.ID, &t.TeamID, &t.ProjectSlug, &t.Task, &t.PostedBy, &assigned, &claimed, &t.Status, &t.Priority, &result, &t.CreatedAt, &deleted)
	if err != nil {
		return t, err
	}
	t.AssignedTo = stringPtr(assigned)
	t.ClaimedBy = stringPtr(claimed)
	t.Result = stringPtr(result)
	t.DeletedAt = stringPtr(deleted)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if strings.TrimSpace(t.Task) == "" {
		return t, errors.New("task description required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = domain.TaskPending
	t.CreatedAt = r.now()
	var assigned any
	if t.AssignedTo != nil && *t.AssignedTo != "" {
		assigned = *t.AssignedTo
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO shared_tasks(id,team_id,project_slug,task,posted_by,assigned_to,status,priority,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TeamID, t.ProjectSlug, t.Task, t.PostedBy, assigned, t.Status, t.Priority, t.CreatedAt, t.CreatedAt)
	if err != nil {
		return t, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM shared_tasks WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.ProjectSlug != "" {
		clauses = append(clauses, "project_slug=?")
		args = append(args, f.ProjectSlug)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OnlyLive {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	query := `SELECT ` + taskColumns + ` FROM shared_tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Ascending {
		query += " ORDER BY created_at ASC, rowid ASC"
	} else {
		query += " ORDER BY created_at DESC, rowid DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTask applies patch to a live task. Moving to claimed only succeeds
// while the task is pending, so two claimants can never both win; a lost
// race returns ErrConflict.
func (r Repo) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	var (
		fields []string
		args   []any
	)
	if patch.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *patch.Status)
	}
	if patch.ClaimedBy != nil {
		fields = append(fields, "claimed_by=?")
		args = append(args, nullable(*patch.ClaimedBy))
	}
	if patch.AssignedTo != nil {
		fields = append(fields, "assigned_to=?")
		args = append(args, nullable(*patch.AssignedTo))
	}
	if patch.Result != nil {
		fields = append(fields, "result=?")
		args = append(args, *patch.Result)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, r.now())

	where := "id=? AND deleted_at IS NULL"
	args = append(args, id)
	if patch.Status != nil && *patch.Status == domain.TaskClaimed {
		where += " AND status='pending'"
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE shared_tasks SET %s WHERE %s`, strings.Join(fields, ","), where), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.DeletedAt != nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: task %s is %s", ErrConflict, id, t.Status)
}

// SoftDeleteTask stamps deleted_at. It reports false when the team has no
// such live task.
func (r Repo) SoftDeleteTask(ctx context.Context, teamID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE shared_tasks SET deleted_at=?, updated_at=? WHERE id=? AND team_id=? AND deleted_at IS NULL`,
		r.now(), r.now(), id, teamID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
