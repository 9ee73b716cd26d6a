package engine

import (
	"context"
	"net/url"

	"colab/internal/backend"
	"colab/internal/domain"
)

const tasksTable = "shared_tasks"

// PostTask creates a pending task on the current project. An empty assignee
// leaves the task open to anyone. Priority is passed through as given.
func (e *Engine) PostTask(ctx context.Context, description, assignee string, priority int) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	body := e.keyBody()
	body["p_task"] = description
	if assignee != "" {
		body["p_to_claude"] = assignee
	}
	body["p_priority"] = priority
	body["p_project_slug"] = e.session.ProjectSlug
	if err := e.Backend.RPCBool(ctx, "post_task", body); err != nil {
		e.logger().Warn("post task failed", "error", err)
		return false, err
	}
	e.logger().Info("task posted", "task", clip(description, 50), "assignee", assignee, "priority", priority)
	return true, nil
}

// ListTasks returns the team's non-deleted tasks, newest first. An empty
// status returns every state.
func (e *Engine) ListTasks(ctx context.Context, status string) ([]domain.Task, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("team_id", backend.Eq(e.session.TeamID))
	params.Set("deleted_at", "is.null")
	params.Set("order", "created_at.desc")
	if status != "" {
		params.Set("status", backend.Eq(status))
	}
	var tasks []domain.Task
	if err := e.Backend.Select(ctx, tasksTable, params, &tasks); err != nil {
		e.logger().Warn("list tasks failed", "error", err)
		return nil, err
	}
	return tasks, nil
}

// ClaimTask marks the task claimed by this identity. Whether a claim on a
// task that is no longer pending is accepted is up to the backend; there is
// no local check and no retry.
func (e *Engine) ClaimTask(ctx context.Context, id string) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	return e.patchTask(ctx, id, map[string]any{
		"status":     domain.TaskClaimed,
		"claimed_by": e.session.IdentityName,
	})
}

func (e *Engine) CompleteTask(ctx context.Context, id, result string) (bool, error) {
	return e.patchTask(ctx, id, map[string]any{"status": domain.TaskDone, "result": result})
}

func (e *Engine) FailTask(ctx context.Context, id, reason string) (bool, error) {
	return e.patchTask(ctx, id, map[string]any{"status": domain.TaskFailed, "result": reason})
}

// DeleteTask soft-deletes the task.
func (e *Engine) DeleteTask(ctx context.Context, id string) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	body := e.keyBody()
	body["p_task_id"] = id
	if err := e.Backend.RPCBool(ctx, "delete_task", body); err != nil {
		e.logger().Warn("delete task failed", "task_id", id, "error", err)
		return false, err
	}
	e.logger().Info("task deleted", "task_id", id)
	return true, nil
}

func (e *Engine) patchTask(ctx context.Context, id string, patch map[string]any) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	params := url.Values{}
	params.Set("id", backend.Eq(id))
	if err := e.Backend.Update(ctx, tasksTable, params, patch); err != nil {
		e.logger().Warn("task update failed", "task_id", id, "status", patch["status"], "error", err)
		return false, err
	}
	e.logger().Info("task updated", "task_id", id, "status", patch["status"])
	return true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// clip shortens s to n runes for log output.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
