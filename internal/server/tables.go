package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"colab/internal/domain"
	"colab/internal/repo"
)

// PostgREST-style filter values, e.g. team_id=eq.<id>. Only the operators
// the client sends are understood.

func eqFilter(field, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	val, ok := strings.CutPrefix(v, "eq.")
	if !ok {
		return "", fmt.Errorf("unsupported filter %s=%s", field, v)
	}
	return val, nil
}

func isNullFilter(field, v string) (bool, error) {
	switch v {
	case "":
		return false, nil
	case "is.null":
		return true, nil
	default:
		return false, fmt.Errorf("unsupported filter %s=%s", field, v)
	}
}

func ilikeFilter(field, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	val, ok := strings.CutPrefix(v, "ilike.")
	if !ok {
		return "", fmt.Errorf("unsupported filter %s=%s", field, v)
	}
	return strings.Trim(val, "%*"), nil
}

func ascending(order string) (bool, error) {
	switch order {
	case "", "created_at.desc":
		return false, nil
	case "created_at.asc":
		return true, nil
	default:
		return false, fmt.Errorf("unsupported order %s", order)
	}
}

func table(method, path, summary string) huma.Operation {
	op := huma.Operation{
		OperationID: strings.ToLower(method) + "-" + strings.ReplaceAll(strings.TrimPrefix(path, "/"), "_", "-"),
		Method:      method,
		Path:        path,
		Summary:     summary,
		Tags:        []string{"tables"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}
	if method == http.MethodPatch {
		op.DefaultStatus = http.StatusNoContent
	}
	return op
}

func (s service) registerTables(api huma.API) {
	huma.Register(api, table(http.MethodGet, "/shared_tasks", "List tasks"),
		func(ctx context.Context, in *struct {
			TeamID    string `query:"team_id"`
			ID        string `query:"id"`
			Status    string `query:"status"`
			Project   string `query:"project_slug"`
			DeletedAt string `query:"deleted_at"`
			Order     string `query:"order"`
			Limit     int    `query:"limit" minimum:"0"`
		}) (*output[[]domain.Task], error) {
			f := repo.TaskFilter{Limit: in.Limit}
			var err error
			if f.TeamID, err = eqFilter("team_id", in.TeamID); err != nil {
				return nil, handleError(err)
			}
			if f.Status, err = eqFilter("status", in.Status); err != nil {
				return nil, handleError(err)
			}
			if f.ProjectSlug, err = eqFilter("project_slug", in.Project); err != nil {
				return nil, handleError(err)
			}
			if f.OnlyLive, err = isNullFilter("deleted_at", in.DeletedAt); err != nil {
				return nil, handleError(err)
			}
			if f.Ascending, err = ascending(in.Order); err != nil {
				return nil, handleError(err)
			}
			id, err := eqFilter("id", in.ID)
			if err != nil {
				return nil, handleError(err)
			}
			if id != "" {
				t, err := s.Repo.GetTask(ctx, id)
				if errors.Is(err, repo.ErrNotFound) || (err == nil && f.TeamID != "" && t.TeamID != f.TeamID) {
					return reply([]domain.Task{}), nil
				}
				if err != nil {
					return nil, handleError(err)
				}
				return reply([]domain.Task{t}), nil
			}
			tasks, err := s.Repo.ListTasks(ctx, f)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(tasks), nil
		})

	huma.Register(api, table(http.MethodPatch, "/shared_tasks", "Update a task; claims only succeed on pending tasks"),
		func(ctx context.Context, in *struct {
			ID     string `query:"id"`
			TeamID string `query:"team_id"`
			Prefer string `header:"Prefer"`
			Body   TaskPatchRequest
		}) (*struct{}, error) {
			id, err := eqFilter("id", in.ID)
			if err != nil {
				return nil, handleError(err)
			}
			if id == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "id filter required", nil)
			}
			if err := s.checkTaskTeam(ctx, id, in.TeamID); err != nil {
				return nil, err
			}
			patch := repo.TaskPatch{
				Status:     in.Body.Status,
				ClaimedBy:  in.Body.ClaimedBy,
				AssignedTo: in.Body.AssignedTo,
				Result:     in.Body.Result,
			}
			if err := s.Repo.UpdateTask(ctx, id, patch); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})

	huma.Register(api, table(http.MethodGet, "/shared_knowledge", "List knowledge"),
		func(ctx context.Context, in *struct {
			TeamID    string `query:"team_id"`
			Content   string `query:"content"`
			DeletedAt string `query:"deleted_at"`
			Order     string `query:"order"`
			Limit     int    `query:"limit" minimum:"0"`
		}) (*output[[]domain.Knowledge], error) {
			f := repo.KnowledgeFilter{Limit: in.Limit}
			var err error
			if f.TeamID, err = eqFilter("team_id", in.TeamID); err != nil {
				return nil, handleError(err)
			}
			if f.TeamID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "team_id filter required", nil)
			}
			if f.Contains, err = ilikeFilter("content", in.Content); err != nil {
				return nil, handleError(err)
			}
			if f.OnlyLive, err = isNullFilter("deleted_at", in.DeletedAt); err != nil {
				return nil, handleError(err)
			}
			if f.Ascending, err = ascending(in.Order); err != nil {
				return nil, handleError(err)
			}
			items, err := s.Repo.ListKnowledge(ctx, f)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(items), nil
		})

	huma.Register(api, table(http.MethodPatch, "/shared_knowledge", "Update a knowledge entry"),
		func(ctx context.Context, in *struct {
			ID     string `query:"id"`
			TeamID string `query:"team_id"`
			Prefer string `header:"Prefer"`
			Body   KnowledgePatchRequest
		}) (*struct{}, error) {
			id, err := eqFilter("id", in.ID)
			if err != nil {
				return nil, handleError(err)
			}
			team, err := eqFilter("team_id", in.TeamID)
			if err != nil {
				return nil, handleError(err)
			}
			if id == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "id filter required", nil)
			}
			if err := s.Repo.UpdateKnowledge(ctx, team, id, in.Body.Content, in.Body.Tags); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})

	huma.Register(api, table(http.MethodGet, "/projects", "List projects"),
		func(ctx context.Context, in *struct {
			TeamID string `query:"team_id"`
			Slug   string `query:"slug"`
			Select string `query:"select"`
			Order  string `query:"order"`
		}) (*output[[]domain.Project], error) {
			team, err := eqFilter("team_id", in.TeamID)
			if err != nil {
				return nil, handleError(err)
			}
			slug, err := eqFilter("slug", in.Slug)
			if err != nil {
				return nil, handleError(err)
			}
			if team == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "team_id filter required", nil)
			}
			projects, err := s.Repo.ListProjects(ctx, team, slug, false)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(projects), nil
		})

	huma.Register(api, table(http.MethodGet, "/claude_instances", "List instances"),
		func(ctx context.Context, in *struct {
			TeamID string `query:"team_id"`
			Name   string `query:"name"`
			Select string `query:"select"`
		}) (*output[[]domain.Instance], error) {
			team, err := eqFilter("team_id", in.TeamID)
			if err != nil {
				return nil, handleError(err)
			}
			name, err := eqFilter("name", in.Name)
			if err != nil {
				return nil, handleError(err)
			}
			items, err := s.Repo.ListInstances(ctx, team, name)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(items), nil
		})

	huma.Register(api, table(http.MethodPatch, "/claude_instances", "Update an instance's working_on"),
		func(ctx context.Context, in *struct {
			ID     string `query:"id"`
			Prefer string `header:"Prefer"`
			Body   map[string]any
		}) (*struct{}, error) {
			id, err := eqFilter("id", in.ID)
			if err != nil {
				return nil, handleError(err)
			}
			if id == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "id filter required", nil)
			}
			raw, ok := in.Body["working_on"]
			if !ok {
				return &struct{}{}, nil
			}
			var text *string
			switch v := raw.(type) {
			case nil:
			case string:
				text = &v
			default:
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "working_on must be a string or null", nil)
			}
			if err := s.Repo.SetWorkingOn(ctx, id, text); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})
}

// checkTaskTeam hides tasks of other teams when a team filter is given.
func (s service) checkTaskTeam(ctx context.Context, id, teamFilter string) error {
	team, err := eqFilter("team_id", teamFilter)
	if err != nil {
		return handleError(err)
	}
	if team == "" {
		return nil
	}
	t, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return handleError(err)
	}
	if t.TeamID != team {
		return newAPIError(http.StatusNotFound, "not_found", "task not found", nil)
	}
	return nil
}
