package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"colab/internal/backend"
	"colab/internal/domain"
)

var ErrNoInstance = errors.New("no instance registered for this identity")

// WorkActions are the actions accepted by LogWork.
var WorkActions = []string{"started", "completed", "paused", "error", "handoff"}

// Projects lists the team's channels. The get_channels RPC carries message
// counts; when it fails or is empty the projects table is read instead.
func (e *Engine) Projects(ctx context.Context) ([]domain.Project, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	var projects []domain.Project
	err := e.Backend.RPC(ctx, "get_channels", e.keyBody(), &projects)
	if err == nil && len(projects) > 0 {
		return projects, nil
	}
	if err != nil {
		e.logger().Debug("get_channels unavailable, falling back to projects table", "error", err)
	}
	params := url.Values{}
	params.Set("team_id", backend.Eq(e.session.TeamID))
	params.Set("select", "slug,name,description,created_at")
	params.Set("order", "created_at.desc")
	projects = nil
	if err := e.Backend.Select(ctx, "projects", params, &projects); err != nil {
		e.logger().Warn("list projects failed", "error", err)
		return nil, err
	}
	return projects, nil
}

// Channels returns the slugs of Projects.
func (e *Engine) Channels(ctx context.Context) ([]string, error) {
	projects, err := e.Projects(ctx)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.Slug != "" {
			slugs = append(slugs, p.Slug)
		}
	}
	return slugs, nil
}

// Invite asks the backend to invite email to the team. role defaults to
// member.
func (e *Engine) Invite(ctx context.Context, email, role string) (domain.InviteResult, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return domain.InviteResult{Error: "Not connected"}, err
	}
	if role == "" {
		role = "member"
	}
	body := e.keyBody()
	body["p_email"] = email
	body["p_role"] = role
	var res domain.InviteResult
	if err := e.Backend.RPC(ctx, "invite_via_api_key", body, &res); err != nil {
		return domain.InviteResult{Error: err.Error()}, err
	}
	if !res.Success {
		return res, fmt.Errorf("%w: %s", backend.ErrRejected, res.Error)
	}
	e.logger().Info("invite sent", "email", email, "url", res.InviteURL)
	return res, nil
}

// MyInstance looks up this identity's instance row by name within the team.
func (e *Engine) MyInstance(ctx context.Context) (domain.Instance, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return domain.Instance{}, err
	}
	params := url.Values{}
	params.Set("name", backend.Eq(e.session.IdentityName))
	params.Set("team_id", backend.Eq(e.session.TeamID))
	params.Set("select", "*")
	var rows []domain.Instance
	if err := e.Backend.Select(ctx, instancesTable, params, &rows); err != nil {
		return domain.Instance{}, err
	}
	if len(rows) == 0 {
		return domain.Instance{}, ErrNoInstance
	}
	return rows[0], nil
}

// LogWork records a work action against this identity's instance.
func (e *Engine) LogWork(ctx context.Context, action string, details map[string]any) (bool, error) {
	inst, err := e.MyInstance(ctx)
	if err != nil {
		e.logger().Warn("log work: no instance", "error", err)
		return false, err
	}
	body := map[string]any{"p_claude_id": inst.ID, "p_action": action}
	if inst.CurrentProjectID != "" {
		body["p_project_id"] = inst.CurrentProjectID
	}
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return false, fmt.Errorf("encode details: %w", err)
		}
		body["p_details"] = string(b)
	}
	if err := e.Backend.RPC(ctx, "log_claude_work", body, nil); err != nil {
		e.logger().Warn("log work failed", "action", action, "error", err)
		return false, err
	}
	return true, nil
}

// HelpBuddy stocks a peer's credential in the local keystore, vouched for by
// this session's own credential.
func (e *Engine) HelpBuddy(ctx context.Context, name, credential string) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	if e.Keystore == nil {
		return false, errors.New("no keystore configured")
	}
	if err := e.Keystore.Stock(ctx, name, credential, e.session.Credential); err != nil {
		e.logger().Warn("help buddy failed", "buddy", name, "error", err)
		return false, err
	}
	e.logger().Info("buddy key stocked", "buddy", domain.NormalizeName(name), "by", e.session.IdentityName)
	return true, nil
}

type StatusReport struct {
	Connected      bool   `json:"connected"`
	Name           string `json:"claude_name,omitempty"`
	TeamID         string `json:"team_id,omitempty"`
	Project        string `json:"project,omitempty"`
	KnowledgeCount int    `json:"knowledge_count"`
	PendingTasks   int    `json:"pending_tasks"`
	TotalTasks     int    `json:"total_tasks"`
}

// Status summarizes the session. It does not connect.
func (e *Engine) Status(ctx context.Context) (StatusReport, error) {
	if !e.session.Connected {
		return StatusReport{}, nil
	}
	rep := StatusReport{
		Connected: true,
		Name:      e.session.IdentityName,
		TeamID:    e.session.TeamID,
		Project:   e.session.ProjectSlug,
	}
	knowledge, err := e.Recent(ctx, 100)
	if err != nil {
		return rep, err
	}
	tasks, err := e.ListTasks(ctx, "")
	if err != nil {
		return rep, err
	}
	rep.KnowledgeCount = len(knowledge)
	rep.TotalTasks = len(tasks)
	for _, t := range tasks {
		if t.Status == domain.TaskPending {
			rep.PendingTasks++
		}
	}
	return rep, nil
}

type OnlineMember struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	MinutesAgo int    `json:"minutes_ago"`
}

type ProjectSummary struct {
	Slug               string         `json:"slug"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	MessageCount       int            `json:"message_count"`
	OnlineNow          []OnlineMember `json:"online_now"`
	RecentContributors []string       `json:"recent_contributors"`
	TasksPending       int            `json:"tasks_pending"`
	TasksClaimed       int            `json:"tasks_claimed"`
	TasksDone          int            `json:"tasks_done"`
	TasksTotal         int            `json:"tasks_total"`
	RecentActivity     int            `json:"recent_activity_count"`
}

// ProjectSummary gathers who is on a project and how its tasks stand. An
// empty slug means the current project.
func (e *Engine) ProjectSummary(ctx context.Context, slug string) (ProjectSummary, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return ProjectSummary{}, err
	}
	if slug == "" {
		slug = e.session.ProjectSlug
	}
	sum := ProjectSummary{Slug: slug, Name: slug, Description: "No description"}

	projects, err := e.Projects(ctx)
	if err != nil {
		return sum, err
	}
	for _, p := range projects {
		if p.Slug != slug {
			continue
		}
		if p.Name != "" {
			sum.Name = p.Name
		}
		if p.Description != "" {
			sum.Description = p.Description
		}
		sum.MessageCount = p.MessageCount
	}

	online, err := e.WhoOnline(ctx, 60)
	if err != nil {
		return sum, err
	}
	for _, r := range online {
		if r.CurrentProject == slug {
			sum.OnlineNow = append(sum.OnlineNow, OnlineMember{Name: r.ClaudeName, Status: r.Status, MinutesAgo: r.MinutesAgo})
		}
	}

	tasks, err := e.ListTasks(ctx, "")
	if err != nil {
		return sum, err
	}
	for _, t := range tasks {
		if t.ProjectSlug != slug {
			continue
		}
		sum.TasksTotal++
		switch t.Status {
		case domain.TaskPending:
			sum.TasksPending++
		case domain.TaskClaimed:
			sum.TasksClaimed++
		case domain.TaskDone:
			sum.TasksDone++
		}
	}

	recent, err := e.Recent(ctx, 20)
	if err != nil {
		return sum, err
	}
	authors := map[string]bool{}
	for _, k := range recent {
		if k.ProjectSlug != "" && k.ProjectSlug != slug {
			continue
		}
		sum.RecentActivity++
		if k.Author != "" && !authors[k.Author] {
			authors[k.Author] = true
			sum.RecentContributors = append(sum.RecentContributors, k.Author)
		}
	}
	sort.Strings(sum.RecentContributors)
	return sum, nil
}
