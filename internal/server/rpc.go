package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"colab/internal/domain"
	"colab/internal/events"
	"colab/internal/repo"
)

const (
	defaultProject   = "claude-colab"
	defaultChatLimit = 20
	defaultPriority  = 5
	defaultOnlineMin = 5
)

type output[T any] struct {
	Body T
}

func reply[T any](v T) *output[T] {
	return &output[T]{Body: v}
}

// caller resolves the p_api_key credential of an RPC.
func (s service) caller(ctx context.Context, key string) (domain.APIKey, error) {
	k, err := s.Repo.Authenticate(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return k, newAPIError(http.StatusUnauthorized, "invalid_api_key", "invalid api key", nil)
	}
	if err != nil {
		return k, handleError(err)
	}
	return k, nil
}

func rpc(path, summary string) huma.Operation {
	return huma.Operation{
		OperationID: "rpc-" + strings.ReplaceAll(path, "_", "-"),
		Method:      http.MethodPost,
		Path:        "/rpc/" + path,
		Summary:     summary,
		Tags:        []string{"rpc"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (s service) registerRPC(api huma.API) {
	huma.Register(api, rpc("validate_api_key", "Resolve a credential to its team and identity"),
		func(ctx context.Context, in *struct{ Body ValidateKeyRequest }) (*output[[]domain.KeyInfo], error) {
			k, err := s.Repo.Authenticate(ctx, in.Body.Key)
			if errors.Is(err, repo.ErrNotFound) {
				return reply([]domain.KeyInfo{}), nil
			}
			if err != nil {
				return nil, handleError(err)
			}
			return reply([]domain.KeyInfo{{TeamID: k.TeamID, UserID: k.UserID, ClaudeName: k.ClaudeName}}), nil
		})

	huma.Register(api, rpc("share_knowledge", "Share a knowledge entry"),
		func(ctx context.Context, in *struct{ Body ShareKnowledgeRequest }) (*output[bool], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			_, err = s.Repo.InsertKnowledge(ctx, domain.Knowledge{
				TeamID:      k.TeamID,
				ProjectSlug: in.Body.ProjectSlug,
				Author:      k.ClaudeName,
				Content:     in.Body.Content,
				Tags:        in.Body.Tags,
				Type:        in.Body.Type,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return reply(true), nil
		})

	huma.Register(api, rpc("delete_knowledge", "Soft-delete a knowledge entry"),
		func(ctx context.Context, in *struct{ Body DeleteKnowledgeRequest }) (*output[bool], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			ok, err := s.Repo.SoftDeleteKnowledge(ctx, k.TeamID, in.Body.KnowledgeID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(ok), nil
		})

	huma.Register(api, rpc("post_task", "Post a pending task"),
		func(ctx context.Context, in *struct{ Body PostTaskRequest }) (*output[bool], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			project := orDefault(in.Body.ProjectSlug, defaultProject)
			if err := s.Repo.EnsureProject(ctx, k.TeamID, project); err != nil {
				return nil, handleError(err)
			}
			t := domain.Task{
				TeamID:      k.TeamID,
				ProjectSlug: project,
				Task:        in.Body.Task,
				PostedBy:    k.ClaudeName,
				Priority:    defaultPriority,
			}
			if in.Body.Priority != nil {
				t.Priority = *in.Body.Priority
			}
			if to := domain.NormalizeName(in.Body.ToClaude); to != "" {
				t.AssignedTo = &to
			}
			if _, err := s.Repo.InsertTask(ctx, t); err != nil {
				return nil, handleError(err)
			}
			return reply(true), nil
		})

	huma.Register(api, rpc("delete_task", "Soft-delete a task"),
		func(ctx context.Context, in *struct{ Body DeleteTaskRequest }) (*output[bool], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			ok, err := s.Repo.SoftDeleteTask(ctx, k.TeamID, in.Body.TaskID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(ok), nil
		})

	huma.Register(api, rpc("post_chat", "Post a chat message"),
		func(ctx context.Context, in *struct{ Body PostChatRequest }) (*output[bool], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(in.Body.Message) == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "message required", nil)
			}
			project := orDefault(in.Body.ProjectSlug, defaultProject)
			if err := s.Repo.EnsureProject(ctx, k.TeamID, project); err != nil {
				return nil, handleError(err)
			}
			_, err = s.Repo.InsertChat(ctx, domain.ChatMessage{
				Author:      k.ClaudeName,
				Message:     in.Body.Message,
				ProjectSlug: project,
				Urgent:      in.Body.Urgent,
			}, k.TeamID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(true), nil
		})

	huma.Register(api, rpc("get_chat", "Latest chat messages of a project, newest first"),
		func(ctx context.Context, in *struct{ Body GetChatRequest }) (*output[[]domain.ChatMessage], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			limit := in.Body.Limit
			if limit == 0 {
				limit = defaultChatLimit
			}
			msgs, err := s.Repo.ListChat(ctx, k.TeamID, orDefault(in.Body.ProjectSlug, defaultProject), limit, false)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(msgs), nil
		})

	huma.Register(api, rpc("get_urgent_messages", "Urgent messages across the team, newest first"),
		func(ctx context.Context, in *struct{ Body GetChatRequest }) (*output[[]domain.ChatMessage], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			limit := in.Body.Limit
			if limit == 0 {
				limit = 10
			}
			msgs, err := s.Repo.ListChat(ctx, k.TeamID, "", limit, true)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(msgs), nil
		})

	huma.Register(api, rpc("invite_via_api_key", "Invite an email address to the team"),
		func(ctx context.Context, in *struct{ Body InviteRequest }) (*output[domain.InviteResult], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			role := orDefault(in.Body.Role, "member")
			if role != "member" && role != "owner" {
				return reply(domain.InviteResult{Error: "role must be member or owner"}), nil
			}
			if !strings.Contains(in.Body.Email, "@") {
				return reply(domain.InviteResult{Error: "invalid email"}), nil
			}
			res, err := s.Repo.InsertInvite(ctx, k.TeamID, in.Body.Email, role, k.ClaudeName)
			if err != nil {
				return nil, handleError(err)
			}
			res.InviteURL = strings.TrimRight(s.InviteBaseURL, "/") + "/" + res.Token
			return reply(res), nil
		})

	huma.Register(api, rpc("get_channels", "Projects of the team with message counts"),
		func(ctx context.Context, in *struct{ Body KeyRequest }) (*output[[]domain.Project], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			projects, err := s.Repo.ListProjects(ctx, k.TeamID, "", true)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(projects), nil
		})

	huma.Register(api, rpc("heartbeat", "Record presence for the calling identity"),
		func(ctx context.Context, in *struct{ Body HeartbeatRequest }) (*output[bool], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			project := orDefault(in.Body.Project, defaultProject)
			if err := s.Repo.EnsureProject(ctx, k.TeamID, project); err != nil {
				return nil, handleError(err)
			}
			if _, err := s.Repo.Touch(ctx, k.TeamID, k.ClaudeName, orDefault(in.Body.Status, domain.PresenceActive), project); err != nil {
				return nil, handleError(err)
			}
			return reply(true), nil
		})

	huma.Register(api, rpc("get_online_claudes", "Identities seen within the threshold"),
		func(ctx context.Context, in *struct{ Body OnlineRequest }) (*output[[]domain.PresenceRecord], error) {
			k, err := s.caller(ctx, in.Body.APIKey)
			if err != nil {
				return nil, err
			}
			minutes := in.Body.Minutes
			if minutes == 0 {
				minutes = defaultOnlineMin
			}
			recs, err := s.Repo.Online(ctx, k.TeamID, s.now(), time.Duration(minutes)*time.Minute)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(recs), nil
		})

	huma.Register(api, rpc("log_claude_work", "Append to an instance's work log"),
		func(ctx context.Context, in *struct{ Body LogWorkRequest }) (*output[domain.WorkLogEntry], error) {
			inst, err := s.Repo.GetInstance(ctx, in.Body.ClaudeID)
			if err != nil {
				return nil, handleError(err)
			}
			if in.Body.ProjectID != "" {
				ok, err := s.Repo.ProjectIDExists(ctx, inst.TeamID, in.Body.ProjectID)
				if err != nil {
					return nil, handleError(err)
				}
				if !ok {
					return nil, newAPIError(http.StatusBadRequest, "invalid_project_id", "p_project_id must be a project id", nil)
				}
			}
			entry, err := s.Events.Append(ctx, nil, inst.ID, in.Body.ProjectID, in.Body.Action, events.ParseDetails(in.Body.Details))
			if err != nil {
				return nil, handleError(err)
			}
			return reply(entry), nil
		})
}
