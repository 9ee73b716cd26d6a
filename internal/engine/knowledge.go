package engine

import (
	"context"
	"net/url"
	"strconv"

	"colab/internal/backend"
	"colab/internal/domain"
)

const knowledgeTable = "shared_knowledge"

// Share publishes a lesson to the current project.
func (e *Engine) Share(ctx context.Context, content string, tags []string) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	if tags == nil {
		tags = []string{}
	}
	body := e.keyBody()
	body["p_content"] = content
	body["p_tags"] = tags
	body["p_type"] = "lesson"
	body["p_project_slug"] = e.session.ProjectSlug
	if err := e.Backend.RPCBool(ctx, "share_knowledge", body); err != nil {
		e.logger().Warn("share failed", "error", err)
		return false, err
	}
	e.logger().Info("knowledge shared", "content", clip(content, 50))
	return true, nil
}

// Search matches query case-insensitively against knowledge content.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]domain.Knowledge, error) {
	params := url.Values{}
	params.Set("content", "ilike.%"+query+"%")
	return e.selectKnowledge(ctx, params, limit)
}

// Recent returns the team's latest knowledge entries.
func (e *Engine) Recent(ctx context.Context, limit int) ([]domain.Knowledge, error) {
	return e.selectKnowledge(ctx, url.Values{}, limit)
}

func (e *Engine) selectKnowledge(ctx context.Context, params url.Values, limit int) ([]domain.Knowledge, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	params.Set("team_id", backend.Eq(e.session.TeamID))
	params.Set("deleted_at", "is.null")
	params.Set("order", "created_at.desc")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out []domain.Knowledge
	if err := e.Backend.Select(ctx, knowledgeTable, params, &out); err != nil {
		e.logger().Warn("knowledge query failed", "error", err)
		return nil, err
	}
	return out, nil
}

// UpdateKnowledge replaces an entry's content. Tags are kept when nil.
func (e *Engine) UpdateKnowledge(ctx context.Context, id, content string, tags []string) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	patch := map[string]any{"content": content}
	if tags != nil {
		patch["tags"] = tags
	}
	params := url.Values{}
	params.Set("id", backend.Eq(id))
	params.Set("team_id", backend.Eq(e.session.TeamID))
	if err := e.Backend.Update(ctx, knowledgeTable, params, patch); err != nil {
		e.logger().Warn("knowledge update failed", "knowledge_id", id, "error", err)
		return false, err
	}
	return true, nil
}

func (e *Engine) DeleteKnowledge(ctx context.Context, id string) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	body := e.keyBody()
	body["p_knowledge_id"] = id
	if err := e.Backend.RPCBool(ctx, "delete_knowledge", body); err != nil {
		e.logger().Warn("knowledge delete failed", "knowledge_id", id, "error", err)
		return false, err
	}
	return true, nil
}
