package engine

import (
	"context"
	"net/url"
	"strings"

	"colab/internal/backend"
	"colab/internal/domain"
)

const instancesTable = "claude_instances"

type HeartbeatOptions struct {
	// Status defaults to active.
	Status string
	// WorkingOn, when set, is stored on the instance after a successful
	// heartbeat. An empty string clears it.
	WorkingOn    *string
	SkipMentions bool
}

type HeartbeatResult struct {
	OK              bool     `json:"ok"`
	Mentions        int      `json:"mentions"`
	MentionProjects []string `json:"mention_projects"`
}

// Heartbeat announces presence on the current project. The returned error
// describes the emission only: a failed mention scan leaves OK untouched.
func (e *Engine) Heartbeat(ctx context.Context, opts HeartbeatOptions) (HeartbeatResult, error) {
	var res HeartbeatResult
	if err := e.EnsureConnected(ctx); err != nil {
		return res, err
	}
	status := opts.Status
	if status == "" {
		status = domain.PresenceActive
	}
	body := e.keyBody()
	body["p_status"] = status
	body["p_project"] = e.session.ProjectSlug
	emitErr := e.Backend.RPCBool(ctx, "heartbeat", body)
	if emitErr != nil {
		e.logger().Warn("heartbeat failed", "error", emitErr)
	} else {
		res.OK = true
		if opts.WorkingOn != nil {
			if err := e.updateWorkingOn(ctx, *opts.WorkingOn); err != nil {
				e.logger().Debug("working_on update failed", "error", err)
			}
		}
	}

	if !opts.SkipMentions {
		mentions, err := e.Mentions(ctx, DefaultChatLimit)
		if err != nil {
			e.logger().Debug("mention scan failed", "error", err)
		}
		res.Mentions = len(mentions)
		seen := map[string]bool{}
		for _, m := range mentions {
			if m.ProjectSlug == "" || seen[m.ProjectSlug] {
				continue
			}
			seen[m.ProjectSlug] = true
			res.MentionProjects = append(res.MentionProjects, m.ProjectSlug)
		}
	}
	return res, emitErr
}

func (e *Engine) updateWorkingOn(ctx context.Context, text string) error {
	inst, err := e.MyInstance(ctx)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("id", backend.Eq(inst.ID))
	return e.Backend.Update(ctx, instancesTable, params, map[string]any{
		"working_on": nullable(truncateRunes(text, domain.MaxWorkingOn)),
	})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// GetChat returns the latest limit messages of the current project, oldest
// first.
func (e *Engine) GetChat(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	body := e.keyBody()
	body["p_project_slug"] = e.session.ProjectSlug
	body["p_limit"] = limit
	var msgs []domain.ChatMessage
	if err := e.Backend.RPC(ctx, "get_chat", body, &msgs); err != nil {
		e.logger().Warn("get chat failed", "error", err)
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Mentions filters the chat window for messages containing "@NAME". The
// match is a plain substring, so "@BLACKOUT" also mentions BLACK.
func (e *Engine) Mentions(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	msgs, err := e.GetChat(ctx, limit)
	if err != nil {
		return nil, err
	}
	tag := "@" + e.session.IdentityName
	var out []domain.ChatMessage
	for _, m := range msgs {
		if strings.Contains(m.Message, tag) {
			out = append(out, m)
		}
	}
	return out, nil
}

// NewMentionsSince returns the mentions newer than lastSeenID, oldest first.
// An empty or unknown id returns every mention in the window.
func (e *Engine) NewMentionsSince(ctx context.Context, lastSeenID string) ([]domain.ChatMessage, error) {
	mentions, err := e.Mentions(ctx, DefaultChatLimit)
	if err != nil || lastSeenID == "" {
		return mentions, err
	}
	start := 0
	for i := len(mentions) - 1; i >= 0; i-- {
		if mentions[i].ID == lastSeenID {
			start = i + 1
			break
		}
	}
	return mentions[start:], nil
}

// WhoOnline lists identities seen within thresholdMinutes. Staleness is
// computed by the backend.
func (e *Engine) WhoOnline(ctx context.Context, thresholdMinutes int) ([]domain.PresenceRecord, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	body := e.keyBody()
	body["p_minutes_threshold"] = thresholdMinutes
	var records []domain.PresenceRecord
	if err := e.Backend.RPC(ctx, "get_online_claudes", body, &records); err != nil {
		e.logger().Warn("who online failed", "error", err)
		return nil, err
	}
	return records, nil
}

// Chat posts a message to the current project.
func (e *Engine) Chat(ctx context.Context, message string, urgent bool) (bool, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return false, err
	}
	body := e.keyBody()
	body["p_message"] = message
	body["p_project_slug"] = e.session.ProjectSlug
	if urgent {
		body["p_urgent"] = true
	}
	if err := e.Backend.RPCBool(ctx, "post_chat", body); err != nil {
		e.logger().Warn("chat failed", "error", err)
		return false, err
	}
	return true, nil
}

// Urgent returns urgent messages for the current project as the backend
// orders them.
func (e *Engine) Urgent(ctx context.Context, limit int) ([]domain.ChatMessage, error) {
	if err := e.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	body := e.keyBody()
	body["p_project_slug"] = e.session.ProjectSlug
	body["p_limit"] = limit
	var msgs []domain.ChatMessage
	if err := e.Backend.RPC(ctx, "get_urgent_messages", body, &msgs); err != nil {
		e.logger().Warn("get urgent failed", "error", err)
		return nil, err
	}
	return msgs, nil
}
