package engine

import (
	"context"
	"fmt"
	"strings"

	"colab/internal/domain"
)

const blockerNotConnected = "Not connected"

type CheckpointOptions struct {
	// Hard turns a failed gate into a *CheckpointError.
	Hard         bool
	SkipMentions bool
	CheckTasks   bool
}

type CheckpointResult struct {
	Passed   bool     `json:"passed"`
	Mentions int      `json:"mentions"`
	Tasks    int      `json:"tasks"`
	Blockers []string `json:"blockers"`
}

// CheckpointError aborts a workflow at a hard checkpoint.
type CheckpointError struct {
	Label    string
	Blockers []string
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("hard checkpoint %q failed: %s", e.Label, strings.Join(e.Blockers, "; "))
}

// Checkpoint gates the caller's workflow on unread mentions and, optionally,
// pending tasks assigned to this identity. Both checks run and their
// blockers accumulate. Only a failed hard gate returns an error.
func (e *Engine) Checkpoint(ctx context.Context, label string, opts CheckpointOptions) (CheckpointResult, error) {
	res := CheckpointResult{Passed: true, Blockers: []string{}}
	if err := e.EnsureConnected(ctx); err != nil {
		res.Passed = false
		res.Blockers = append(res.Blockers, blockerNotConnected)
		return e.report(label, opts.Hard, res)
	}

	if !opts.SkipMentions {
		mentions, err := e.Mentions(ctx, DefaultChatLimit)
		if err != nil {
			e.logger().Warn("checkpoint mention check failed", "checkpoint", label, "error", err)
		}
		if n := len(mentions); n > 0 {
			res.Mentions = n
			res.Blockers = append(res.Blockers, fmt.Sprintf("%d unread mentions", n))
			res.Passed = false
		}
	}

	if opts.CheckTasks {
		tasks, err := e.ListTasks(ctx, domain.TaskPending)
		if err != nil {
			e.logger().Warn("checkpoint task check failed", "checkpoint", label, "error", err)
		}
		mine := 0
		for _, t := range tasks {
			if t.IsAssignedTo(e.session.IdentityName) {
				mine++
			}
		}
		if mine > 0 {
			res.Tasks = mine
			res.Blockers = append(res.Blockers, fmt.Sprintf("%d pending tasks", mine))
			res.Passed = false
		}
	}
	return e.report(label, opts.Hard, res)
}

func (e *Engine) report(label string, hard bool, res CheckpointResult) (CheckpointResult, error) {
	if res.Passed {
		e.logger().Info("checkpoint passed", "checkpoint", label)
		return res, nil
	}
	verdict := "warning"
	if hard {
		verdict = "blocked"
	}
	e.logger().Warn("checkpoint "+verdict, "checkpoint", label, "blockers", res.Blockers)
	if hard {
		return res, &CheckpointError{Label: label, Blockers: append([]string(nil), res.Blockers...)}
	}
	return res, nil
}
