// Package events appends and reads the emulator's per-instance work log.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"colab/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Details is the optional structured payload of a work-log entry.
type Details map[string]any

// Append records action for the instance. tx may be nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, claudeID, projectID, action string, details Details) (domain.WorkLogEntry, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	entry := domain.WorkLogEntry{
		TS:        w.Now().UTC().Format(time.RFC3339),
		ClaudeID:  claudeID,
		ProjectID: projectID,
		Action:    action,
	}
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return entry, fmt.Errorf("marshal work details: %w", err)
		}
		entry.Details = string(data)
	}
	const q = `INSERT INTO work_log(ts,claude_id,project_id,action,details) VALUES (?,?,?,?,?)`
	args := []any{entry.TS, claudeID, nullable(projectID), action, nullable(entry.Details)}
	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, q, args...)
	} else {
		res, err = w.DB.ExecContext(ctx, q, args...)
	}
	if err != nil {
		return entry, fmt.Errorf("append work log: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

// List returns an instance's entries, newest first.
func (w Writer) List(ctx context.Context, claudeID string, limit int) ([]domain.WorkLogEntry, error) {
	query := `SELECT id,ts,claude_id,COALESCE(project_id,''),action,COALESCE(details,'') FROM work_log WHERE claude_id=? ORDER BY id DESC`
	args := []any{claudeID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WorkLogEntry{}
	for rows.Next() {
		var e domain.WorkLogEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.ClaudeID, &e.ProjectID, &e.Action, &e.Details); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ParseDetails decodes a details string as sent over the wire. Empty input
// is nil; text that is not a JSON object is kept under "note".
func ParseDetails(raw string) Details {
	if raw == "" {
		return nil
	}
	var d Details
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Details{"note": raw}
	}
	return d
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
