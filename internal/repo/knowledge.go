package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"colab/internal/domain"
)

type KnowledgeFilter struct {
	TeamID string
	// Contains is matched case-insensitively against content.
	Contains string
	OnlyLive  bool
	Ascending bool
	Limit     int
}

func (r Repo) InsertKnowledge(ctx context.Context, k domain.Knowledge) (domain.Knowledge, error) {
	if strings.TrimSpace(k.Content) == "" {
		return k, errors.New("content required")
	}
	k.ID = uuid.NewString()
	k.CreatedAt = r.now()
	if k.Tags == nil {
		k.Tags = []string{}
	}
	if k.Type == "" {
		k.Type = "lesson"
	}
	tags, err := json.Marshal(k.Tags)
	if err != nil {
		return k, err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO shared_knowledge(id,team_id,project_slug,author,content,tags_json,type,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		k.ID, k.TeamID, nullable(k.ProjectSlug), k.Author, k.Content, string(tags), k.Type, k.CreatedAt)
	if err != nil {
		return k, fmt.Errorf("insert knowledge: %w", err)
	}
	return k, nil
}

func (r Repo) ListKnowledge(ctx context.Context, f KnowledgeFilter) ([]domain.Knowledge, error) {
	clauses := []string{"team_id=?"}
	args := []any{f.TeamID}
	if f.Contains != "" {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Contains)+"%")
	}
	if f.OnlyLive {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	query := `SELECT id,team_id,COALESCE(project_slug,''),author,content,tags_json,type,created_at,deleted_at FROM shared_knowledge WHERE ` +
		strings.Join(clauses, " AND ")
	if f.Ascending {
		query += ` ORDER BY created_at ASC, rowid ASC`
	} else {
		query += ` ORDER BY created_at DESC, rowid DESC`
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
	res := []domain.Knowledge{}
	for rows.Next() {
		var k domain.Knowledge
		var tags string
		var deleted sql.NullString
		if err := rows.Scan(&k.ID, &k.TeamID, &k.ProjectSlug, &k.Author, &k.Content, &tags, &k.Type, &k.CreatedAt, &deleted); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &k.Tags); err != nil {
			k.Tags = []string{}
		}
		k.DeletedAt = stringPtr(deleted)
		res = append(res, k)
	}
	return res, rows.Err()
}

// UpdateKnowledge changes content and, when tags is non-nil, the tags.
func (r Repo) UpdateKnowledge(ctx context.Context, teamID, id string, content *string, tags []string) error {
	var (
		fields []string
		args   []any
	)
	if content != nil {
		fields = append(fields, "content=?")
		args = append(args, *content)
	}
	if tags != nil {
		b, err := json.Marshal(tags)
		if err != nil {
			return err
		}
		fields = append(fields, "tags_json=?")
		args = append(args, string(b))
	}
	if len(fields) == 0 {
		return nil
	}
	query := `UPDATE shared_knowledge SET ` + strings.Join(fields, ",") + ` WHERE id=? AND deleted_at IS NULL`
	args = append(args, id)
	if teamID != "" {
		query += ` AND team_id=?`
		args = append(args, teamID)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SoftDeleteKnowledge(ctx context.Context, teamID, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE shared_knowledge SET deleted_at=? WHERE id=? AND team_id=? AND deleted_at IS NULL`, r.now(), id, teamID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
