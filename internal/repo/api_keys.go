package repo

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"

	"colab/internal/domain"
)

// KeyPrefixLen is how much of a credential is stored in clear for lookup
// and display.
const KeyPrefixLen = 10

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// NewCredential returns a fresh cc_ prefixed credential.
func NewCredential() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cc_" + hex.EncodeToString(buf), nil
}

// CreateAPIKey issues a credential for claudeName in the team. The clear
// credential is returned once; only its hash is stored.
func (r Repo) CreateAPIKey(ctx context.Context, teamID, claudeName string) (string, domain.APIKey, error) {
	name := domain.NormalizeName(claudeName)
	if name == "" {
		return "", domain.APIKey{}, errors.New("claude name required")
	}
	cred, err := NewCredential()
	if err != nil {
		return "", domain.APIKey{}, err
	}
	key := domain.APIKey{
		ID:         uuid.NewString(),
		TeamID:     teamID,
		UserID:     uuid.NewString(),
		ClaudeName: name,
		KeyPrefix:  cred[:KeyPrefixLen],
		KeyHash:    HashAPIKey(cred),
		CreatedAt:  r.now(),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return cred, key, nil
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.TeamID == "" {
		return errors.New("team_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	var exec execer = r.DB
	if tx != nil {
		exec = tx
	}
	if key.CreatedAt == "" {
		key.CreatedAt = r.now()
	}
	_, err := exec.ExecContext(ctx, `INSERT INTO api_keys(id,team_id,user_id,claude_name,key_prefix,key_hash,created_at) VALUES (?,?,?,?,?,?,?)`,
		key.ID, key.TeamID, key.UserID, key.ClaudeName, key.KeyPrefix, key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,team_id,user_id,claude_name,key_prefix,key_hash,created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.APIKey
	err := row.Scan(&key.ID, &key.TeamID, &key.UserID, &key.ClaudeName, &key.KeyPrefix, &key.KeyHash, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

// Authenticate resolves a clear credential to its key row.
func (r Repo) Authenticate(ctx context.Context, credential string) (domain.APIKey, error) {
	if strings.TrimSpace(credential) == "" {
		return domain.APIKey{}, ErrNotFound
	}
	return r.GetAPIKeyByHash(ctx, HashAPIKey(credential))
}

// ListAPIKeys returns the team's keys, newest first.
func (r Repo) ListAPIKeys(ctx context.Context, teamID string) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,user_id,claude_name,key_prefix,key_hash,created_at FROM api_keys WHERE team_id=? ORDER BY created_at DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.TeamID, &key.UserID, &key.ClaudeName, &key.KeyPrefix, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
