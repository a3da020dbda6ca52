package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"retainline/internal/domain"
)

// HashAPIKey returns the stored hash form of a raw API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (r Repo) CreateAPIKey(ctx context.Context, actorID, name, rawKey string) (domain.APIKey, error) {
	k := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   HashAPIKey(rawKey),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id,actor_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		k.ID, k.ActorID, nullable(k.Name), k.KeyHash, k.CreatedAt)
	return k, err
}

func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,actor_id,name,key_hash,created_at FROM api_keys WHERE key_hash=?`, hash).
		Scan(&k.ID, &k.ActorID, &name, &k.KeyHash, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	if name.Valid {
		k.Name = name.String
	}
	return k, err
}

func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,actor_id,COALESCE(name,''),key_hash,created_at FROM api_keys WHERE actor_id=? ORDER BY created_at DESC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.ActorID, &k.Name, &k.KeyHash, &k.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}
