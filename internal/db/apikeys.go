package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIKey is a control-plane credential scoped to one tenant, stored in
// the global schema (so lookup by hash does not need a tenant hint).
type APIKey struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	KeyHash    string
	KeyPrefix  string
	Role       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

func (q *Queries) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	var k APIKey
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, key_hash, key_prefix, role, expires_at, last_used_at, created_at
		 FROM api_keys WHERE key_hash = $1`,
		hash,
	).Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix, &k.Role, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("looking up api key by hash: %w", err)
	}
	return k, nil
}

func (q *Queries) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("updating api key last used %s: %w", id, err)
	}
	return nil
}

type CreateAPIKeyParams struct {
	TenantID  uuid.UUID
	KeyHash   string
	KeyPrefix string
	Role      string
	ExpiresAt *time.Time
}

func (q *Queries) CreateAPIKey(ctx context.Context, p CreateAPIKeyParams) (APIKey, error) {
	var k APIKey
	err := q.db.QueryRow(ctx, `
		INSERT INTO api_keys (tenant_id, key_hash, key_prefix, role, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, key_hash, key_prefix, role, expires_at, last_used_at, created_at`,
		p.TenantID, p.KeyHash, p.KeyPrefix, p.Role, p.ExpiresAt,
	).Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix, &k.Role, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("creating api key: %w", err)
	}
	return k, nil
}
