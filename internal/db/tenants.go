package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tenant is a row in the global tenants table.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	Config    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (q *Queries) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, slug, config, created_at, updated_at FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Config, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx,
		`SELECT id, name, slug, config, created_at, updated_at FROM tenants WHERE slug = $1`,
		slug,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Config, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("getting tenant %q: %w", slug, err)
	}
	return t, nil
}

func (q *Queries) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx,
		`SELECT id, name, slug, config, created_at, updated_at FROM tenants WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Config, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("getting tenant %s: %w", id, err)
	}
	return t, nil
}

type CreateTenantParams struct {
	Name   string
	Slug   string
	Config []byte
}

func (q *Queries) CreateTenant(ctx context.Context, p CreateTenantParams) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, config) VALUES ($1, $2, $3)
		 RETURNING id, name, slug, config, created_at, updated_at`,
		p.Name, p.Slug, p.Config,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Config, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

func (q *Queries) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting tenant %s: %w", id, err)
	}
	return nil
}
