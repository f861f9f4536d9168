// Package db is the Persistence Gateway (C1): typed, sqlc-shaped access
// to tenants, accounts, proxies, schedules, comments, and API profiles.
// Queries wraps anything satisfying DBTX so callers can pass either a
// *pgxpool.Pool or a *pgxpool.Conn acquired and search_path-scoped for
// one tenant, following the teacher's db.New(pool)/db.New(conn) idiom.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool / *pgxpool.Conn / pgx.Tx that
// Queries needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the gateway handle bound to a DBTX.
type Queries struct {
	db DBTX
}

// New binds a Queries handle to a connection or pool.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}
