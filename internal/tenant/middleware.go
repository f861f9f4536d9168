package tenant

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duskpost/poster/internal/auth"
	"github.com/duskpost/poster/internal/db"
)

// Resolver identifies the tenant for the current request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// HeaderResolver resolves the tenant from the X-Tenant-Slug header.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	slug := r.Header.Get("X-Tenant-Slug")
	if slug == "" {
		return "", fmt.Errorf("missing X-Tenant-Slug header")
	}
	return slug, nil
}

// IdentityResolver resolves the tenant from the auth Identity already
// attached to the request context by internal/auth's middleware, so a
// request is resolved to a tenant exactly once per credential.
type IdentityResolver struct{}

func (IdentityResolver) Resolve(r *http.Request) (string, error) {
	id := auth.FromContext(r.Context())
	if id == nil || id.TenantSlug == "" {
		return "", fmt.Errorf("no tenant slug on request identity")
	}
	return id.TenantSlug, nil
}

// Middleware resolves the tenant, acquires a dedicated pooled
// connection scoped to that tenant's schema via SET search_path, and
// attaches both the tenant Info and the connection to the request
// context. The connection is released back to the pool once the
// handler chain completes.
func Middleware(pool *pgxpool.Pool, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, err := resolver.Resolve(r)
			if err != nil {
				respondErr(w, http.StatusUnauthorized, "tenant resolution failed: "+err.Error())
				return
			}

			q := db.New(pool)
			t, err := q.GetTenantBySlug(r.Context(), slug)
			if err != nil {
				logger.Warn("unknown tenant", "slug", slug, "error", err)
				respondErr(w, http.StatusNotFound, "unknown tenant")
				return
			}

			schema := SchemaName(slug)

			conn, err := pool.Acquire(r.Context())
			if err != nil {
				logger.Error("acquiring tenant connection failed", "slug", slug, "error", err)
				respondErr(w, http.StatusInternalServerError, "database unavailable")
				return
			}
			defer conn.Release()

			if _, err := conn.Exec(r.Context(), fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				logger.Error("setting search_path failed", "schema", schema, "error", err)
				respondErr(w, http.StatusInternalServerError, "database unavailable")
				return
			}

			info := &Info{ID: t.ID, Name: t.Name, Slug: t.Slug, Schema: schema}
			ctx := NewContext(r.Context(), info)
			ctx = NewConnContext(ctx, conn)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
