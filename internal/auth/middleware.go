package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/db"
)

// Middleware authenticates the caller via an X-API-Key header or, in
// development, a bare X-Tenant-Slug header, and stores the resulting
// Identity in the request context. If neither succeeds the request is
// rejected with 401.
func Middleware(pool db.DBTX, devHeaderEnabled bool, logger *slog.Logger) func(http.Handler) http.Handler {
	apikeyAuth := &APIKeyAuthenticator{DB: pool}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if rawKey := r.Header.Get("X-API-Key"); rawKey != "" {
				result, err := apikeyAuth.Authenticate(r.Context(), rawKey)
				if err != nil {
					logger.Warn("API key authentication failed", "error", err)
					respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
					return
				}

				q := db.New(pool)
				t, err := q.GetTenant(r.Context(), result.TenantID)
				if err != nil {
					logger.Error("tenant lookup for API key failed", "tenant_id", result.TenantID, "error", err)
					respondErr(w, http.StatusUnauthorized, "unauthorized", "tenant not found")
					return
				}

				identity = &Identity{
					Subject:    fmt.Sprintf("apikey:%s", result.KeyPrefix),
					Role:       result.Role,
					TenantSlug: t.Slug,
					TenantID:   t.ID,
					APIKeyID:   &result.APIKeyID,
					Method:     MethodAPIKey,
				}

				logger.Debug("authenticated via API key", "key_prefix", result.KeyPrefix, "tenant_slug", t.Slug, "role", result.Role)
			}

			if identity == nil && devHeaderEnabled {
				if slug := r.Header.Get("X-Tenant-Slug"); slug != "" {
					tenantID := uuid.Nil
					if q := db.New(pool); pool != nil {
						if t, err := q.GetTenantBySlug(r.Context(), slug); err == nil {
							tenantID = t.ID
						}
					}
					identity = &Identity{
						Subject:    "dev:anonymous",
						Role:       RoleAdmin,
						TenantSlug: slug,
						TenantID:   tenantID,
						Method:     MethodDev,
					}
					logger.Debug("dev-mode authentication", "tenant_slug", slug)
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
